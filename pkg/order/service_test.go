package order

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// memRepo 内存仓库
type memRepo struct {
	mu      sync.Mutex
	records map[int64]*Record
	fills   map[int64][]*FillRecord
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[int64]*Record{}, fills: map[int64][]*FillRecord{}}
}

func (m *memRepo) Create(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.OrderID]; ok {
		return nil
	}
	cp := *r
	m.records[r.OrderID] = &cp
	return nil
}

func (m *memRepo) AddFill(_ context.Context, f *FillRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills[f.OrderID] = append(m.fills[f.OrderID], f)
	return nil
}

func (m *memRepo) GetByOrderID(_ context.Context, _ string, id int64) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, gorm.ErrRecordNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) GetActiveByFund(_ context.Context, _ string, fundID string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.records {
		if r.FundID == fundID && r.IsActive() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) GetFills(_ context.Context, _ string, id int64) ([]*FillRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fills[id], nil
}

func (m *memRepo) UpdateFill(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.records[r.OrderID]
	cur.FilledQty, cur.AvgPrice, cur.State = r.FilledQty, r.AvgPrice, r.State
	return nil
}

func (m *memRepo) UpdateState(_ context.Context, _ string, id int64, s OrderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id].State = s
	return nil
}

func TestService_OnTicketEvent(t *testing.T) {
	repo := newMemRepo()
	svc := NewService("pf-1", repo)
	ctx := context.Background()

	snap := Order{ID: 5, FundID: "f1", Ticker: "AAPL", Quantity: d("10"), Type: TypeMarket, State: StateSubmitted, CreatedUTC: time.Now()}

	// 已报: 建档
	require.NoError(t, svc.OnTicketEvent(ctx, TicketEvent{OrderID: 5, State: StateSubmitted, Snapshot: &snap}))

	// 两笔成交
	f1 := Fill{FillPrice: d("10"), FillQuantity: d("5")}
	f2 := Fill{FillPrice: d("12"), FillQuantity: d("5")}
	require.NoError(t, svc.OnTicketEvent(ctx, TicketEvent{OrderID: 5, State: StatePartialFilled, Fill: &f1}))
	require.NoError(t, svc.OnTicketEvent(ctx, TicketEvent{OrderID: 5, State: StateFilled, Fill: &f2}))

	rec, err := svc.GetOrder(ctx, 5)
	require.NoError(t, err)
	assert.True(t, rec.AvgPrice.Equal(d("11")), "avg=%s", rec.AvgPrice)
	assert.True(t, rec.FilledQty.Equal(d("10")))
	assert.Equal(t, StateFilled, rec.State)

	avg, err := svc.RecomputeAverage(ctx, 5)
	require.NoError(t, err)
	assert.True(t, avg.Equal(d("11")))

	active, err := svc.GetActiveOrders(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestService_UnknownOrderWithoutSnapshot(t *testing.T) {
	svc := NewService("pf-1", newMemRepo())
	assert.NoError(t, svc.OnTicketEvent(context.Background(), TicketEvent{OrderID: 42, State: StateCancelled}))
}

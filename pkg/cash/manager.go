// 文件: pkg/cash/manager.go
// 现金管理器: 账户级与基金级的已结算/未结算现金
//
// 账户账本是所有基金账本与账户级动作的汇总，
// ProcessFund 同时记两本账。

package cash

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quant.com/pkg/security"
)

var ErrUnknownAction = errors.New("unknown cash action")

// JournalPublisher 流水发布
type JournalPublisher interface {
	PublishJournal(e *JournalEvent) error
}

// unsettledEntry 待结算资金
type unsettledEntry struct {
	fundID   string
	currency security.CurrencyType
	amount   decimal.Decimal
	settleAt time.Time
}

// Manager 现金管理器
type Manager struct {
	portfolioID string

	mu      sync.Mutex
	account map[security.CurrencyType]*CashPosition
	funds   map[string]map[security.CurrencyType]*CashPosition
	pending []unsettledEntry
	seq     uint64

	pubMu      sync.RWMutex
	publishers []JournalPublisher
}

// NewManager 创建现金管理器
func NewManager(portfolioID string) *Manager {
	return &Manager{
		portfolioID: portfolioID,
		account:     make(map[security.CurrencyType]*CashPosition),
		funds:       make(map[string]map[security.CurrencyType]*CashPosition),
	}
}

// AddPublisher 注册流水发布器
func (m *Manager) AddPublisher(p JournalPublisher) {
	m.pubMu.Lock()
	m.publishers = append(m.publishers, p)
	m.pubMu.Unlock()
}

// =============================================================================
// 现金动作
// =============================================================================

// Process 账户级现金动作
func (m *Manager) Process(action ActionType, currency security.CurrencyType, amount decimal.Decimal) error {
	return m.ProcessFund("", action, currency, amount)
}

// ProcessFund 基金级现金动作，fundID 为空时只记账户账本
func (m *Manager) ProcessFund(fundID string, action ActionType, currency security.CurrencyType, amount decimal.Decimal) error {
	if action == ActionSync && fundID != "" {
		return fmt.Errorf("%w: sync is account level only", ErrUnknownAction)
	}

	m.mu.Lock()
	events, err := m.applyLocked(fundID, action, currency, amount)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.publish(events)
	return nil
}

// AddUnsettled 记入未结算资金，到 settleAt 后由 Settle 转为已结算
func (m *Manager) AddUnsettled(fundID string, currency security.CurrencyType, amount decimal.Decimal, settleAt time.Time) error {
	m.mu.Lock()
	events, err := m.applyLocked(fundID, ActionUnsettled, currency, amount)
	if err == nil {
		m.pending = append(m.pending, unsettledEntry{
			fundID:   fundID,
			currency: currency,
			amount:   amount,
			settleAt: settleAt,
		})
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.publish(events)
	return nil
}

// Settle 结算所有 settleAt <= now 的资金，返回结算笔数
func (m *Manager) Settle(now time.Time) int {
	m.mu.Lock()
	var events []*JournalEvent
	kept := m.pending[:0]
	settled := 0
	for _, e := range m.pending {
		if e.settleAt.After(now) {
			kept = append(kept, e)
			continue
		}
		evs, err := m.applyLocked(e.fundID, ActionSettle, e.currency, e.amount)
		if err != nil {
			log.Printf("[Cash] settle error: fund=%s, currency=%s, err=%v", e.fundID, e.currency, err)
			continue
		}
		events = append(events, evs...)
		settled++
	}
	m.pending = kept
	m.mu.Unlock()

	m.publish(events)
	return settled
}

// PendingSettlements 待结算笔数
func (m *Manager) PendingSettlements() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// applyLocked 同时更新基金账本和账户账本
func (m *Manager) applyLocked(fundID string, action ActionType, currency security.CurrencyType, amount decimal.Decimal) ([]*JournalEvent, error) {
	var events []*JournalEvent

	if fundID != "" {
		book, ok := m.funds[fundID]
		if !ok {
			book = make(map[security.CurrencyType]*CashPosition)
			m.funds[fundID] = book
		}
		ev, err := m.applyToBook(book, fundID, action, currency, amount)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	ev, err := m.applyToBook(m.account, "", action, currency, amount)
	if err != nil {
		return nil, err
	}
	return append(events, ev), nil
}

func (m *Manager) applyToBook(book map[security.CurrencyType]*CashPosition, fundID string, action ActionType, currency security.CurrencyType, amount decimal.Decimal) (*JournalEvent, error) {
	pos, ok := book[currency]
	if !ok {
		pos = &CashPosition{Currency: currency}
	}
	before := *pos

	switch action {
	case ActionSync:
		pos.Settled = amount
	case ActionDeposit, ActionCredit:
		pos.Settled = pos.Settled.Add(amount.Abs())
	case ActionWithdraw, ActionDebit:
		pos.Settled = pos.Settled.Sub(amount.Abs())
	case ActionUnsettled:
		pos.Unsettled = pos.Unsettled.Add(amount)
	case ActionSettle:
		pos.Unsettled = pos.Unsettled.Sub(amount)
		pos.Settled = pos.Settled.Add(amount)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, action)
	}
	book[currency] = pos

	m.seq++
	return &JournalEvent{
		EventID:         uuid.NewString(),
		Seq:             m.seq,
		PortfolioID:     m.portfolioID,
		FundID:          fundID,
		Currency:        currency,
		Action:          action,
		Amount:          amount,
		SettledBefore:   before.Settled,
		SettledAfter:    pos.Settled,
		UnsettledBefore: before.Unsettled,
		UnsettledAfter:  pos.Unsettled,
		CreatedAt:       time.Now(),
	}, nil
}

func (m *Manager) publish(events []*JournalEvent) {
	if len(events) == 0 {
		return
	}
	m.pubMu.RLock()
	pubs := m.publishers
	m.pubMu.RUnlock()

	for _, p := range pubs {
		for _, e := range events {
			if err := p.PublishJournal(e); err != nil {
				log.Printf("[Cash] publish journal error: event=%s, err=%v", e.EventID, err)
			}
		}
	}
}

// =============================================================================
// 查询
// =============================================================================

// GetCashPositions 现金快照，不传 fundID 返回账户级
func (m *Manager) GetCashPositions(fundID ...string) map[security.CurrencyType]CashPosition {
	m.mu.Lock()
	defer m.mu.Unlock()

	book := m.account
	if len(fundID) > 0 && fundID[0] != "" {
		book = m.funds[fundID[0]]
	}
	out := make(map[security.CurrencyType]CashPosition, len(book))
	for c, p := range book {
		out[c] = *p
	}
	return out
}

// Settled 已结算现金
func (m *Manager) Settled(fundID string, currency security.CurrencyType) decimal.Decimal {
	return m.GetCashPositions(fundID)[currency].Settled
}

// FundIDs 有现金账本的基金
func (m *Manager) FundIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.funds))
	for id := range m.funds {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

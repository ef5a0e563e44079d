package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicket_Lifecycle(t *testing.T) {
	tk := NewSubmitTicket("f", "AAPL", TypeMarket, d("1"), time.Now())
	assert.Equal(t, int64(-1), tk.OrderID())
	assert.Equal(t, TicketUnprocessed, tk.State())

	tk.SetProcessing()
	assert.Equal(t, TicketProcessing, tk.State())

	tk.SetOrderID(7)
	tk.Finish(TicketProcessed, Success(0))

	resp, err := tk.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.OrderID)
	assert.False(t, resp.IsError())
	assert.True(t, resp.Processed)

	// 只生效一次
	tk.Finish(TicketError, ErrorResponse(7, CodeProcessingError, "late"))
	assert.Equal(t, TicketProcessed, tk.State())
	assert.Equal(t, CodeNone, tk.Response().Code)
}

func TestTicket_WaitTimeout(t *testing.T) {
	tk := NewCancelTicket("f", 3, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tk.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestErrorResponse_DefaultMessage(t *testing.T) {
	r := ErrorResponse(1, CodeOrderQuantityZero, "")
	assert.Equal(t, "OrderQuantityZero", r.Message)
	assert.True(t, r.IsError())
}

func TestTicket_Types(t *testing.T) {
	var tickets = []Ticket{
		NewSubmitTicket("", "X", TypeMarket, d("1"), time.Now()),
		NewCancelTicket("", 1, time.Now()),
		NewUpdateTicket("", 1, Update{}, time.Now()),
	}
	assert.Equal(t, TicketSubmit, tickets[0].Type())
	assert.Equal(t, TicketCancel, tickets[1].Type())
	assert.Equal(t, TicketUpdate, tickets[2].Type())
	assert.Equal(t, int64(1), tickets[1].Base().OrderID())
}

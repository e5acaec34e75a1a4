package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credora/credora/internal/lending"
	"github.com/credora/credora/internal/logging"
)

type captureNotifier struct {
	sent []Message
	err  error
}

func (c *captureNotifier) Send(_ context.Context, m Message) error {
	c.sent = append(c.sent, m)
	return c.err
}

func loan() lending.Record {
	return lending.Record{
		LoanID:   "loan-1",
		Borrower: "0x1234567890123456789012345678901234567890",
		Amount:   decimal.RequireFromString("2"),
		DueDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLoanNotifierMessages(t *testing.T) {
	capture := &captureNotifier{}
	n := NewLoanNotifier(capture, logging.Discard())

	n.LoanEvent(context.Background(), lending.Event{Kind: lending.EventLoanApproved, Record: loan()})
	n.LoanEvent(context.Background(), lending.Event{Kind: lending.EventLoanRepaid, Record: loan()})
	n.LoanEvent(context.Background(), lending.Event{Kind: lending.EventLoanDefaulted, Record: loan()})
	n.LoanEvent(context.Background(), lending.Event{Kind: "Unknown", Record: loan()})

	require.Len(t, capture.sent, 3)
	assert.Equal(t, KindLoanApproved, capture.sent[0].Kind)
	assert.Equal(t, loan().Borrower, capture.sent[0].Destination)
	assert.Equal(t, "Loan loan-1 of 2 ETH approved, 2.1 ETH due by 2026-03-01", capture.sent[0].Body)
	assert.Equal(t, KindLoanRepaid, capture.sent[1].Kind)
	assert.Equal(t, KindLoanDefaulted, capture.sent[2].Kind)
}

func TestLoanNotifierSwallowsDeliveryErrors(t *testing.T) {
	capture := &captureNotifier{err: errors.New("smtp down")}
	n := NewLoanNotifier(capture, logging.Discard())
	assert.NotPanics(t, func() {
		n.LoanEvent(context.Background(), lending.Event{Kind: lending.EventLoanRepaid, Record: loan()})
	})
	assert.Len(t, capture.sent, 1)
}

func TestLoggerNotifierNil(t *testing.T) {
	var n *LoggerNotifier
	assert.NoError(t, n.Send(context.Background(), Message{Kind: KindLoanRepaid}))
	assert.NoError(t, NewLoggerNotifier(logging.Discard()).Send(context.Background(), Message{Kind: KindLoanRepaid}))
}

package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/credora/credora/internal/lending"
)

const (
	KindLoanApproved  = "loan_approved"
	KindLoanRepaid    = "loan_repaid"
	KindLoanDefaulted = "loan_defaulted"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// LoanNotifier tells borrowers about loan state changes.
type LoanNotifier struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewLoanNotifier adapts a Notifier to lending events.
func NewLoanNotifier(n Notifier, logger *slog.Logger) *LoanNotifier {
	return &LoanNotifier{notifier: n, logger: logger}
}

// LoanEvent implements lending.EventSink. Delivery failures are logged only.
func (l *LoanNotifier) LoanEvent(ctx context.Context, e lending.Event) {
	msg, ok := loanMessage(e)
	if !ok {
		return
	}
	if err := l.notifier.Send(ctx, msg); err != nil {
		l.logger.Warn("loan notification failed", slog.String("borrower", e.Record.Borrower), slog.Any("error", err))
	}
}

func loanMessage(e lending.Event) (Message, bool) {
	r := e.Record
	msg := Message{Destination: r.Borrower}
	switch e.Kind {
	case lending.EventLoanApproved:
		msg.Kind = KindLoanApproved
		msg.Body = fmt.Sprintf("Loan %s of %s ETH approved, %s ETH due by %s",
			r.LoanID, r.Amount.String(), r.AmountDue().String(), r.DueDate.Format("2006-01-02"))
	case lending.EventLoanRepaid:
		msg.Kind = KindLoanRepaid
		msg.Body = fmt.Sprintf("Loan %s repaid", r.LoanID)
	case lending.EventLoanDefaulted:
		msg.Kind = KindLoanDefaulted
		msg.Body = fmt.Sprintf("Loan %s is past due and marked defaulted", r.LoanID)
	default:
		return Message{}, false
	}
	return msg, true
}

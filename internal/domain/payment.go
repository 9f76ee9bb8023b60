package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodUPI  PaymentMethod = "UPI"
	PaymentMethodCash PaymentMethod = "Cash"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	for _, m := range []PaymentMethod{PaymentMethodUPI, PaymentMethodCash} {
		if strings.EqualFold(strings.TrimSpace(s), string(m)) {
			return m, nil
		}
	}
	return "", InvalidInputf("unknown payment method %q", s)
}

type PaymentStatus string

const (
	PaymentPending      PaymentStatus = "Pending"
	PaymentSuccess      PaymentStatus = "Success"
	PaymentFailed       PaymentStatus = "Failed"
	PaymentUPICompleted PaymentStatus = "UPI-completed"
)

// ParsePaymentStatus returns the canonical spelling of s.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	for _, st := range []PaymentStatus{PaymentPending, PaymentSuccess, PaymentFailed, PaymentUPICompleted} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrInvalidPaymentStatus, s)
}

// Payment lives inside its order; it has no identity of its own.
type Payment struct {
	Method        PaymentMethod   `json:"method"`
	Status        PaymentStatus   `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transactionId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

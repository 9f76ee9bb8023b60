package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidInput      = errors.New("invalid input")
	ErrCouponInvalid     = errors.New("coupon invalid")
	ErrCouponExhausted   = errors.New("coupon exhausted")
	ErrConflict          = errors.New("conflict")
	ErrExternalFailure   = errors.New("external failure")
)

var (
	ErrOrderNotFound        = fmt.Errorf("order %w", ErrNotFound)
	ErrNoPaymentFound       = fmt.Errorf("payment %w", ErrNotFound)
	ErrCouponNotFound       = fmt.Errorf("coupon %w", ErrNotFound)
	ErrResourceNotFound     = fmt.Errorf("resource %w", ErrNotFound)
	ErrInvalidPaymentStatus = fmt.Errorf("%w: payment status", ErrInvalidInput)
	ErrDuplicateCoupon      = fmt.Errorf("%w: coupon code already exists", ErrInvalidInput)
	ErrDuplicateResource    = fmt.Errorf("%w: resource number already exists", ErrInvalidInput)
	ErrCodeGenerationFailed = fmt.Errorf("%w: code generation failed", ErrExternalFailure)
	ErrStorageTimeout       = fmt.Errorf("%w: storage timeout", ErrExternalFailure)
)

// CouponInvalidReason says why a coupon cannot be applied.
type CouponInvalidReason string

const (
	ReasonNotFound     CouponInvalidReason = "not-found"
	ReasonInactive     CouponInvalidReason = "inactive"
	ReasonExpired      CouponInvalidReason = "expired"
	ReasonBelowMinimum CouponInvalidReason = "below-minimum"
	ReasonExhausted    CouponInvalidReason = "exhausted"
)

type CouponInvalidError struct {
	Code   string
	Reason CouponInvalidReason
}

func NewCouponInvalid(code string, reason CouponInvalidReason) *CouponInvalidError {
	return &CouponInvalidError{Code: code, Reason: reason}
}

func (e *CouponInvalidError) Error() string {
	return fmt.Sprintf("coupon %q invalid: %s", e.Code, e.Reason)
}

func (e *CouponInvalidError) Is(target error) bool {
	return target == ErrCouponInvalid
}

// FanOutError reports that a resource was released but some customer
// records may still cache its number.
type FanOutError struct {
	ResourceNumber int
	Err            error
}

func (e *FanOutError) Error() string {
	return fmt.Sprintf("clear customers for resource %d: %v", e.ResourceNumber, e.Err)
}

func (e *FanOutError) Unwrap() []error {
	return []error{ErrExternalFailure, e.Err}
}

// InvalidInputf returns an ErrInvalidInput carrying a formatted detail.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

package refund

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/noah-isme/toko-refunds/internal/common"
	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
)

// Reason classifies why a refund request failed validation.
type Reason string

const (
	NonPositiveAmount Reason = "NON_POSITIVE_AMOUNT"
	ExceedsCap        Reason = "EXCEEDS_CAP"
	FeeExceedsCap     Reason = "FEE_EXCEEDS_CAP"
	NegativeAmount    Reason = "NEGATIVE_AMOUNT"
	UnknownFee        Reason = "UNKNOWN_FEE"
	ItemMismatch      Reason = "ITEM_MISMATCH"
)

// ValidationError reports a refund request that must not be submitted.
type ValidationError struct {
	Reason  Reason
	FeeType string
	Total   pricing.Money
	Cap     pricing.Money
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case NonPositiveAmount:
		return "refund: total must be greater than zero"
	case ExceedsCap:
		return fmt.Sprintf("refund: total %d exceeds maximum refundable %d", e.Total, e.Cap)
	case FeeExceedsCap:
		return fmt.Sprintf("refund: fee %q amount %d exceeds cap %d", e.FeeType, e.Total, e.Cap)
	case NegativeAmount:
		if e.FeeType != "" {
			return fmt.Sprintf("refund: fee %q amount is negative", e.FeeType)
		}
		return "refund: base amount is negative"
	case UnknownFee:
		return fmt.Sprintf("refund: item has no fee %q", e.FeeType)
	case ItemMismatch:
		return "refund: request does not target this item"
	default:
		return "refund: invalid request"
	}
}

// Is matches any ValidationError carrying the same Reason.
func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	if !errors.As(target, &other) {
		return false
	}
	return other.Reason == e.Reason
}

var (
	ErrNonPositiveAmount = &ValidationError{Reason: NonPositiveAmount}
	ErrExceedsCap        = &ValidationError{Reason: ExceedsCap}
	ErrFeeExceedsCap     = &ValidationError{Reason: FeeExceedsCap}
	ErrNegativeAmount    = &ValidationError{Reason: NegativeAmount}
	ErrUnknownFee        = &ValidationError{Reason: UnknownFee}
	ErrItemMismatch      = &ValidationError{Reason: ItemMismatch}

	// ErrSubmissionFailed is returned when the refund-issuing service rejects or errors.
	ErrSubmissionFailed = errors.New("refund: submission failed")
	// ErrSubmissionInFlight is returned when a confirm arrives while one is pending.
	ErrSubmissionInFlight = errors.New("refund: submission already in flight")
	// ErrInvalidState is returned when a dialog operation does not fit its current state.
	ErrInvalidState = errors.New("refund: invalid dialog state")
	// ErrDialogNotFound is returned for unknown or expired dialog ids.
	ErrDialogNotFound = errors.New("refund: dialog not found")
)

// UserMessage is the inline message shown for err in the confirmation dialog.
func UserMessage(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		switch verr.Reason {
		case NonPositiveAmount:
			return "Refund amount must be greater than zero."
		case ExceedsCap:
			return "Refund amount exceeds the maximum refundable for this item."
		case FeeExceedsCap:
			return fmt.Sprintf("The %s refund exceeds its refundable limit.", verr.FeeType)
		case NegativeAmount:
			return "Refund amounts cannot be negative."
		case UnknownFee:
			return fmt.Sprintf("The %s fee does not belong to this item.", verr.FeeType)
		default:
			return "The refund request is not valid for this item."
		}
	case errors.Is(err, ErrSubmissionInFlight):
		return "A refund is already being processed."
	case errors.Is(err, ErrSubmissionFailed):
		return "The refund could not be issued. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}

// ToAppError maps refund and store errors onto the API error envelope.
func ToAppError(err error) *common.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := common.AsAppError(err); ok {
		return appErr
	}
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		details := map[string]any{"reason": string(verr.Reason)}
		if verr.FeeType != "" {
			details["feeType"] = verr.FeeType
		}
		if verr.Reason == ExceedsCap || verr.Reason == FeeExceedsCap {
			details["requested"] = pricing.Amount(verr.Total)
			details["cap"] = pricing.Amount(verr.Cap)
		}
		return common.NewAppError(string(verr.Reason), UserMessage(err), http.StatusUnprocessableEntity, err).WithDetails(details)
	case errors.Is(err, orderitem.ErrNotFound):
		return common.NewAppError("ITEM_NOT_FOUND", "order item not found", http.StatusNotFound, err)
	case errors.Is(err, orderitem.ErrNotLoaded):
		return common.NewAppError("ITEMS_LOADING", "order items are still loading", http.StatusServiceUnavailable, err)
	case errors.Is(err, ErrDialogNotFound):
		return common.NewAppError("DIALOG_NOT_FOUND", "refund dialog not found", http.StatusNotFound, err)
	case errors.Is(err, ErrSubmissionInFlight):
		return common.NewAppError("SUBMISSION_IN_FLIGHT", UserMessage(err), http.StatusConflict, err)
	case errors.Is(err, ErrInvalidState):
		return common.NewAppError("INVALID_STATE", "dialog cannot do that in its current state", http.StatusConflict, err)
	case errors.Is(err, ErrSubmissionFailed):
		return common.NewAppError("SUBMISSION_FAILED", UserMessage(err), http.StatusBadGateway, err)
	default:
		return common.NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
	}
}

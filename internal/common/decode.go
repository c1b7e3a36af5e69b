package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/toko-refunds/internal/pricing"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validator exposes the shared validator instance.
func Validator() *validator.Validate { return validate }

// DecodeJSON decodes the request body into dst and runs struct validation. The
// returned error is always an *AppError with status 400.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return NewAppError("BAD_REQUEST", "request body required", http.StatusBadRequest, nil)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return NewAppError("BAD_REQUEST", "request body required", http.StatusBadRequest, err)
		}
		if errors.Is(err, pricing.ErrAmountPrecision) {
			return NewAppError("INVALID_AMOUNT", "amounts may have at most two decimal places", http.StatusBadRequest, err)
		}
		if errors.Is(err, pricing.ErrAmountRange) {
			return NewAppError("INVALID_AMOUNT", "amount is out of range", http.StatusBadRequest, err)
		}
		return NewAppError("BAD_REQUEST", "invalid json payload", http.StatusBadRequest, err).
			WithDetails(map[string]any{"error": err.Error()})
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) *AppError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewAppError("VALIDATION_FAILED", "invalid request", http.StatusBadRequest, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Namespace()
		if idx := strings.Index(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		fields[name] = describeTag(fe)
	}
	return NewAppError("VALIDATION_FAILED", "invalid request", http.StatusBadRequest, err).
		WithDetails(map[string]any{"fields": fields})
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must contain at least %s entries", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	default:
		return "failed " + fe.Tag()
	}
}

package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"scheduledpayments/internal/types"
)

// ibanPattern is a structural IBAN check: country code, two check digits and
// 11 to 30 alphanumerics. The mod-97 checksum is left to the transfer service.
var ibanPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator to register domain-specific rules.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator and registers custom validation tags:
//   - iban_like: structural IBAN shape, case and spaces ignored.
//   - currency: ISO 4217 alphabetic code, case ignored.
//   - frequency: one of the supported schedule frequencies.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	mustRegister(v, "iban_like", validateIBANLike)
	mustRegister(v, "currency", func(fl validator.FieldLevel) bool {
		code := strings.ToUpper(strings.TrimSpace(fl.Field().String()))
		return len(code) == 3 && v.Var(code, "iso4217") == nil
	})
	mustRegister(v, "frequency", func(fl validator.FieldLevel) bool {
		return types.Frequency(fl.Field().String()).IsValid()
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("registering validation %q: %v", tag, err))
	}
}

func validateIBANLike(fl validator.FieldLevel) bool {
	iban := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(fl.Field().String()), " ", ""))
	return ibanPattern.MatchString(iban)
}

// ValidateStruct validates s against its struct tags. Failures are returned as
// a single *types.AppError whose code reflects the first failing field and
// whose details carry every failure under "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		v.logger.Error("invalid validation target", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request could not be validated", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewAppError(types.ErrCodeValidationFailed, "request validation failed", err)
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fieldPath(fe),
			Code:    tagToErrorCode(fe.Tag()),
			Message: fieldMessage(fe),
		})
	}

	first := out[0]
	return types.NewAppErrorWithDetails(types.ErrorCode(first.Code), first.Message, nil,
		map[string]any{"validation_errors": out})
}

// fieldPath strips the root struct name from the namespace: "createRequest.amount.currency"
// becomes "amount.currency".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "iban_like":
		return field + " must be a valid IBAN"
	case "currency":
		return field + " must be an ISO 4217 currency code"
	case "frequency":
		return field + " must be one of ONCE, DAILY, WEEKLY, MONTHLY"
	default:
		return fmt.Sprintf("%s failed the %q rule", field, fe.Tag())
	}
}

// tagToErrorCode maps a validator tag to the error code reported to clients.
func tagToErrorCode(tag string) string {
	switch tag {
	case "required":
		return string(types.ErrCodeValidationMissingField)
	case "iban_like":
		return string(types.ErrCodeValidationInvalidBeneficiary)
	case "currency", "iso4217":
		return string(types.ErrCodeValidationInvalidCurrency)
	case "frequency":
		return string(types.ErrCodeValidationInvalidSchedule)
	default:
		return string(types.ErrCodeValidationFailed)
	}
}

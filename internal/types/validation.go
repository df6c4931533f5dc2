package types

import (
	"fmt"
	"strings"
	"time"
)

// Validation constraint constants.
const (
	MaxDescriptionLength = 500
	MaxUpcomingLimit     = 500
	MaxIDLength          = 64
	MaxDayOfMonth        = 31
)

// ValidateAmount checks the value-level rules of an amount.
func ValidateAmount(a Amount) error {
	if !a.Value.IsPositive() {
		return NewAppError(ErrCodeValidationInvalidAmount, "amount.value must be greater than zero", nil)
	}
	if strings.TrimSpace(a.Currency) == "" {
		return NewAppError(ErrCodeValidationInvalidCurrency, "amount.currency is required", nil)
	}
	return nil
}

// ValidateBeneficiary checks that both beneficiary fields are present.
func ValidateBeneficiary(b Beneficiary) error {
	if strings.TrimSpace(b.Name) == "" || strings.TrimSpace(b.IBAN) == "" {
		return NewAppError(ErrCodeValidationInvalidBeneficiary, "beneficiary.name and beneficiary.iban are required", nil)
	}
	return nil
}

// ValidateSchedule checks the schedule shape and that the first due date is
// strictly after now. Equal-to-now is rejected.
func ValidateSchedule(s Schedule, now time.Time) error {
	if !s.Frequency.IsValid() {
		return NewAppError(ErrCodeValidationInvalidSchedule,
			fmt.Sprintf("schedule.frequency must be one of ONCE, DAILY, WEEKLY, MONTHLY; got %q", s.Frequency), nil)
	}

	var due *time.Time
	field := "schedule.executionDate"
	if s.Frequency == FrequencyOnce {
		if s.NextExecutionDate != nil || s.EndDate != nil {
			return NewAppError(ErrCodeValidationInvalidSchedule, "ONCE schedules accept only executionDate", nil)
		}
		due = s.ExecutionDate
	} else {
		if s.ExecutionDate != nil {
			return NewAppError(ErrCodeValidationInvalidSchedule, "recurring schedules use nextExecutionDate, not executionDate", nil)
		}
		due = s.NextExecutionDate
		field = "schedule.nextExecutionDate"
	}
	if due == nil || due.IsZero() {
		return NewAppErrorWithDetails(ErrCodeValidationMissingField, field+" is required", nil,
			map[string]any{"field": field})
	}
	if !due.After(now) {
		return NewAppErrorWithDetails(ErrCodeValidationDateNotInFuture, field+" must be in the future", nil,
			map[string]any{"field": field, "now": now.UTC().Format(time.RFC3339)})
	}
	if s.EndDate != nil && !s.EndDate.After(*due) {
		return NewAppError(ErrCodeValidationInvalidSchedule, "schedule.endDate must be after the first due date", nil)
	}
	if s.DayOfMonth != 0 {
		if s.Frequency != FrequencyMonthly {
			return NewAppError(ErrCodeValidationInvalidSchedule, "schedule.dayOfMonth applies only to MONTHLY schedules", nil)
		}
		if s.DayOfMonth < 1 || s.DayOfMonth > MaxDayOfMonth {
			return NewAppError(ErrCodeValidationInvalidSchedule, "schedule.dayOfMonth must be between 1 and 31", nil)
		}
	}
	return nil
}

package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	IntakeErrorBadInput         = "INTAKE_BAD_INPUT"
	IntakeErrorTenantNotFound   = "INTAKE_TENANT_NOT_FOUND"
	IntakeErrorTenantInactive   = "INTAKE_TENANT_INACTIVE"
	IntakeErrorCapacityExceeded = "INTAKE_CAPACITY_EXCEEDED"
	IntakeErrorRuleInvalid      = "INTAKE_RULE_INVALID"
	IntakeErrorHandlerFailed    = "INTAKE_HANDLER_FAILED"
	IntakeErrorConflict         = "INTAKE_CONFLICT"
	IntakeErrorInternal         = "INTAKE_INTERNAL_ERROR"
)

func intakeErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureIntakeErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "tenant not found"):
		return newIntakeError(err.Error(), goerrors.CategoryNotFound, IntakeErrorTenantNotFound)
	case strings.Contains(msg, "inactive"), strings.Contains(msg, "not live"):
		return newIntakeError(err.Error(), goerrors.CategoryOperation, IntakeErrorTenantInactive)
	case strings.Contains(msg, "capacity"), strings.Contains(msg, "queue is full"):
		return newIntakeError(err.Error(), goerrors.CategoryRateLimit, IntakeErrorCapacityExceeded)
	case strings.Contains(msg, "rule condition"), strings.Contains(msg, "rule action"):
		return newIntakeError(err.Error(), goerrors.CategoryBadInput, IntakeErrorRuleInvalid)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "unknown"):
		return newIntakeError(err.Error(), goerrors.CategoryBadInput, IntakeErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureIntakeErrorEnvelope(mapped)
}

func newIntakeError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureIntakeErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureIntakeErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = intakeHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultIntakeTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultIntakeTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return IntakeErrorBadInput
	case goerrors.CategoryNotFound:
		return IntakeErrorTenantNotFound
	case goerrors.CategoryConflict:
		return IntakeErrorConflict
	case goerrors.CategoryRateLimit:
		return IntakeErrorCapacityExceeded
	case goerrors.CategoryOperation:
		return IntakeErrorHandlerFailed
	default:
		return IntakeErrorInternal
	}
}

func intakeHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// MapError converts any error into the intake error envelope. Packages in
// this module use it at their public boundaries.
func MapError(err error) *goerrors.Error {
	return intakeErrorMapper(err)
}

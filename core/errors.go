package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	BrokerErrorBadInput            = "BROKER_BAD_INPUT"
	BrokerErrorInsufficientBalance = "BROKER_INSUFFICIENT_BALANCE"
	BrokerErrorNoProviderAvailable = "BROKER_NO_PROVIDER_AVAILABLE"
	BrokerErrorTimedOut            = "BROKER_TIMED_OUT"
	BrokerErrorAlreadyCompleted    = "BROKER_ALREADY_COMPLETED"
	BrokerErrorConflict            = "BROKER_CONFLICT"
	BrokerErrorRateLimited         = "BROKER_RATE_LIMITED"
	BrokerErrorProviderFailed      = "BROKER_PROVIDER_FAILED"
	BrokerErrorNotFound            = "BROKER_NOT_FOUND"
	BrokerErrorInternal            = "BROKER_INTERNAL_ERROR"
)

func brokerErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureBrokerErrorEnvelope(richErr)
	}

	var providerErr *ProviderError
	if goerrors.As(err, &providerErr) {
		return ensureBrokerErrorEnvelope(providerErr.ToBrokerError())
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "insufficient") && strings.Contains(msg, "balance"),
		strings.Contains(msg, "insufficient funds"):
		return newBrokerError(err.Error(), goerrors.CategoryOperation, BrokerErrorInsufficientBalance)
	case strings.Contains(msg, "no provider"), strings.Contains(msg, "providers exhausted"):
		return newBrokerError(err.Error(), goerrors.CategoryOperation, BrokerErrorNoProviderAvailable)
	case strings.Contains(msg, "already completed"), strings.Contains(msg, "already received"):
		return newBrokerError(err.Error(), goerrors.CategoryConflict, BrokerErrorAlreadyCompleted)
	case strings.Contains(msg, "version conflict"), strings.Contains(msg, "stale version"):
		return newBrokerError(err.Error(), goerrors.CategoryConflict, BrokerErrorConflict)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newBrokerError(err.Error(), goerrors.CategoryRateLimit, BrokerErrorRateLimited)
	case strings.Contains(msg, "not found"):
		return newBrokerError(err.Error(), goerrors.CategoryNotFound, BrokerErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newBrokerError(err.Error(), goerrors.CategoryBadInput, BrokerErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureBrokerErrorEnvelope(mapped)
}

func newBrokerError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureBrokerErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureBrokerErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = brokerHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultBrokerTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultBrokerTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return BrokerErrorBadInput
	case goerrors.CategoryNotFound:
		return BrokerErrorNotFound
	case goerrors.CategoryConflict:
		return BrokerErrorConflict
	case goerrors.CategoryRateLimit:
		return BrokerErrorRateLimited
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return BrokerErrorProviderFailed
	default:
		return BrokerErrorInternal
	}
}

func brokerHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable_RateLimitAndConnectionAreRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CodeRateLimit, "too many requests")))
	assert.True(t, Retryable(New(CodeConnection, "dial failed")))
}

func TestRetryable_ExchangeAPI_OnlyRetryableOn5xx(t *testing.T) {
	server := New(CodeExchangeAPI, "internal error").WithHTTPStatus(502)
	assert.True(t, Retryable(server))

	client := New(CodeExchangeAPI, "bad request").WithHTTPStatus(400)
	assert.False(t, Retryable(client))
}

func TestRetryable_ValidationAndInvariantAreNotRetryable(t *testing.T) {
	assert.False(t, Retryable(New(CodeValidation, "bad input")))
	assert.False(t, Retryable(New(CodeInvariant, "crossed book")))
}

func TestRetryable_NonEngineError_IsNotRetryable(t *testing.T) {
	assert.False(t, Retryable(errors.New("plain error")))
}

func TestMapHTTPStatus(t *testing.T) {
	assert.Equal(t, CodeRateLimit, MapHTTPStatus(429))
	assert.Equal(t, CodeExchangeAPI, MapHTTPStatus(401))
	assert.Equal(t, CodeExchangeAPI, MapHTTPStatus(403))
	assert.Equal(t, CodeConnection, MapHTTPStatus(503))
	assert.Equal(t, CodeExchangeAPI, MapHTTPStatus(400))
}

func TestMapExchangeCode(t *testing.T) {
	assert.Equal(t, CodeOversold, MapExchangeCode("BALANCE_NOT_ENOUGH"))
	assert.Equal(t, CodeOversold, MapExchangeCode("30005"))
	assert.Equal(t, CodeTradingDisabled, MapExchangeCode("10007"))
	assert.Equal(t, CodeInsufficientPos, MapExchangeCode("30004"))
	assert.Equal(t, CodeUnknownExchange, MapExchangeCode("totally_unknown"))
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeConnection, "should be nil"))
}

func TestWrap_PreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("socket reset")
	wrapped := Wrap(cause, CodeConnection, "request failed")

	assert.Equal(t, cause, wrapped.Unwrap())
	assert.ErrorIs(t, wrapped, cause)
}

func TestAs_ExtractsEngineErrorFromWrappedChain(t *testing.T) {
	inner := New(CodeRateLimit, "rate limited")
	outer := Wrap(inner, CodeConnection, "outer context")

	found, ok := As(outer)
	assert.True(t, ok)
	assert.Equal(t, CodeConnection, found.Code, "As returns the outermost EngineError in the chain")
}

func TestIs_MatchesCodeThroughChain(t *testing.T) {
	err := New(CodeOversold, "insufficient balance").WithExchange("gateio").WithSymbol("BTCUSDT")
	assert.True(t, Is(err, CodeOversold))
	assert.False(t, Is(err, CodeConnection))
}

func TestBuilderMethods_ChainAndSetFields(t *testing.T) {
	err := Newf(CodeExchangeAPI, "order %s rejected", "abc123").
		WithExchange("mexc").
		WithSymbol("ETHUSDT").
		WithContext("task-1").
		WithHTTPStatus(418)

	assert.Equal(t, "mexc", err.Exchange)
	assert.Equal(t, "ETHUSDT", err.Symbol)
	assert.Equal(t, "task-1", err.Context)
	assert.Equal(t, 418, err.HTTPCode)
	assert.Contains(t, err.Error(), "order abc123 rejected")
}

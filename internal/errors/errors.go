// Package errors implements the engine's error taxonomy (spec §7): a small
// hierarchy of typed errors that the transport, market-data and execution
// layers use to decide whether a failure is retryable, recoverable locally,
// or must escalate to an operator.
package errors

import (
	"fmt"
	"time"
)

// Code identifies a class of error in the taxonomy.
type Code string

const (
	CodeRateLimit         Code = "RATE_LIMIT"
	CodeExchangeAPI       Code = "EXCHANGE_API"
	CodeTradingDisabled   Code = "TRADING_DISABLED"
	CodeInsufficientPos   Code = "INSUFFICIENT_POSITION"
	CodeOversold          Code = "OVERSOLD"
	CodeUnknownExchange   Code = "UNKNOWN_EXCHANGE_ERROR"
	CodeConnection        Code = "CONNECTION"
	CodeParse             Code = "PARSE"
	CodeInvariant         Code = "INVARIANT_VIOLATION"
	CodeValidation        Code = "VALIDATION"
)

// EngineError is a structured error carrying the taxonomy code, contextual
// fields (task/opportunity id, exchange, symbol) and an optional cause.
type EngineError struct {
	Code      Code
	Message   string
	Exchange  string
	Symbol    string
	Context   string // task_id or opportunity_id, when applicable
	HTTPCode  int
	RetryAfter time.Duration // server-supplied delay before retrying, when present
	Timestamp time.Time
	Cause     error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s [exchange=%s symbol=%s ctx=%s] (cause: %v)",
			e.Code, e.Message, e.Exchange, e.Symbol, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s: %s [exchange=%s symbol=%s ctx=%s]",
		e.Code, e.Message, e.Exchange, e.Symbol, e.Context)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// New creates an EngineError with the given code and message.
func New(code Code, message string) *EngineError {
	return &EngineError{Code: code, Message: message, Timestamp: time.Now()}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...interface{}) *EngineError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause to a new EngineError. Returns nil if err is nil.
func Wrap(err error, code Code, message string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{Code: code, Message: message, Timestamp: time.Now(), Cause: err}
}

// WithExchange sets the exchange context field and returns e for chaining.
func (e *EngineError) WithExchange(name string) *EngineError {
	e.Exchange = name
	return e
}

// WithSymbol sets the symbol context field and returns e for chaining.
func (e *EngineError) WithSymbol(sym string) *EngineError {
	e.Symbol = sym
	return e
}

// WithContext sets the task/opportunity id context field.
func (e *EngineError) WithContext(ctx string) *EngineError {
	e.Context = ctx
	return e
}

// WithHTTPStatus records the originating HTTP status code.
func (e *EngineError) WithHTTPStatus(code int) *EngineError {
	e.HTTPCode = code
	return e
}

// WithRetryAfter records a server-supplied retry delay (from a Retry-After
// response header) for the transport layer to honor instead of its own
// backoff curve (spec §4.C/§7).
func (e *EngineError) WithRetryAfter(d time.Duration) *EngineError {
	e.RetryAfter = d
	return e
}

// Is reports whether err is an EngineError with the given code.
func Is(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// As extracts the first EngineError in err's chain.
func As(err error) (*EngineError, bool) {
	for err != nil {
		if e, ok := err.(*EngineError); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// Retryable reports whether the transport layer should retry this error
// per spec §7 propagation policy: rate-limit, connection and (via HTTPCode)
// 5xx errors are retryable; parse/validation/invariant errors are not.
func Retryable(err error) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	switch e.Code {
	case CodeRateLimit, CodeConnection:
		return true
	case CodeExchangeAPI:
		return e.HTTPCode >= 500
	default:
		return false
	}
}

// MapExchangeCode maps an exchange-reported error label/code to the
// taxonomy per spec §6. Unrecognized codes map to CodeUnknownExchange.
func MapExchangeCode(exchangeLabel string) Code {
	switch exchangeLabel {
	case "BALANCE_NOT_ENOUGH", "30005", "30002":
		return CodeOversold
	case "10007":
		return CodeTradingDisabled
	case "30004":
		return CodeInsufficientPos
	default:
		return CodeUnknownExchange
	}
}

// MapHTTPStatus maps a raw HTTP status to the taxonomy per spec §6.
func MapHTTPStatus(status int) Code {
	switch {
	case status == 429:
		return CodeRateLimit
	case status == 401 || status == 403:
		return CodeExchangeAPI
	case status >= 500:
		return CodeConnection
	default:
		return CodeExchangeAPI
	}
}

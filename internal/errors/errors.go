package errors

import (
	"fmt"
	"time"
)

// ErrorCode classifies application errors
type ErrorCode string

const (
	// General
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeTimeout      ErrorCode = "TIMEOUT"
	ErrCodeCancelled    ErrorCode = "CANCELLED"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT"

	// Persistence
	ErrCodeDBConnection ErrorCode = "DB_CONNECTION_ERROR"
	ErrCodeDBQuery      ErrorCode = "DB_QUERY_ERROR"
	ErrCodeDBWrite      ErrorCode = "DB_WRITE_ERROR"

	// Cache
	ErrCodeCacheConnection ErrorCode = "CACHE_CONNECTION_ERROR"
	ErrCodeCacheOperation  ErrorCode = "CACHE_OPERATION_ERROR"
	ErrCodeCacheMiss       ErrorCode = "CACHE_MISS"

	// Strategy / backtest
	ErrCodeStrategyInvalid  ErrorCode = "STRATEGY_INVALID"
	ErrCodeExpressionParse  ErrorCode = "EXPRESSION_PARSE_ERROR"
	ErrCodeFactorUnknown    ErrorCode = "FACTOR_UNKNOWN"
	ErrCodeNoTradingDays    ErrorCode = "NO_TRADING_DAYS"
	ErrCodeMarketData       ErrorCode = "MARKET_DATA_ERROR"
	ErrCodeRunNotFound      ErrorCode = "RUN_NOT_FOUND"
	ErrCodeRunAlreadyFinal  ErrorCode = "RUN_ALREADY_FINAL"
	ErrCodeInsufficientCash ErrorCode = "INSUFFICIENT_CASH"
)

// ErrorSeverity ranks how loudly an error should be reported
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError is the application error carrying a code, severity and cause
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Severity  ErrorSeverity          `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new application error
func New(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  severityByCode(code),
		Timestamp: time.Now(),
		Cause:     cause,
		Context:   make(map[string]interface{}),
	}
}

// WithDetails attaches a detail string
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithRunID tags the error with the owning backtest run
func (e *AppError) WithRunID(runID string) *AppError {
	e.RunID = runID
	return e
}

// WithContext adds a context value
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func severityByCode(code ErrorCode) ErrorSeverity {
	switch code {
	case ErrCodeInternal, ErrCodeDBConnection:
		return SeverityCritical
	case ErrCodeDBQuery, ErrCodeDBWrite, ErrCodeNoTradingDays, ErrCodeMarketData:
		return SeverityHigh
	case ErrCodeCacheConnection, ErrCodeCacheOperation, ErrCodeRateLimit:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsRetryable reports whether the operation that produced the error can be
// retried without changing inputs
func (e *AppError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeDBConnection, ErrCodeDBWrite, ErrCodeCacheConnection:
		return true
	default:
		return false
	}
}

// Wrap converts a standard error into an AppError, passing AppErrors through
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(code, message, err)
}

// Get extracts an AppError if the error is one
func Get(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return nil
}

// Predefined common errors
var (
	ErrInvalidInput = New(ErrCodeInvalidInput, "invalid input parameters", nil)
	ErrNotFound     = New(ErrCodeNotFound, "resource not found", nil)
	ErrRateLimit    = New(ErrCodeRateLimit, "too many concurrent backtests", nil)
)

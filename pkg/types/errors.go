// pkg/types/errors.go
package types

// ErrorKind is the machine-readable classification of a failure
type ErrorKind string

const (
	ErrTimeout         ErrorKind = "TIMEOUT"
	ErrNetwork         ErrorKind = "NETWORK"
	ErrRateLimited     ErrorKind = "RATE_LIMITED"
	ErrUpstream5xx     ErrorKind = "UPSTREAM_5XX"
	ErrUpstream4xx     ErrorKind = "UPSTREAM_4XX"
	ErrAuthRequired    ErrorKind = "AUTH_REQUIRED"
	ErrForbidden       ErrorKind = "FORBIDDEN"
	ErrNotFound        ErrorKind = "NOT_FOUND"
	ErrParse           ErrorKind = "PARSE"
	ErrExtractorFailed ErrorKind = "EXTRACTOR_FAILED"
	ErrInvalidInput    ErrorKind = "INVALID_INPUT"
	ErrCircuitOpen     ErrorKind = "CIRCUIT_OPEN"
	ErrCancelled       ErrorKind = "CANCELLED"
	ErrUnknownSource   ErrorKind = "UNKNOWN_SOURCE"
	ErrNoMethods       ErrorKind = "NO_METHODS"
)

// RetryRule describes how the retry policy treats a kind
type RetryRule int

const (
	RetryNever RetryRule = iota
	RetryAlways
	RetryOnce
	RetrySlow
)

type kindTraits struct {
	retry   RetryRule
	breaker bool
}

var errorKindTraits = map[ErrorKind]kindTraits{
	ErrTimeout:         {retry: RetryAlways, breaker: true},
	ErrNetwork:         {retry: RetryAlways, breaker: true},
	ErrRateLimited:     {retry: RetrySlow, breaker: false},
	ErrUpstream5xx:     {retry: RetryAlways, breaker: true},
	ErrUpstream4xx:     {retry: RetryOnce, breaker: true},
	ErrAuthRequired:    {retry: RetryNever, breaker: false},
	ErrForbidden:       {retry: RetryNever, breaker: true},
	ErrNotFound:        {retry: RetryNever, breaker: false},
	ErrParse:           {retry: RetryOnce, breaker: true},
	ErrExtractorFailed: {retry: RetryAlways, breaker: true},
	ErrInvalidInput:    {retry: RetryNever, breaker: false},
	ErrCircuitOpen:     {retry: RetryNever, breaker: false},
	ErrCancelled:       {retry: RetryNever, breaker: false},
	ErrUnknownSource:   {retry: RetryNever, breaker: false},
	ErrNoMethods:       {retry: RetryNever, breaker: false},
}

// Retry returns the retry rule for the kind. Unknown kinds never retry.
func (k ErrorKind) Retry() RetryRule {
	return errorKindTraits[k].retry
}

// TripsBreaker reports whether a failure of this kind debits the source breaker
func (k ErrorKind) TripsBreaker() bool {
	return errorKindTraits[k].breaker
}

// IsValid checks if the kind is a known error kind
func (k ErrorKind) IsValid() bool {
	_, ok := errorKindTraits[k]
	return ok
}

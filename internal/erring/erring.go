// Package erring defines the error taxonomy shared across the memory core.
// Every exported error type satisfies error and carries a stable code plus
// the operation that produced it, so callers can surface remediation hints
// without string-matching messages.
package erring

import "fmt"

// Code identifies a taxonomy entry for programmatic handling.
type Code string

const (
	CodeConfig             Code = "config_error"
	CodeBackendUnavailable Code = "backend_unavailable"
	CodeTimeout            Code = "timeout"
	CodeConnection         Code = "connection_error"
	CodeProviderError      Code = "provider_error"
	CodeTransientIO        Code = "transient_io"
	CodeInvalidInput       Code = "invalid_input"
	CodeDimensionMismatch  Code = "dimension_mismatch"
	CodeUnknownSource      Code = "unknown_source"
	CodeIntegrityViolation Code = "integrity_violation"
	CodeVerificationFailed Code = "verification_failed"
	CodeSchemaMismatch     Code = "schema_mismatch"
	CodeCapacityExceeded   Code = "capacity_exceeded"
	CodeInvalidLifecycle   Code = "invalid_lifecycle_transition"
	CodeDuplicateInBatch   Code = "duplicate_in_batch"
)

// E is the concrete error type for every taxonomy entry.
type E struct {
	code Code
	op   string
	hint string
	err  error
}

func (e *E) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.op, e.code, e.err)
	}
	return fmt.Sprintf("%s: %s", e.op, e.code)
}

func (e *E) Unwrap() error { return e.err }

// Code returns the taxonomy code.
func (e *E) Code() Code { return e.code }

// Op returns the operation name that produced the error.
func (e *E) Op() string { return e.op }

// Hint returns a single-line remediation hint, if any.
func (e *E) Hint() string { return e.hint }

// New builds a taxonomy error with an optional wrapped cause.
func New(code Code, op, hint string, cause error) *E {
	return &E{code: code, op: op, hint: hint, err: cause}
}

func ConfigError(op string, cause error) *E {
	return New(CodeConfig, op, "fix configuration and restart", cause)
}

func BackendUnavailable(op string, cause error) *E {
	return New(CodeBackendUnavailable, op, "retry after backoff; check backend health", cause)
}

func Timeout(op string, cause error) *E {
	return New(CodeTimeout, op, "retry with a longer deadline", cause)
}

func Connection(op string, cause error) *E {
	return New(CodeConnection, op, "retry after backoff", cause)
}

func ProviderError(op string, cause error) *E {
	return New(CodeProviderError, op, "check provider credentials and quota", cause)
}

func TransientIO(op string, cause error) *E {
	return New(CodeTransientIO, op, "retry after backoff", cause)
}

func InvalidInput(op, hint string) *E {
	return New(CodeInvalidInput, op, hint, nil)
}

func DimensionMismatch(op string, want, got int) *E {
	return New(CodeDimensionMismatch, op, fmt.Sprintf("expected dimension %d, got %d", want, got), nil)
}

func UnknownSource(op, kind string) *E {
	return New(CodeUnknownSource, op, fmt.Sprintf("register a source adapter for kind %q", kind), nil)
}

func IntegrityViolation(op, hint string) *E {
	return New(CodeIntegrityViolation, op, hint, nil)
}

func VerificationFailed(op string, violations []string) *E {
	hint := "inspect violations and retry with adjusted parameters"
	return New(CodeVerificationFailed, op, hint, fmt.Errorf("violations: %v", violations))
}

func SchemaMismatch(op string, want, got int) *E {
	return New(CodeSchemaMismatch, op, fmt.Sprintf("expected schema version %d, found %d; run migrations", want, got), nil)
}

func CapacityExceeded(op string, limit int) *E {
	return New(CodeCapacityExceeded, op, fmt.Sprintf("capacity %d exceeded; evict before inserting", limit), nil)
}

func InvalidLifecycleTransition(op, from, to string) *E {
	return New(CodeInvalidLifecycle, op, fmt.Sprintf("cannot transition from %s to %s", from, to), nil)
}

func DuplicateInBatch(op, id string) *E {
	return New(CodeDuplicateInBatch, op, "duplicate reported, not fatal", fmt.Errorf("duplicate id %s", id))
}

// Retryable reports whether err carries one of the retryable taxonomy codes:
// Timeout, Connection, TransientIO or BackendUnavailable.
func Retryable(err error) bool {
	var e *E
	for err != nil {
		if as, ok := err.(*E); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return false
	}
	switch e.code {
	case CodeTimeout, CodeConnection, CodeTransientIO, CodeBackendUnavailable:
		return true
	default:
		return false
	}
}

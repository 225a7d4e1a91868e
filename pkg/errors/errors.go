// Package errors provides structured error types for envctl.
package errors

import (
	"fmt"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	ErrCodeUndefinedParameter ErrorCode = "UNDEFINED_PARAMETER"
	ErrCodeMissingInput       ErrorCode = "MISSING_INPUT"
	ErrCodeTypeMismatch       ErrorCode = "TYPE_MISMATCH"
	ErrCodeSubnetZoneMismatch ErrorCode = "SUBNET_ZONE_MISMATCH"
	ErrCodeUnresolvedBinding  ErrorCode = "UNRESOLVED_BINDING"
	ErrCodeDanglingInput      ErrorCode = "DANGLING_INPUT"
	ErrCodeCyclicDependency   ErrorCode = "CYCLIC_DEPENDENCY"
	ErrCodeBackendTimeout     ErrorCode = "BACKEND_TIMEOUT"
	ErrCodeBackend            ErrorCode = "BACKEND_ERROR"
	ErrCodePartialApply       ErrorCode = "PARTIAL_APPLY_FAILURE"
	ErrCodePolicyWarning      ErrorCode = "POLICY_WARNING"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeParse              ErrorCode = "PARSE_ERROR"
	ErrCodeState              ErrorCode = "STATE_ERROR"
	ErrCodeLocked             ErrorCode = "STATE_LOCKED"
)

// exitCodes maps every failure kind to a distinct, stable exit code so
// invoking scripts can branch on the specific failure.
var exitCodes = map[ErrorCode]int{
	ErrCodeUndefinedParameter: 10,
	ErrCodeMissingInput:       11,
	ErrCodeTypeMismatch:       12,
	ErrCodeSubnetZoneMismatch: 13,
	ErrCodeUnresolvedBinding:  14,
	ErrCodeDanglingInput:      15,
	ErrCodeCyclicDependency:   16,
	ErrCodeBackendTimeout:     17,
	ErrCodeBackend:            18,
	ErrCodePartialApply:       19,
	ErrCodeNotFound:           20,
	ErrCodeParse:              21,
	ErrCodeState:              22,
	ErrCodeLocked:             23,
}

// Error is the base error type for envctl
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates a new error with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds details to an error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// UndefinedParameter creates an error for a parameter with no value and no default
func UndefinedParameter(environment, name string) *Error {
	return &Error{
		Code:    ErrCodeUndefinedParameter,
		Message: fmt.Sprintf("parameter %q is not defined for environment %q", name, environment),
		Details: map[string]interface{}{
			"environment": environment,
			"parameter":   name,
		},
	}
}

// MissingInput creates an error for a module input with no supplied value
func MissingInput(module, input string) *Error {
	return &Error{
		Code:    ErrCodeMissingInput,
		Message: fmt.Sprintf("module %q is missing required input %q", module, input),
		Details: map[string]interface{}{
			"module": module,
			"input":  input,
		},
	}
}

// TypeMismatch creates an error for an input literal that does not match its declared type
func TypeMismatch(module, input, wantType string, cause error) *Error {
	return &Error{
		Code:    ErrCodeTypeMismatch,
		Message: fmt.Sprintf("input %q of module %q must be of type %s", input, module, wantType),
		Cause:   cause,
		Details: map[string]interface{}{
			"module":    module,
			"input":     input,
			"want_type": wantType,
		},
	}
}

// SubnetZoneMismatch creates an error for subnet CIDR and availability zone lists of different lengths
func SubnetZoneMismatch(module string, subnets, zones int) *Error {
	return &Error{
		Code: ErrCodeSubnetZoneMismatch,
		Message: fmt.Sprintf("module %q declares %d subnet CIDRs but %d availability zones",
			module, subnets, zones),
		Details: map[string]interface{}{
			"module":       module,
			"subnet_cidrs": subnets,
			"zones":        zones,
		},
	}
}

// UnresolvedBinding creates an error for a binding whose producer output does not exist
func UnresolvedBinding(consumer, input, producer, output string) *Error {
	return &Error{
		Code: ErrCodeUnresolvedBinding,
		Message: fmt.Sprintf("input %q of module %q is bound to unknown output %s.%s",
			input, consumer, producer, output),
		Details: map[string]interface{}{
			"consumer": consumer,
			"input":    input,
			"producer": producer,
			"output":   output,
		},
	}
}

// DanglingInput creates an error for a declared input left unbound after literals and bindings
func DanglingInput(module, input string) *Error {
	return &Error{
		Code:    ErrCodeDanglingInput,
		Message: fmt.Sprintf("input %q of module %q is not bound to a literal or an output", input, module),
		Details: map[string]interface{}{
			"module": module,
			"input":  input,
		},
	}
}

// CyclicDependency creates an error reporting every node on a dependency cycle
func CyclicDependency(cycle []string) *Error {
	return &Error{
		Code:    ErrCodeCyclicDependency,
		Message: fmt.Sprintf("dependency cycle detected: %v", cycle),
		Details: map[string]interface{}{
			"cycle": cycle,
		},
	}
}

// BackendTimeout creates an error for a provisioning call that exceeded its per-node timeout
func BackendTimeout(node string, cause error) *Error {
	return &Error{
		Code:    ErrCodeBackendTimeout,
		Message: fmt.Sprintf("provisioning backend timed out reconciling %s", node),
		Cause:   cause,
		Details: map[string]interface{}{
			"node": node,
		},
	}
}

// BackendError wraps a backend-specific failure for a single node
func BackendError(node string, cause error) *Error {
	return &Error{
		Code:    ErrCodeBackend,
		Message: fmt.Sprintf("provisioning backend failed on %s", node),
		Cause:   cause,
		Details: map[string]interface{}{
			"node": node,
		},
	}
}

// PartialApplyFailure creates the terminal summary error for a partially applied plan
func PartialApplyFailure(composition string, succeeded, failed, skipped []string) *Error {
	return &Error{
		Code: ErrCodePartialApply,
		Message: fmt.Sprintf("apply of %q failed: %d succeeded, %d failed, %d skipped",
			composition, len(succeeded), len(failed), len(skipped)),
		Details: map[string]interface{}{
			"composition": composition,
			"succeeded":   succeeded,
			"failed":      failed,
			"skipped":     skipped,
		},
	}
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resourceType, name),
		Details: map[string]interface{}{
			"resource_type": resourceType,
			"name":          name,
		},
	}
}

// ParseError creates a parse error
func ParseError(filePath string, err error) *Error {
	return &Error{
		Code:    ErrCodeParse,
		Message: fmt.Sprintf("failed to parse %s", filePath),
		Cause:   err,
		Details: map[string]interface{}{
			"file": filePath,
		},
	}
}

// Is checks if the error matches the given code, unwrapping as needed
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ExitCode returns the stable process exit code for an error.
// Unknown errors exit 1; nil exits 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	for err != nil {
		if e, ok := err.(*Error); ok {
			if code, ok := exitCodes[e.Code]; ok {
				return code
			}
			return 1
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 1
		}
		err = u.Unwrap()
	}
	return 1
}

// Warning is a non-fatal advisory surfaced during planning, such as a
// known-risky default inherited from a module definition.
type Warning struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] %s", w.Code, w.Message)
}

// PolicyWarning creates a warning for an insecure-by-default configuration
func PolicyWarning(node, message string) Warning {
	return Warning{
		Code:    ErrCodePolicyWarning,
		Message: message,
		Details: map[string]interface{}{
			"node": node,
		},
	}
}

package tools

import "errors"

// ErrorCode is a string type used for structured error reporting from tools.
type ErrorCode string

const (
	ErrCodeUnknownTool       ErrorCode = "UNKNOWN_TOOL"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeToolPanic         ErrorCode = "TOOL_PANIC"
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	// ErrCodeOperatorDeclined is reported when the human answered "quit", or gave
	// no valid answer, while a tool was waiting on them. The loop treats it as terminal.
	ErrCodeOperatorDeclined ErrorCode = "OPERATOR_DECLINED"
)

// ErrInvalidParams marks a parameter decoding or validation failure.
var ErrInvalidParams = errors.New("invalid parameters")

package script

import (
	"fmt"
	"time"
)

// ErrorType categorizes different types of script errors
type ErrorType string

const (
	ErrorTypeCompilation ErrorType = "compilation"
	ErrorTypeExecution   ErrorType = "execution"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeMemoryLimit ErrorType = "memory_limit"
	ErrorTypeBadReply    ErrorType = "bad_reply"
)

// ScriptError represents script-related errors with context
type ScriptError struct {
	Type       ErrorType
	ScriptName string
	Topic      string
	Message    string
	Cause      error
	Timestamp  time.Time
}

func (e *ScriptError) Error() string {
	msg := fmt.Sprintf("script %s: %s", e.ScriptName, e.Message)
	if e.Topic != "" {
		msg = fmt.Sprintf("script %s (topic %q): %s", e.ScriptName, e.Topic, e.Message)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// NewScriptError creates a new ScriptError with the given parameters
func NewScriptError(errorType ErrorType, scriptName, topic, message string, cause error) *ScriptError {
	return &ScriptError{
		Type:       errorType,
		ScriptName: scriptName,
		Topic:      topic,
		Message:    message,
		Cause:      cause,
		Timestamp:  time.Now(),
	}
}

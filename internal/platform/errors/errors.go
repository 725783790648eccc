package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies every failure a user-facing operation can produce.
type Kind int

const (
	KindParse Kind = iota
	KindConfig
	KindTUI
	KindIntegration
	KindIO
	KindInvalidCommand
	KindMissingArgument
	KindInvalidArgumentValue
	KindExecution
	KindCancelled
	KindFormat
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindConfig:
		return "config"
	case KindTUI:
		return "tui"
	case KindIntegration:
		return "integration"
	case KindIO:
		return "io"
	case KindInvalidCommand:
		return "invalid command"
	case KindMissingArgument:
		return "missing argument"
	case KindInvalidArgumentValue:
		return "invalid argument value"
	case KindExecution:
		return "execution"
	case KindCancelled:
		return "cancelled"
	case KindFormat:
		return "format"
	default:
		return "other"
	}
}

// Tag names the subsystem an integration error came from.
type Tag string

const (
	TagDiscovery Tag = "Discovery"
	TagTransfer  Tag = "Transfer"
	TagClipboard Tag = "Clipboard"
	TagStreaming Tag = "Streaming"
	TagSecurity  Tag = "Security"
	TagBatch     Tag = "BatchOperation"
)

// CLIError is the unified error type of the control plane. Message is a
// single human line; Arg/Reason are set for structured parse diagnostics.
type CLIError struct {
	Kind    Kind
	Tag     Tag
	Message string
	Arg     string
	Reason  string
	Err     error
}

func (e *CLIError) Error() string {
	switch e.Kind {
	case KindParse:
		return "Parse error: " + e.Message
	case KindConfig:
		return "Configuration error: " + e.Message
	case KindTUI:
		return "TUI error: " + e.Message
	case KindIntegration:
		if e.Tag != "" {
			return fmt.Sprintf("Integration error: %s: %s", e.Tag, e.Message)
		}
		return "Integration error: " + e.Message
	case KindIO:
		return "I/O error: " + e.Message
	case KindInvalidCommand:
		return "Invalid command: " + e.Message
	case KindMissingArgument:
		return "Missing required argument: " + e.Message
	case KindInvalidArgumentValue:
		return fmt.Sprintf("Invalid argument value for %s: %s", e.Arg, e.Reason)
	case KindExecution:
		return "Command execution failed: " + e.Message
	case KindCancelled:
		return "Operation cancelled"
	case KindFormat:
		return "Format error: " + e.Message
	default:
		return e.Message
	}
}

func (e *CLIError) Unwrap() error { return e.Err }

// ExitCode maps the error to the process exit code contract:
// 1 for user and validation errors, 2 for integration errors,
// 130 for user cancellation.
func (e *CLIError) ExitCode() int {
	switch e.Kind {
	case KindIntegration:
		return 2
	case KindCancelled:
		return 130
	default:
		return 1
	}
}

// Transient reports whether a retry may succeed. Only discovery and transfer
// integration failures qualify.
func (e *CLIError) Transient() bool {
	return e.Kind == KindIntegration && (e.Tag == TagDiscovery || e.Tag == TagTransfer)
}

func Parse(msg string) *CLIError  { return &CLIError{Kind: KindParse, Message: msg} }
func Config(msg string) *CLIError { return &CLIError{Kind: KindConfig, Message: msg} }
func TUI(msg string) *CLIError    { return &CLIError{Kind: KindTUI, Message: msg} }
func Format(msg string) *CLIError { return &CLIError{Kind: KindFormat, Message: msg} }
func Other(msg string) *CLIError  { return &CLIError{Kind: KindOther, Message: msg} }
func Cancelled() *CLIError        { return &CLIError{Kind: KindCancelled} }

func Execution(msg string) *CLIError {
	return &CLIError{Kind: KindExecution, Message: msg}
}

func InvalidCommand(name string) *CLIError {
	return &CLIError{Kind: KindInvalidCommand, Message: name}
}

func MissingArgument(name string) *CLIError {
	return &CLIError{Kind: KindMissingArgument, Message: name}
}

func InvalidArgumentValue(arg, reason string) *CLIError {
	return &CLIError{Kind: KindInvalidArgumentValue, Arg: arg, Reason: reason}
}

func IO(err error) *CLIError {
	if err == nil {
		return nil
	}
	return &CLIError{Kind: KindIO, Message: err.Error(), Err: err}
}

func Integration(tag Tag, msg string) *CLIError {
	return &CLIError{Kind: KindIntegration, Tag: tag, Message: msg}
}

func Discovery(msg string) *CLIError { return Integration(TagDiscovery, msg) }
func Transfer(msg string) *CLIError  { return Integration(TagTransfer, msg) }
func Clipboard(msg string) *CLIError { return Integration(TagClipboard, msg) }
func Streaming(msg string) *CLIError { return Integration(TagStreaming, msg) }
func Security(msg string) *CLIError  { return Integration(TagSecurity, msg) }
func Batch(msg string) *CLIError     { return Integration(TagBatch, msg) }

// Wrap coerces any error into a *CLIError, preserving one that already is.
func Wrap(err error) *CLIError {
	if err == nil {
		return nil
	}
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}
	return &CLIError{Kind: KindOther, Message: err.Error(), Err: err}
}

// ExitCode resolves the exit code for an arbitrary error (0 for nil).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return Wrap(err).ExitCode()
}

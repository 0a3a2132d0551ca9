package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/forgecache/internal/cache"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Partial sync failure or rejected mutation
	ExitCommandError = 2 // Command error (bad arguments, config, database, not signed in)
)

// Error codes carried in the JSON envelope.
const (
	CodeConfig           = "E001"
	CodeNotAuthenticated = "E002"
	CodeRemote           = "E003"
	CodeMutation         = "E004"
	CodeNotCached        = "E005"
	CodeUsage            = "E006"
	CodeSync             = "E007"
	CodeStore            = "E008"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set once the error has been written through the
	// formatter, so main does not print it a second time.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// IsReported reports whether err was already written by a formatter.
func IsReported(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr) && exitErr.Reported
}

// Texter is implemented by payloads with a human-readable rendering.
type Texter interface {
	Text() string
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	if t, ok := data.(Texter); ok {
		s := t.Text()
		if !strings.HasSuffix(s, "\n") {
			s += "\n"
		}
		_, err := io.WriteString(f.Writer, s)
		return err
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail writes err through Error with a code derived from it and returns an
// ExitError marked as reported.
func (f *OutputFormatter) Fail(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Reported {
		return err
	}
	code, exit, msg := classify(err)
	return f.FailWith(code, exit, msg, err)
}

// FailWith writes an error with an explicit code and returns the matching
// reported ExitError.
func (f *OutputFormatter) FailWith(code string, exit int, message string, err error) error {
	var details any
	if f.Verbose && err != nil {
		details = err.Error()
	}
	if werr := f.Error(code, message, details); werr != nil {
		return werr
	}
	return &ExitError{Code: exit, Message: message, Err: err, Reported: true}
}

// classify maps an error to its envelope code, exit code and message.
func classify(err error) (code string, exit int, msg string) {
	var exitErr *ExitError
	var mutErr *cache.MutationError
	switch {
	case errors.As(err, &mutErr):
		return CodeMutation, ExitFailure, mutErr.Message
	case cache.IsNotAuthenticated(err):
		return CodeNotAuthenticated, ExitCommandError, "not signed in: run `gh auth login` or set the token environment variable"
	case errors.Is(err, cache.ErrNotCached):
		return CodeNotCached, ExitCommandError, err.Error()
	case errors.As(err, &exitErr):
		return CodeUsage, exitErr.Code, exitErr.Error()
	default:
		return CodeRemote, ExitFailure, err.Error()
	}
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

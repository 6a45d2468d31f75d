package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/dairyledger/internal/model"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Check failed (integrity mismatch, import expectations unmet)
	ExitCommandError = 2 // Command error (bad input, database or remote unavailable)
)

// CLI error codes reported in the JSON envelope.
const (
	ErrCodeGeneric    = "E001" // Unknown error
	ErrCodeConfig     = "E002" // Configuration could not be loaded or is invalid
	ErrCodeStorage    = "E003" // Local database failure
	ErrCodeValidation = "E004" // Rejected input
	ErrCodeNotFound   = "E005" // Referenced record does not exist
	ErrCodeIntegrity  = "E006" // Balance or checksum verification failed
	ErrCodeRemote     = "E007" // Remote store unreachable or refused
	ErrCodeImport     = "E008" // Import file invalid or expectations unmet
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int    // Exit code (ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// codeFor maps a core error to its CLI error code.
func codeFor(err error) string {
	switch model.CodeOf(err) {
	case model.ErrCodeValidation, model.ErrCodeInvalidAmount:
		return ErrCodeValidation
	case model.ErrCodeStorage:
		return ErrCodeStorage
	case model.ErrCodeNotFound:
		return ErrCodeNotFound
	case model.ErrCodeIntegrity:
		return ErrCodeIntegrity
	case model.ErrCodeNetwork, model.ErrCodeTimeout, model.ErrCodeRemoteRejected:
		return ErrCodeRemote
	}
	return ErrCodeGeneric
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

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Render outputs data as the JSON envelope, or calls text for the
// human-readable form.
func (f *OutputFormatter) Render(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.Success(data)
	}
	text(f.Writer)
	return nil
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

// Fail reports err in the configured format and returns the ExitError the
// command should return. Integrity failures exit with ExitFailure; every
// other error is a command error.
func (f *OutputFormatter) Fail(message string, err error) error {
	code := codeFor(err)
	var details any
	var me *model.Error
	if errors.As(err, &me) && len(me.Fields) > 0 {
		details = map[string]any{"fields": me.Fields}
	}
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details)

	exit := ExitCommandError
	if code == ErrCodeIntegrity {
		exit = ExitFailure
	}
	return WrapExitError(exit, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
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

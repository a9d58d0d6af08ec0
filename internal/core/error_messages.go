package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference. Users quote the code; support finds the cause in logs.
//
// Codes by category:
//
//	IMP001-IMP099  job lifecycle (not found, state conflicts, busy)
//	FILE001-099    source file (size, type, structure, encoding)
//	VAL001-099     header validation
//	DB001-099      database (constraints, connectivity)
//	RATE001        request throttling
//	ERR000         fallback, check the logs

import (
	"errors"
	"fmt"
	"strings"
)

// Source file errors returned by Service.Submit and Service.Retry.
var (
	ErrFileTooLarge      = errors.New("file too large")
	ErrEmptyFile         = errors.New("empty file")
	ErrNoFile            = errors.New("no file provided")
	ErrSourceChanged     = errors.New("source file does not match the original upload")
	ErrSourceMissing     = errors.New("source file for job is no longer available")
	ErrNothingToRetry    = errors.New("job has no unprocessed rows to retry")
	ErrUnsupportedFormat = errors.New("unsupported file type")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// sentinelMessages are matched with errors.Is before any text pattern.
var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{ErrJobNotFound, UserMessage{"Import job not found", "Check the job id or start a new import", "IMP001"}},
	{ErrInvalidTransition, UserMessage{"The job cannot do that in its current state", "Refresh the job status and try again", "IMP002"}},
	{ErrStaleJob, UserMessage{"The job changed while the request was processed", "Refresh the job status and try again", "IMP003"}},
	{ErrSourceChanged, UserMessage{"The file differs from the original upload", "Upload the exact same file to continue this job", "IMP004"}},
	{ErrNothingToRetry, UserMessage{"Every row of this job was already processed", "Fix the reported rows and start a new import", "IMP005"}},
	{ErrTooManyImports, UserMessage{"Too many imports are running", "Please wait a moment and try again", "IMP006"}},
	{ErrSourceMissing, UserMessage{"The uploaded file for this job is gone", "Start a new import with the file", "IMP007"}},
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum upload size", "Split the file into smaller files", "FILE001"}},
	{ErrUnsupportedFormat, UserMessage{"Unsupported file type", "Upload a .csv or .xlsx file", "FILE002"}},
	{ErrNoFile, UserMessage{"No file was selected", "Please select a file to upload", "FILE004"}},
	{ErrEmptyFile, UserMessage{"The uploaded file is empty", "Upload a file with a header and data rows", "FILE005"}},
}

// errorPattern maps a lower-case substring of a technical error to a message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are tried in order after sentinels; specific before general.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{"A record with this value already exists", "Download the findings to review duplicates", "DB001"}},
	{"unique constraint", UserMessage{"A record with this value already exists", "Download the findings to review duplicates", "DB001"}},
	{"foreign key", UserMessage{"A referenced category, catalog, or supplier does not exist", "Check the *_id columns or use *_name instead", "DB002"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB003"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB004"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB006"}},
	{"malformed record", UserMessage{"The file is not valid CSV", "Check quoting around the reported line", "FILE003"}},
	{"charset", UserMessage{"The file encoding is not supported", "Save the file as UTF-8 or pass a supported charset", "FILE006"}},
	{"no header row", UserMessage{"The file has no header row", "Start from the downloadable template", "FILE005"}},
	{"missing required columns", UserMessage{"Required columns are missing", "Compare your header with the template", "VAL001"}},
	{"duplicate columns", UserMessage{"A column appears more than once", "Remove the repeated header", "VAL002"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or check your connection", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB005"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "IMP008"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Sentinels are matched with errors.Is, then text patterns case-insensitively.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.target) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

package downloader

import (
	"errors"
	"net/http"
)

// ErrorCategory groups failures by what the caller can do about them.
type ErrorCategory string

const (
	CategoryInvalidURL    ErrorCategory = "invalid_url"
	CategoryInvalidFormat ErrorCategory = "invalid_format"
	CategoryExtraction    ErrorCategory = "extraction"
	CategoryDownload      ErrorCategory = "download"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryInternal      ErrorCategory = "internal"
)

var (
	ErrInvalidURL       = errors.New("invalid TikTok URL")
	ErrInvalidFormat    = errors.New("invalid format")
	ErrExtractionFailed = errors.New("failed to extract video information")
	ErrDownloadFailed   = errors.New("failed to download video")
	ErrArtifactNotFound = errors.New("file not found")

	// ErrEmptyResult marks a remote call that returned without error but
	// produced nothing usable. The chain treats it like any other failure.
	ErrEmptyResult = errors.New("remote returned an empty result")

	// ErrArtifactMissing is returned when the remote reported success but no
	// file carrying the download token exists in the output directory.
	ErrArtifactMissing = errors.New("no output file matched the download token")
)

// unavailableMessage is shown to end users when every persona failed.
const unavailableMessage = "Unable to process this TikTok video. This may be due to geographic restrictions, private video, or temporary service issues. Please try another video or wait a few moments."

// CategorizedError attaches an ErrorCategory to an underlying error.
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

func (e CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e CategorizedError) Unwrap() error {
	return e.Err
}

func wrapCategory(category ErrorCategory, err error) error {
	if err == nil {
		return nil
	}
	var existing CategorizedError
	if errors.As(err, &existing) && existing.Category == category {
		return err
	}
	return CategorizedError{Category: category, Err: err}
}

// CategoryOf returns the outermost category attached to err, or
// CategoryInternal when none is present.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryInternal
}

// ExitCode maps an error to a process exit status for the CLI.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CategoryOf(err) {
	case CategoryInvalidURL, CategoryInvalidFormat:
		return 2
	case CategoryNotFound:
		return 3
	case CategoryExtraction:
		return 4
	case CategoryDownload:
		return 5
	case CategoryFilesystem:
		return 6
	default:
		return 1
	}
}

// HTTPStatus maps an error to the status code the web layer responds with.
func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case "":
		return http.StatusOK
	case CategoryInvalidURL, CategoryInvalidFormat:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryExtraction, CategoryDownload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the message safe to show to an end user. Per-persona
// failure details never leak through it.
func UserMessage(err error) string {
	switch CategoryOf(err) {
	case "":
		return ""
	case CategoryInvalidURL:
		return "Please enter a valid TikTok URL"
	case CategoryInvalidFormat:
		return "Invalid format"
	case CategoryNotFound:
		return "File not found"
	case CategoryExtraction:
		return unavailableMessage
	case CategoryDownload:
		return "Failed to download this TikTok video. Please try again in a few moments."
	default:
		return "Internal server error"
	}
}

type reportedError struct {
	err error
}

func (e reportedError) Error() string {
	return e.err.Error()
}

func (e reportedError) Unwrap() error {
	return e.err
}

// MarkReported flags err as already shown to the user.
func MarkReported(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err: err}
}

// IsReported returns true if the error has already been printed to stderr.
func IsReported(err error) bool {
	var re reportedError
	return errors.As(err, &re)
}

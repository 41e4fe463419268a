// internal/errors/messages.go - User-facing rendering of failures
package errors

import (
	"fmt"
	"strings"

	"github.com/valpere/MediaScrapexter/pkg/types"
)

// Exit codes used by the command line host
const (
	ExitOK        = 0
	ExitFailed    = 1
	ExitConfig    = 2
	ExitCancelled = 130
)

// MessageHandler converts error kinds to user-friendly messages
type MessageHandler struct {
	showTechnical bool
}

// NewMessageHandler creates a handler; verbose adds the raw error text
func NewMessageHandler(verbose bool) *MessageHandler {
	return &MessageHandler{showTechnical: verbose}
}

// Describe returns a title, explanation and suggestions for a kind
func Describe(kind types.ErrorKind) (title, message string, suggestions []string) {
	switch kind {
	case types.ErrTimeout:
		return "Timeout", "The source did not answer within the method timeout.",
			[]string{"Raise method_timeout_seconds", "The source may be slow right now"}
	case types.ErrNetwork:
		return "Network Error", "The connection to the source failed.",
			[]string{"Check your internet connection", "Check DNS and proxy settings"}
	case types.ErrRateLimited:
		return "Rate Limited", "The source asked us to slow down.",
			[]string{"Lower rate_limit_per_min for this source", "Try again later"}
	case types.ErrUpstream5xx:
		return "Source Unavailable", "The source answered with a server error.",
			[]string{"The site may be down; retry later"}
	case types.ErrUpstream4xx:
		return "Request Rejected", "The source rejected the request.",
			[]string{"The site layout or API may have changed"}
	case types.ErrAuthRequired:
		return "Authentication Required", "The source needs credentials.",
			[]string{"Configure credentials for this source's method"}
	case types.ErrForbidden:
		return "Access Forbidden", "The source refused access.",
			[]string{"The source may be blocking automated clients", "Try a different method or proxy"}
	case types.ErrNotFound:
		return "Nothing Found", "The source has no results for this query.",
			[]string{"Try a broader query"}
	case types.ErrParse:
		return "Unexpected Response", "The source returned content that could not be understood.",
			[]string{"The site layout may have changed; update selectors or patterns"}
	case types.ErrExtractorFailed:
		return "Extractor Failed", "The external extraction tool failed.",
			[]string{"Check that yt-dlp or Chrome is installed and up to date"}
	case types.ErrInvalidInput:
		return "Invalid Input", "The request parameters were rejected.",
			[]string{"Check the query and max results", "NSFW sources are skipped with safe search on"}
	case types.ErrCircuitOpen:
		return "Source Paused", "This source failed repeatedly and is cooling down.",
			[]string{"Wait for breaker_cooldown_seconds to pass"}
	case types.ErrCancelled:
		return "Cancelled", "The job was cancelled before this source finished.", nil
	case types.ErrUnknownSource:
		return "Unknown Source", "No source with this id is registered.",
			[]string{"Run the sources command to list ids"}
	case types.ErrNoMethods:
		return "No Methods", "No enabled method applies to this source.",
			[]string{"Enable or configure a method for this source"}
	}
	return "Unexpected Error", "An unexpected error occurred.",
		[]string{"Run again with --verbose for details"}
}

// FormatErrorForCLI formats error for command-line display
func (h *MessageHandler) FormatErrorForCLI(err error) string {
	if err == nil {
		return ""
	}
	title, message, suggestions := Describe(KindOf(err))

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n", title, message)
	if h.showTechnical {
		fmt.Fprintf(&b, "\nTechnical details: %s\n", err.Error())
	}
	if len(suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range suggestions {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	return b.String()
}

// ExitCodeForStatus returns the process exit code for a finished job
func ExitCodeForStatus(status types.JobStatus) int {
	switch status {
	case types.StatusCompleted:
		return ExitOK
	case types.StatusCancelled:
		return ExitCancelled
	default:
		return ExitFailed
	}
}

package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/issue-notifier/internal/pkg/ctxlog"
)

// ErrorMapping maps a sentinel error to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // err.Error() when empty
}

// contextMappings apply to every handler. A request cut short by the
// client or by the timeout middleware is not a server fault.
var contextMappings = []ErrorMapping{
	{Error: context.DeadlineExceeded, Status: http.StatusServiceUnavailable, Message: "request timed out"},
	{Error: context.Canceled, Status: http.StatusServiceUnavailable, Message: "request canceled"},
}

// HandleError writes the response of the first mapping err matches.
// Unmapped errors are logged and answered with 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	logger := ctxlog.FromContext(ctx)

	if m, ok := findMapping(err, mappings); ok {
		Error(w, m.Status, messageFor(m, err))
		return
	}
	if m, ok := findMapping(err, contextMappings); ok {
		logger.Warn("request aborted", "error", err)
		Error(w, m.Status, m.Message)
		return
	}

	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal error")
}

func findMapping(err error, mappings []ErrorMapping) (ErrorMapping, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			return m, true
		}
	}
	return ErrorMapping{}, false
}

func messageFor(m ErrorMapping, err error) string {
	if m.Message != "" {
		return m.Message
	}
	return err.Error()
}

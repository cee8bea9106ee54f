// Package response implements the gateway's single error envelope, mapping
// an apierr.Kind to exactly one HTTP status (spec.md §7).
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cardpipe/cardpipe/internal/platform/apierr"
)

// ErrorEnvelope is the wire shape spec.md §7 mandates:
// {error:<kind>, message:<short>, jobId?:<id>}, plus the ambient trace
// fields every response in this system carries.
type ErrorEnvelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	JobID     string `json:"jobId,omitempty"`
	TraceID   string `json:"traceId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// RespondError writes the taxonomy-mapped status and the standard envelope.
// It never leaks a stack trace: message is apierr.Error.Error(), which is
// always a short, caller-composed string.
func RespondError(c *gin.Context, err *apierr.Error) {
	if err == nil {
		err = apierr.New(apierr.KindInternal, nil)
	}
	c.JSON(err.Status, ErrorEnvelope{
		Error:     string(err.Kind),
		Message:   err.Error(),
		JobID:     err.JobID,
		TraceID:   c.GetString("trace_id"),
		RequestID: c.GetString("request_id"),
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

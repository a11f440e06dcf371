package httpapi

import (
	"net/http"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// statusForError maps a document-store error to the HTTP status code
// described in §7: Configuration/Type errors are the caller's fault (400),
// Backend errors are 503 when retryable and 500 otherwise, and Invariant
// errors — internal assertion failures — are always 500.
func statusForError(err error) int {
	switch docerrors.GetCategory(err) {
	case docerrors.ErrCategoryConfiguration, docerrors.ErrCategoryType:
		return http.StatusBadRequest
	case docerrors.ErrCategoryBackend:
		if docerrors.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	case docerrors.ErrCategoryInvariant:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeDocError writes err to w at the status statusForError maps it to,
// including the request ID carried on ctx.
func writeDocError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, statusForError(err), err.Error(), GetRequestID(r.Context()))
}

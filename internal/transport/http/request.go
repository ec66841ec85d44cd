package http

import (
	"net/http"

	apierrors "profusion/internal/errors"
)

// userID extracts the calling user's id. The gateway in front of this
// service authenticates requests and forwards the identity in a header;
// a query parameter is accepted for direct use during development.
func userID(r *http.Request) (string, *apierrors.APIError) {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id, nil
	}
	if id := r.URL.Query().Get("user"); id != "" {
		return id, nil
	}
	return "", apierrors.ErrValidation("user", "User identity is required")
}

package testutil

import (
	"net/http"

	"govportal/pkg/requestcontext"
	"govportal/pkg/session"
)

// WithSession attaches sess to the request context.
// This simulates what the auth middleware does for authenticated requests.
// A zero session leaves the request unauthenticated.
func WithSession(req *http.Request, sess session.Session) *http.Request {
	if sess.IsZero() {
		return req
	}
	return req.WithContext(requestcontext.WithSession(req.Context(), sess))
}

// WithBearer sets an Authorization header.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

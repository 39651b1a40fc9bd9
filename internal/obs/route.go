package obs

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests that never reached a registered route, so raw
// paths (and the session ids inside them) stay out of metric and span names.
const unmatchedRoute = "unmatched"

// RouteLabel returns the chi pattern the request was routed to. It is only
// complete once the router has served the request.
func RouteLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

func sessionParam(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.URLParam("sessionID")
	}
	return ""
}

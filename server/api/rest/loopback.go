package rest

import (
	"net"
	"net/http"

	"github.com/faceforge/orchestrator/common/gerror"
)

var errNotLoopback = gerror.NewError(
	"this server only accepts local connections",
	gerror.AudienceExternal,
	gerror.ErrCodeUnauthorized,
	http.StatusForbidden,
	nil,
)

// requireLoopback rejects any request whose remote address is not a loopback client, matching
// the local-only-by-default posture of the HTTP surface; config.AllowRemote swaps this
// middleware out entirely rather than have it always evaluate a permissive condition.
func requireLoopback(base *apiBase) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isLoopbackRequest(r) {
				base.Error(w, r, errNotLoopback)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

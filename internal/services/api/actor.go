package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/google/uuid"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderRequestID = "X-Request-ID"
)

type actorKey struct{}

// ActorMiddleware builds the request actor from headers and the connection.
// A request id is generated when the caller did not send one and echoed back.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)

		a := notification.Actor{
			Source:    notification.SourceCaller,
			ID:        strings.TrimSpace(r.Header.Get(HeaderActorID)),
			RequestID: reqID,
			IP:        remoteIP(r),
			UserAgent: r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, a)))
	})
}

func ActorFrom(ctx context.Context) notification.Actor {
	a, _ := ctx.Value(actorKey{}).(notification.Actor)
	return a
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

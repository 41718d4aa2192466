package realtime

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HandlerConfig configures the websocket upgrade endpoint.
type HandlerConfig struct {
	Transport TransportConfig
	// AllowedOrigins lists browser origins allowed to connect ("*" allows
	// any). When empty, gorilla's same-origin check applies.
	AllowedOrigins []string
}

// Handler upgrades the request to a websocket and serves it until the
// connection closes.
func (h *Hub) Handler(cfg HandlerConfig) gin.HandlerFunc {
	up := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	return func(c *gin.Context) {
		connLog := log.With().
			Str("conn_id", uuid.NewString()).
			Str("remote_ip", c.ClientIP()).
			Logger()

		conn, err := up.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error response.
			connLog.Info().Err(err).Str("origin", c.GetHeader("Origin")).Msg("ws upgrade failed")
			c.Abort()
			return
		}

		t := NewWSTransport(conn, cfg.Transport, connLog)
		h.Serve(c.Request.Context(), t, connLog)
	}
}

// originChecker returns a CheckOrigin func for the configured allow-list.
// Requests without an Origin header come from non-browser clients and are
// accepted.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
			continue
		}
		if n, ok := normalizeOrigin(o); ok {
			allowed[n] = struct{}{}
		}
	}
	if !allowAll && len(allowed) == 0 {
		return nil
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		n, ok := normalizeOrigin(origin)
		if !ok {
			return false
		}
		_, ok = allowed[n]
		return ok
	}
}

func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

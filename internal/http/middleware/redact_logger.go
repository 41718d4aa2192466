// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger for the REST API and
// the websocket upgrade endpoint. It attaches the request-scoped logger that
// LoggerFrom returns and emits one structured line per request with obvious
// PII and credentials scrubbed.
//
// Scrubbing rules:
//   - bodies are never logged;
//   - Authorization, Cookie and Set-Cookie (plus MaskHeaders) are replaced by
//     "[REDACTED]";
//   - query parameters named in MaskQueryParams (access_token and token by
//     default) have their values replaced;
//   - remaining header values and the query string have emails, phone numbers
//     and UUIDs substituted.
//
// Websocket upgrades are logged once the connection ends, with the total
// session duration as latency and "upgraded": true.
package middleware

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders lists extra header names (case-insensitive) to mask fully.
	MaskHeaders []string
	// MaskQueryParams lists query parameter names whose values are masked.
	// When nil, access_token and token are masked.
	MaskQueryParams []string
	// SkipPaths are routes that are served but never logged (e.g. /health).
	SkipPaths []string
}

// Regexes are compiled once. UUIDs are replaced before phone numbers so the
// digit runs inside a UUID are not taken for a phone number.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redactPII substitutes UUIDs, emails and phone numbers in s.
func redactPII(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactingLogger returns the access-log middleware.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskHeaders := lowerSet([]string{"authorization", "cookie", "set-cookie"}, opts.MaskHeaders)
	queryParams := opts.MaskQueryParams
	if queryParams == nil {
		queryParams = []string{"access_token", "token"}
	}
	maskQuery := lowerSet(nil, queryParams)
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		route := routeOf(c)
		attachLogger(c, route)

		if _, ok := skip[route]; ok {
			c.Next()
			return
		}

		upgraded := websocket.IsWebSocketUpgrade(c.Request)
		query := scrubQuery(c.Request.URL.RawQuery, maskQuery)
		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redactPII(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}

		l := LoggerFrom(c)
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0:
			ev = l.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		default:
			ev = l.Info()
		}
		ev.
			Str("query", truncate(query, maxQueryLogLength)).
			Int("status", status).
			Int("bytes", size).
			Dur("latency", time.Since(start)).
			Bool("upgraded", upgraded).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// scrubQuery masks credential parameters and redacts PII in the rest.
func scrubQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return redactPII(raw)
	}
	for k := range vals {
		if _, ok := mask[strings.ToLower(k)]; ok {
			vals[k] = []string{"[REDACTED]"}
		}
	}
	// Encode escapes the brackets; unescape so the log stays readable.
	enc := vals.Encode()
	if dec, err := url.QueryUnescape(enc); err == nil {
		enc = dec
	}
	return redactPII(enc)
}

func lowerSet(base, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, s := range list {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

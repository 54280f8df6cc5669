package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// corsMiddleware answers preflights for the browser client, which is served
// from a different origin than the API. Authentication lives in the fronting
// proxy, so the API itself is permissive; Content-Range is exposed so the
// history fetch can read it cross-origin.
func corsMiddleware() gin.HandlerFunc {
	allowHeaders := strings.Join([]string{
		"Content-Type", "Range", "X-Auth-User", "X-Auth-Admin",
	}, ", ")
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, HEAD, OPTIONS")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Expose-Headers", "Content-Range, Content-Length")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// noStoreMiddleware forbids caching. The history log grows while a session
// runs; a cached range response would replay stale bytes to a reconnecting
// client and break the marker arithmetic.
func noStoreMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Cache-Control", "no-store")
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

// timingWriter stamps a Server-Timing header the moment the response status
// is decided, so history range fetches show their server latency in the
// browser's network panel.
type timingWriter struct {
	gin.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *timingWriter) stamp() {
	if w.stamped {
		return
	}
	w.stamped = true
	w.Header().Set("Server-Timing", fmt.Sprintf("app;dur=%.1f", float64(time.Since(w.start).Microseconds())/1000.0))
}

func (w *timingWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *timingWriter) Write(p []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(p)
}

func (w *timingWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timingWriter) Flush() {
	w.stamp()
	w.ResponseWriter.Flush()
}

func timingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer = &timingWriter{ResponseWriter: c.Writer, start: time.Now()}
		c.Next()
	}
}

// redactedParams are query parameters that may carry credentials. The WS
// endpoint accepts a token for clients that cannot set headers, and fronting
// proxies occasionally forward their own auth params through.
var redactedParams = map[string]struct{}{
	"token":         {},
	"access_token":  {},
	"auth":          {},
	"authorization": {},
	"bearer":        {},
	"jwt":           {},
	"api_key":       {},
	"apikey":        {},
	"password":      {},
	"secret":        {},
	"client_secret": {},
}

// sanitizeRequestPath rebuilds path?query for the request log with
// credential-bearing values masked. A query string that does not parse is
// dropped wholesale rather than risk logging a token inside it.
func sanitizeRequestPath(u *url.URL) string {
	if u.RawQuery == "" {
		return u.Path
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return u.Path + "?[unparseable]"
	}
	masked := false
	for key := range values {
		if _, hit := redactedParams[strings.ToLower(key)]; hit {
			values.Set(key, "[REDACTED]")
			masked = true
		}
	}
	if !masked {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path + "?" + values.Encode()
}

// requestLogMiddleware emits one structured line per request, the same
// logrus shape the runtime components use.
func requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := sanitizeRequestPath(c.Request.URL)

		c.Next()

		status := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}
		entry := logrus.WithFields(logrus.Fields{
			"status": status,
			"bytes":  size,
			"ms":     time.Since(start).Milliseconds(),
		})
		msg := fmt.Sprintf("%s %s", c.Request.Method, path)
		switch {
		case len(c.Errors) > 0:
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		case status >= http.StatusInternalServerError:
			entry.Error(msg)
		case status >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Info(msg)
		}
	}
}

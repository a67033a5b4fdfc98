package quotafence

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// ErrorCodeTooManyRequests is the stable error code in denial bodies.
const ErrorCodeTooManyRequests = "TOO_MANY_REQUESTS"

// DenialBody is the JSON payload returned on a denied request.
type DenialBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
	Blocked           bool   `json:"blocked,omitempty"`
}

// UserIDFunc extracts the authenticated principal id from a request, or ""
// for anonymous callers.
type UserIDFunc func(*http.Request) string

// Middleware wraps a handler with admission control for the named endpoint
// group. Standard rate limit headers are set on every checked response;
// denied requests are short-circuited with a 429 and a structured JSON body.
func (l *Limiter) Middleware(groupName string, next http.Handler) http.Handler {
	return l.MiddlewareWithUser(groupName, nil, next)
}

// MiddlewareWithUser is Middleware with an extractor for the authenticated
// user id, so logged-in callers are limited by identity rather than address.
func (l *Limiter) MiddlewareWithUser(groupName string, userID UserIDFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := FromHTTP(r)
		if userID != nil {
			req.UserID = userID(r)
		}

		decision := l.Check(groupName, req)
		writeRateHeaders(w, decision)

		if !decision.Allowed {
			writeDenial(w, decision)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeRateHeaders sets the draft RateLimit headers on every checked
// response, allowed or denied. Reset is epoch seconds.
func writeRateHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	if !d.ResetAt.IsZero() {
		h.Set("RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

func writeDenial(w http.ResponseWriter, d Decision) {
	retry := d.RetryAfterSeconds()
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	body := DenialBody{
		Error:             ErrorCodeTooManyRequests,
		RetryAfterSeconds: retry,
		Blocked:           d.Blocked,
	}
	if d.Blocked {
		body.Message = "Too many failed attempts; temporarily blocked. Retry after " + d.ResetAt.UTC().Format("2006-01-02T15:04:05Z") + "."
	} else {
		body.Message = "Rate limit exceeded. Retry after " + strconv.Itoa(retry) + "s."
	}
	json.NewEncoder(w).Encode(body)
}

package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// intQueryParam parses an integer query parameter, falling back to def
func intQueryParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// timeWindow parses the from/to query parameters (RFC 3339), defaulting
// to the trailing window ending now
func timeWindow(r *http.Request, def time.Duration) (time.Time, time.Time) {
	now := time.Now().UTC()
	from := now.Add(-def)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			from = t.UTC()
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = t.UTC()
		}
	}
	if to.Before(from) {
		from, to = to, from
	}
	return from, to
}

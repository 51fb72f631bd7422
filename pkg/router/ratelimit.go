package router

import (
	"encoding/json"
	"net/http"
	"strings"
)

// isRateLimited recognises providers throttling us. Header hints only count on
// failed answers; a 2xx carrying Retry-After still served the call. A top-level
// message is only read when the answer failed, so a successful payload that
// mentions limits is left alone.
func isRateLimited(status int, header http.Header, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 400 {
		if strings.TrimSpace(header.Get("Retry-After")) != "" {
			return true
		}
		if strings.EqualFold(header.Get("X-RateLimit-Remaining"), "0") {
			return true
		}
	}
	var j map[string]any
	if len(body) > 0 && json.Unmarshal(body, &j) == nil {
		if errObj, ok := j["error"].(map[string]any); ok {
			if s, ok := errObj["message"].(string); ok && looksLikeRL(s) {
				return true
			}
		}
		if s, ok := j["error"].(string); ok && looksLikeRL(s) {
			return true
		}
		failed := status >= 400
		if ok, isBool := j["success"].(bool); isBool && !ok {
			failed = true
		}
		if s, ok := j["message"].(string); ok && failed && looksLikeRL(s) {
			return true
		}
	}
	return false
}

func looksLikeRL(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many request")
}

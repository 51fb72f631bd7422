package api

import (
	"time"

	"go.uber.org/zap"

	"github.com/shuliakovsky/rpc-failover/pkg/secrets"
)

const LogBodyLimit = 4096

// LogSafe truncates and redacts a body for logging. b is never modified.
func LogSafe(b []byte) string {
	s := string(b)
	if len(s) > LogBodyLimit {
		s = s[:LogBodyLimit] + "... [truncated]"
	}
	return secrets.RedactString(s)
}

func LogRequest(logger *zap.Logger, tag string, method, path string, body []byte) time.Time {
	logger.Info(tag+"_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("body", LogSafe(body)),
	)
	return time.Now()
}

func LogResponse(logger *zap.Logger, tag string, status int, body []byte, started time.Time) {
	logger.Info(tag+"_response",
		zap.Int("status", status),
		zap.Int64("latency_ms", time.Since(started).Milliseconds()),
		zap.String("body", LogSafe(body)),
	)
}

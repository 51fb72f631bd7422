package secrets

import (
	"net/url"
	"os"
	"strings"
	"sync"
)

var (
	once          sync.Once
	sensitiveEnvs []string

	headerKeySet = map[string]struct{}{
		"x-api-key":           {},
		"authorization":       {},
		"proxy-authorization": {},
		"api-key":             {},
	}

	queryKeySet = map[string]struct{}{
		"apikey":  {},
		"api_key": {},
		"api-key": {},
		"key":     {},
		"token":   {},
	}

	envNameSensitivePatterns = []string{
		"API_KEY", "TOKEN", "SECRET", "PASSWORD", "ACCESS_KEY", "PRIVATE_KEY",
	}
)

func initSensitiveEnvs() {
	for _, kv := range os.Environ() {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || val == "" {
			continue
		}
		up := strings.ToUpper(name)
		for _, pat := range envNameSensitivePatterns {
			if strings.Contains(up, pat) {
				sensitiveEnvs = append(sensitiveEnvs, val)
				break
			}
		}
	}
}

func RedactHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return h
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if _, ok := headerKeySet[strings.ToLower(k)]; ok {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	return out
}

func RedactString(s string) string {
	once.Do(initSensitiveEnvs)
	for _, val := range sensitiveEnvs {
		s = strings.ReplaceAll(s, val, "[HIDDEN]")
	}
	return s
}

// RedactURL hides credentials, key-like query parameters and known secret values in u.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return RedactString(u)
	}
	if parsed.User != nil {
		parsed.User = url.User("***")
	}
	if parsed.RawQuery != "" {
		q := parsed.Query()
		for k := range q {
			if _, ok := queryKeySet[strings.ToLower(k)]; ok {
				q.Set(k, "***")
			}
		}
		parsed.RawQuery = q.Encode()
	}
	return RedactString(parsed.String())
}

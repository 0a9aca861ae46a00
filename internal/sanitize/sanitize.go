// Package sanitize scrubs sensitive values out of error and log context
// maps before they leave the gateway.
package sanitize

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// RedactedPlaceholder replaces the value of any recognized sensitive key.
const RedactedPlaceholder = "***REDACTED***"

// MaxContextSizeBytes caps the serialized size of a sanitized context map.
const MaxContextSizeBytes = 1024

// defaultSensitiveKeys is the compile-time blacklist. Keys are matched
// case-insensitively against the lowercase form.
var defaultSensitiveKeys = map[string]struct{}{
	"password":      {},
	"passwd":        {},
	"pwd":           {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"secret":        {},
	"secret_key":    {},
	"api_key":       {},
	"apikey":        {},
	"credential":    {},
	"credentials":   {},
	"auth":          {},
	"authorization": {},
	"private_key":   {},
	"broker_id":     {},
	"investor_id":   {},
	"auth_code":     {},
	"app_id":        {},
}

var (
	runtimeMu   sync.RWMutex
	runtimeKeys = make(map[string]struct{})
)

// AddSensitiveKey extends the blacklist at runtime. The key is lowercased
// before storage, so matching stays case-insensitive.
func AddSensitiveKey(key string) {
	runtimeMu.Lock()
	runtimeKeys[strings.ToLower(key)] = struct{}{}
	runtimeMu.Unlock()
}

// IsSensitiveKey reports whether the key is on the blacklist.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := defaultSensitiveKeys[lower]; ok {
		return true
	}
	runtimeMu.RLock()
	_, ok := runtimeKeys[lower]
	runtimeMu.RUnlock()
	return ok
}

// SensitiveKeys returns a copy of the current blacklist (defaults plus
// runtime additions).
func SensitiveKeys() []string {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	keys := make([]string, 0, len(defaultSensitiveKeys)+len(runtimeKeys))
	for k := range defaultSensitiveKeys {
		keys = append(keys, k)
	}
	for k := range runtimeKeys {
		if _, dup := defaultSensitiveKeys[k]; !dup {
			keys = append(keys, k)
		}
	}
	return keys
}

// Context redacts sensitive values from ctx and enforces the size cap.
// The input map is never modified; a new map is always returned. When the
// serialized result exceeds MaxContextSizeBytes the whole map is replaced
// by a truncation marker that keeps only the key list and the size.
func Context(ctx map[string]any) map[string]any {
	return ContextLimit(ctx, MaxContextSizeBytes)
}

// ContextLimit is Context with an explicit size cap, exposed for tests.
func ContextLimit(ctx map[string]any, maxSize int) map[string]any {
	if len(ctx) == 0 {
		return map[string]any{}
	}

	sanitized := make(map[string]any, len(ctx))
	for key, value := range ctx {
		if IsSensitiveKey(key) {
			sanitized[key] = RedactedPlaceholder
		} else {
			sanitized[key] = value
		}
	}

	if size := serializedSize(sanitized); size > maxSize {
		keys := make([]string, 0, len(ctx))
		for k := range ctx {
			keys = append(keys, k)
		}
		return map[string]any{
			"_truncated":     true,
			"_original_keys": keys,
			"_size_bytes":    size,
		}
	}
	return sanitized
}

func serializedSize(m map[string]any) int {
	data, err := json.Marshal(m)
	if err != nil {
		// Non-serializable values still occupy memory; fall back to the
		// fmt rendering for the size estimate.
		return len(fmt.Sprint(m))
	}
	return len(data)
}

package audit

import (
	"strings"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

const maskedValue = "***"

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"set-cookie":    {},
	"token":         {},
	"secret":        {},
	"api_key":       {},
	"password":      {},
}

// Mask returns a copy of m with the values of sensitive keys replaced at
// every depth. Key matching ignores case. The input is never modified.
func Mask(m domain.JSONMap) domain.JSONMap {
	if m == nil {
		return nil
	}
	return domain.JSONMap(maskMap(m))
}

func maskMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitive(k) {
			out[k] = maskedValue
			continue
		}
		out[k] = maskValue(v)
	}
	return out
}

func maskValue(v any) any {
	switch val := v.(type) {
	case domain.JSONMap:
		return maskMap(val)
	case map[string]any:
		return maskMap(val)
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			if isSensitive(k) {
				out[k] = maskedValue
				continue
			}
			out[k] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = maskValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = maskMap(item)
		}
		return out
	default:
		return v
	}
}

func isSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

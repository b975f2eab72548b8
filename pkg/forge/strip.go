package forge

import "strings"

// StripURLFields recursively removes any map key that looks like a URL
// field (case-insensitive suffix/equality match on "url"/"_url"/"Url") from
// a raw payload, in place, and returns it. Used when normalizing raw
// forge payloads (§4.1: "URL-valued fields stripped recursively to keep
// payloads small") before they are retained as Task.RawPayload.
func StripURLFields(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			if isURLKey(k) {
				delete(val, k)
				continue
			}
			val[k] = StripURLFields(child)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = StripURLFields(child)
		}
		return val
	default:
		return v
	}
}

func isURLKey(key string) bool {
	lower := strings.ToLower(key)
	return lower == "url" || strings.HasSuffix(lower, "_url") || strings.HasSuffix(lower, "url")
}

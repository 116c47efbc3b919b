package masking

import "strings"

const maskToken = "****"

var secretKeys = map[string]struct{}{
	"consumersecret": {},
	"consumerkey":    {},
	"passkey":        {},
	"password":       {},
	"secret":         {},
	"token":          {},
}

var phoneKeys = map[string]struct{}{
	"phone":         {},
	"phonenumber":   {},
	"customerphone": {},
	"msisdn":        {},
}

// MaskSecret keeps only the last four characters of a credential.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskPhone keeps the country prefix and last three digits, e.g. 2547****678.
func MaskPhone(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) < 8 {
		return MaskSecret(trimmed)
	}
	return trimmed[:4] + maskToken + trimmed[len(trimmed)-3:]
}

// MaskJSON returns a copy of input where credential and phone fields are
// masked. Nested maps and slices are walked.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(normalizeKey(trimmedKey), value)
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if _, ok := secretKeys[key]; ok {
			return MaskSecret(cast)
		}
		if _, ok := phoneKeys[key]; ok {
			return MaskPhone(cast)
		}
		return cast
	case map[string]any:
		return MaskJSON(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

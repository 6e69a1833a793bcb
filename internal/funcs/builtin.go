package funcs

import (
	"encoding/base64"
	"time"
)

// Builtins cover the lifecycle defaults and transforms the stock profile
// documents rely on. Applications register their own on top.
func registerBuiltins(r *Registry) {
	r.RegisterFunc("now", func(map[string]any) any {
		return time.Now().UTC().Format(time.RFC3339)
	})
	r.RegisterFunc("today", func(map[string]any) any {
		return time.Now().UTC().Format("2006-01-02")
	})
	r.RegisterFunc("unix_now", func(map[string]any) any {
		return time.Now().Unix()
	})

	r.RegisterValidator("always", func(map[string]any, []string) bool { return true })

	r.RegisterTransform("identity", func(rec map[string]any) map[string]any { return rec })

	// reverse_strings is its own inverse; useful as a symmetric
	// obfuscate/deobfuscate pair in demos and tests.
	r.RegisterTransform("reverse_strings", mapStrings(reverseString))

	// base64 pair. Declaring only one side yields stored data that does
	// not round-trip, which is configurable, documented behavior.
	r.RegisterTransform("base64_strings", mapStrings(func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	}))
	r.RegisterTransform("unbase64_strings", mapStrings(func(s string) string {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return s
		}
		return string(b)
	}))
}

func mapStrings(fn func(string) string) Transform {
	return func(rec map[string]any) map[string]any {
		out := make(map[string]any, len(rec))
		for k, v := range rec {
			if s, ok := v.(string); ok {
				out[k] = fn(s)
			} else {
				out[k] = v
			}
		}
		return out
	}
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

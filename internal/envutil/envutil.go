package envutil

import (
	"os"
	"strings"
)

// Prefix is the namespaced form accepted for every setting
const Prefix = "SCANCOLLAB_"

// Lookup returns the value of key, falling back to the SCANCOLLAB_ prefixed form.
// Unprefixed names win so local shells can override container-wide settings.
func Lookup(key string) (string, bool) {
	if value, exists := os.LookupEnv(key); exists {
		return value, true
	}
	if !strings.HasPrefix(key, Prefix) {
		if value, exists := os.LookupEnv(Prefix + key); exists {
			return value, true
		}
	}
	return "", false
}

// Get retrieves an environment variable via Lookup, returning fallback when unset
func Get(key, fallback string) string {
	if value, ok := Lookup(key); ok {
		return value
	}
	return fallback
}

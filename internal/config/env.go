package config

import (
	"os"
	"regexp"
	"strings"
)

// envPattern matches ${VAR} and ${VAR:default} references
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// ExpandEnv replaces ${VAR} references in raw config text with environment
// values. ${VAR:default} falls back to the default when VAR is unset.
// Unset variables without a default expand to the empty string.
func ExpandEnv(raw string) string {
	return envPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name := groups[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return groups[2]
	})
}

// EnvOr returns the named environment variable or a default
func EnvOr(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

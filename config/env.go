package config

import (
	"os"
	"regexp"
	"strings"
)

var (
	withDefaultPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-(.*?)\}`)
	bracedPattern      = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// ExpandEnv replaces ${VAR} and ${VAR:-default}. An unset or empty VAR
// takes the default, or the empty string.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	s = withDefaultPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := withDefaultPattern.FindStringSubmatch(match)
		if v := os.Getenv(parts[1]); v != "" {
			return v
		}
		return parts[2]
	})
	return bracedPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := bracedPattern.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
}

package config

import (
	"fmt"
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} references (spec §6.3).
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnvBytes applies ${VAR} substitution to every occurrence in raw,
// recursively in the sense that it runs over the whole document text before
// any YAML structure is imposed — the same "recursive to all string leaves"
// effect spec §6.3 calls for, achieved without walking a parsed tree. An
// unset referenced variable is a fatal config error.
func substituteEnvBytes(raw []byte) ([]byte, error) {
	var firstErr error
	result := envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		value, ok := os.LookupEnv(string(name))
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("environment variable %q referenced in config is not set", name)
			}
			return match
		}
		return []byte(value)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}

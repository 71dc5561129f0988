// Package util holds environment lookups used while loading configuration.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// LookupBool reads a boolean switch. ok is false when the variable is unset,
// blank, or not one of true/1/yes/on/false/0/no/off (case-insensitive).
func LookupBool(key string) (value, ok bool) {
	raw, set := os.LookupEnv(key)
	v := strings.ToLower(strings.TrimSpace(raw))
	if !set || v == "" {
		return false, false
	}
	switch v {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}
	slog.Warn("util.LookupBool: ignoring invalid boolean", "key", key, "value", raw)
	return false, false
}

// FirstEnv returns the value of the first non-empty variable in keys, along
// with its name.
func FirstEnv(keys ...string) (value, key string) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v, k
		}
	}
	return "", ""
}

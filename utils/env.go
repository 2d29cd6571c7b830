package utils

import (
	"os"
	"strconv"
	"strings"
)

// EnvInt reads an int env var with a default fallback.
func EnvInt(key string, def int) int {
	return ParseIntDefault(os.Getenv(key), def)
}

// EnvString reads a trimmed env var, returning def when unset or blank.
func EnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func ParseIntDefault(s string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && v >= 0 {
		return v
	}
	return def
}

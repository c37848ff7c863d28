package env

import (
	"fmt"
	"os"
	"time"

	pkgstrings "github.com/expensly/expensly-go/pkg/strings"
)

func Must[T any](val T, err error) T {
	if err != nil {
		panic(fmt.Errorf("failed to parse environment: %w", err))
	}
	return val
}

func ParseBool(key string) (bool, error) {
	str, ok := os.LookupEnv(key)
	if !ok {
		return false, notFoundError(key, "boolean")
	}
	b, err := pkgstrings.ParseTypedValue[bool](str)
	if err != nil {
		return false, invalidValueError(key, "boolean")
	}
	return b, nil
}

func ParseInt(key string) (int, error) {
	str, ok := os.LookupEnv(key)
	if !ok {
		return 0, notFoundError(key, "integer")
	}
	i, err := pkgstrings.ParseTypedValue[int](str)
	if err != nil {
		return 0, invalidValueError(key, "integer")
	}
	return i, nil
}

func ParseString(key string) (string, error) {
	str, ok := os.LookupEnv(key)
	if !ok {
		return "", notFoundError(key, "string")
	}
	return str, nil
}

func ParseDuration(key string) (time.Duration, error) {
	str, ok := os.LookupEnv(key)
	if !ok {
		return 0, notFoundError(key, "duration")
	}
	d, err := pkgstrings.ParseTypedValue[time.Duration](str)
	if err != nil {
		return 0, invalidValueError(key, "duration")
	}
	return d, nil
}

// ParseStringDefault and ParseDurationDefault read optional variables,
// falling back to the provided default when the variable is unset.
// An unset variable is not an error, an unparsable one still is.

func ParseStringDefault(key, defaultValue string) (string, error) {
	str, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue, nil
	}
	return str, nil
}

func ParseDurationDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	str, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue, nil
	}
	d, err := pkgstrings.ParseTypedValue[time.Duration](str)
	if err != nil {
		return 0, invalidValueError(key, "duration")
	}
	return d, nil
}

func notFoundError(key, varType string) error {
	return fmt.Errorf("env %s with type %s not found", key, varType)
}

func invalidValueError(key, varType string) error {
	return fmt.Errorf("env %s with type %s has invalid value", key, varType)
}

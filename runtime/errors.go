package runtime

import (
	"errors"
	"fmt"
)

// ConfigError marks a startup configuration failure: the process should
// exit 1 with a message naming what's wrong, without starting the loop.
type ConfigError struct {
	err error
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{err: fmt.Errorf(format, args...)}
}

func (e *ConfigError) Error() string { return e.err.Error() }
func (e *ConfigError) Unwrap() error { return e.err }

// ExitCode maps a daemon error to its process exit code: 0 on clean
// shutdown, 1 on configuration errors, 2 on unrecoverable runtime
// failures.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return 1
	}
	return 2
}

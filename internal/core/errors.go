package core

import (
	"fmt"
	"time"
)

// ParseError indicates a registry index record that could not be decoded.
// It is never retried.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing index record for %s: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that a bounded publication check ran out of time.
// Wait is true when the whole polling loop expired, false when a single
// index lookup did.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
	Wait    bool
}

func (e *TimeoutError) Error() string {
	if e.Wait {
		return fmt.Sprintf(
			"timeout of %s elapsed while waiting for the package %s to be published. "+
				"You can increase this timeout by editing the `publish_timeout` field in the `release-plz.toml` file",
			e.Timeout, e.Name)
	}
	return fmt.Sprintf("timeout of %s elapsed while checking if the package %s is published", e.Timeout, e.Name)
}

// Package cargocmd runs the cargo command-line tool for sibling
// functionality such as publishing. The publication check itself never
// shells out; it observes registry state directly.
package cargocmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Output holds the outcome of one cargo invocation.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success reports whether cargo exited cleanly.
func (o Output) Success() bool {
	return o.ExitCode == 0
}

// Path returns the cargo executable to run, honoring the CARGO environment
// variable override.
func Path() string {
	if p := os.Getenv("CARGO"); p != "" {
		return p
	}
	return "cargo"
}

// Run executes cargo with args in the root directory. A non-zero exit is
// reported through Output, not as an error; an error means cargo could not
// be run at all.
func Run(ctx context.Context, logger zerolog.Logger, root string, args ...string) (Output, error) {
	logger.Debug().Str("dir", root).Msg("cargo " + strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, Path(), args...)
	cmd.Dir = root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	logger.Debug().Str("stdout", out.Stdout).Str("stderr", out.Stderr).Msg("cargo output")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("cannot run cargo: %w", err)
	}

	return out, nil
}

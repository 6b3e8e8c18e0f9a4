package util

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// RequireBinary verifies the binary is on PATH.
func RequireBinary(name string) error {
	_, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("required binary not found: %s", name)
	}
	return nil
}

// MergeEnv merges new env entries into the current process environment.
func MergeEnv(extra []string) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, extra...)
	return env
}

// RunCommand executes a shell command line in dir and returns its
// combined output.
func RunCommand(ctx context.Context, dir, line string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("run %q: %w", line, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CaptureOutput runs a binary and returns trimmed stdout.
func CaptureOutput(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

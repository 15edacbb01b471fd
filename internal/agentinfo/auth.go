// Package agentinfo answers questions about the agent CLI and the
// project's agent configuration: install/auth status and skills.
package agentinfo

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"
)

const defaultProbeTimeout = 5 * time.Second

// AuthStatus reports whether the agent CLI is installed and logged in.
type AuthStatus struct {
	Installed     bool   `json:"installed"`
	Authenticated bool   `json:"authenticated"`
	Version       string `json:"version,omitempty"`
}

// AuthChecker probes the agent CLI.
type AuthChecker struct {
	Binary  string
	Timeout time.Duration
}

// Status runs "<binary> --version" and "<binary> auth status". A CLI
// that cannot report its version is treated as not installed; a failing
// auth probe means not authenticated.
func (c *AuthChecker) Status(ctx context.Context) AuthStatus {
	version, err := c.run(ctx, "--version")
	if err != nil {
		return AuthStatus{}
	}
	status := AuthStatus{Installed: true, Version: strings.TrimSpace(version)}
	if _, err := c.run(ctx, "auth", "status"); err == nil {
		status.Authenticated = true
	}
	return status
}

func (c *AuthChecker) run(ctx context.Context, args ...string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	binary := c.Binary
	if binary == "" {
		binary = "claude"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

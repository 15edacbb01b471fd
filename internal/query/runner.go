package query

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/benW3ART/vibes-sub001/internal/streamjson"
)

const maxStderr = 4096

// CLIRunner answers a query with a transient `claude --print` process
// streaming JSON.
type CLIRunner struct {
	// Binary is the agent executable. Empty means "claude".
	Binary string
	// Args are inserted before the prompt.
	Args []string
}

// Command builds the process for req.
func (r *CLIRunner) Command(ctx context.Context, req Request) *exec.Cmd {
	binary := r.Binary
	if binary == "" {
		binary = "claude"
	}
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if req.ModelID != "" {
		args = append(args, "--model", req.ModelID)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	args = append(args, r.Args...)
	args = append(args, req.Prompt)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = req.ProjectPath
	return cmd
}

// Run executes the query. Assistant text is reported as chunks; the
// result line is the answer. Output that is not stream-json is treated
// as plain text.
func (r *CLIRunner) Run(ctx context.Context, req Request, chunk func(string)) (string, error) {
	cmd := r.Command(ctx, req)
	var stderr limitedBuffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", cmd.Path, err)
	}

	var (
		text     strings.Builder
		result   string
		isError  bool
		haveDone bool
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		msg, ok := streamjson.Decode(line)
		if !ok {
			plain := strings.TrimSpace(string(line))
			if plain == "" {
				continue
			}
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.WriteString(plain)
			chunk(plain)
			continue
		}

		switch msg.Type {
		case streamjson.TypeAssistant:
			if part := msg.Text(); part != "" {
				text.WriteString(part)
				chunk(part)
			}
		case streamjson.TypeResult:
			result, isError, haveDone = msg.Result, msg.IsError, true
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if isError {
		return "", fmt.Errorf("%w: %s", ErrFailed, result)
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		return "", fmt.Errorf("%w: %s", ErrFailed, msg)
	}
	if scanErr != nil {
		return "", fmt.Errorf("%w: read output: %v", ErrFailed, scanErr)
	}
	if haveDone {
		return result, nil
	}
	return text.String(), nil
}

// limitedBuffer keeps the first maxStderr bytes written to it.
type limitedBuffer struct {
	buf bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxStderr - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }

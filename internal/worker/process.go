package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mtzanidakis/conclave/internal/config"
)

// ProcessSession runs the worker CLI as a local child process. The task
// text is written to stdin; request fields are available both as argument
// placeholders and as CONCLAVE_* environment variables.
type ProcessSession struct {
	command string
	args    []string
	dir     string
}

func NewProcessSession(cfg config.WorkerConfig) *ProcessSession {
	return &ProcessSession{
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
	}
}

// WithDir sets the working directory of spawned workers.
func (p *ProcessSession) WithDir(dir string) *ProcessSession {
	p.dir = dir
	return p
}

func (p *ProcessSession) Call(ctx context.Context, req Request) (Response, error) {
	if p.command == "" {
		return Response{}, fmt.Errorf("no worker command configured")
	}

	cmd := exec.CommandContext(ctx, p.command, expandArgs(p.args, req)...)
	cmd.Dir = p.dir
	cmd.Env = append(os.Environ(), requestEnv(req)...)
	cmd.Stdin = strings.NewReader(req.Task)
	// Grandchildren holding the pipes open must not stall Wait after a kill.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Response{
				ExitStatus: exitErr.ExitCode(),
				Stdout:     stdout.String(),
				Stderr:     stderr.String(),
			}, nil
		}
		return Response{}, fmt.Errorf("run %s: %w", p.command, err)
	}

	return Response{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

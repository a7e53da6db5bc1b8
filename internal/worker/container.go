package worker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/mtzanidakis/conclave/internal/config"
)

const (
	labelPrefix = "conclave"
	taskFile    = "/tmp/conclave-task.txt"
)

// ContainerSession runs every request in a fresh container of the worker
// image. The task text is copied into the container before it starts and
// its path is passed in CONCLAVE_TASK_FILE.
type ContainerSession struct {
	docker  *client.Client
	image   string
	command string
	args    []string
}

func NewContainerSession(cfg config.WorkerConfig) (*ContainerSession, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &ContainerSession{
		docker:  docker,
		image:   cfg.Image,
		command: cfg.Command,
		args:    append([]string(nil), cfg.Args...),
	}, nil
}

func (c *ContainerSession) Call(ctx context.Context, req Request) (Response, error) {
	containerCfg := &dockercontainer.Config{
		Image: c.image,
		Cmd:   containerCmd(c.command, c.args, req),
		Env:   append(requestEnv(req), "CONCLAVE_TASK_FILE="+taskFile),
		Labels: map[string]string{
			labelPrefix + ".managed": "true",
			labelPrefix + ".session": req.SessionID,
		},
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, &dockercontainer.HostConfig{}, nil, nil, containerName(req))
	if err != nil {
		return Response{}, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		// The run context may already be done; removal must still happen.
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.docker.ContainerRemove(rmCtx, resp.ID, dockercontainer.RemoveOptions{Force: true}); err != nil {
			slog.Warn("failed to remove worker container", "container", shortID(resp.ID), "error", err)
		}
	}()

	archive, err := taskArchive(req.Task)
	if err != nil {
		return Response{}, err
	}
	if err := c.docker.CopyToContainer(ctx, resp.ID, path.Dir(taskFile), archive, dockercontainer.CopyToContainerOptions{}); err != nil {
		return Response{}, fmt.Errorf("copy task into container: %w", err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return Response{}, fmt.Errorf("start container: %w", err)
	}
	slog.Debug("worker container started", "container", shortID(resp.ID), "session", req.SessionID)

	statusCh, errCh := c.docker.ContainerWait(ctx, resp.ID, dockercontainer.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		return Response{}, fmt.Errorf("wait for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return Response{}, fmt.Errorf("wait for container: %s", status.Error.Message)
		}
		exitCode = status.StatusCode
	}

	logs, err := c.docker.ContainerLogs(ctx, resp.ID, dockercontainer.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Response{}, fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return Response{}, fmt.Errorf("read container output: %w", err)
	}

	return Response{
		ExitStatus: int(exitCode),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
	}, nil
}

// EnsureImage pulls the worker image unless it is already present.
func (c *ContainerSession) EnsureImage(ctx context.Context) error {
	if _, err := c.docker.ImageInspect(ctx, c.image); err == nil {
		return nil
	}

	slog.Info("pulling worker image", "image", c.image)
	reader, err := c.docker.ImagePull(ctx, c.image, dockerimage.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", c.image, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (c *ContainerSession) Close() error {
	return c.docker.Close()
}

// containerCmd returns nil when no command is configured so the image's
// own entrypoint and cmd apply.
func containerCmd(command string, args []string, req Request) []string {
	if command == "" {
		return nil
	}
	return append([]string{command}, expandArgs(args, req)...)
}

// containerName is unique per call; callers may reuse a session id
// across tasks.
func containerName(req Request) string {
	return fmt.Sprintf("%s-worker-%s-%s", labelPrefix, shortID(req.SessionID), uuid.NewString()[:8])
}

func taskArchive(task string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: path.Base(taskFile),
		Mode: 0o644,
		Size: int64(len(task)),
	}); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write([]byte(task)); err != nil {
		return nil, fmt.Errorf("write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Package taskrunner offloads heavy diagnostic work to short-lived Docker
// containers.
//
// Some operations (failure analysis over very large job outputs) can chew
// memory and CPU for minutes. Instead of doing that inside the bot process,
// the runner spins up a labeled worker container, passes the task through
// environment variables, waits for it to exit, and reads a single JSON
// document from its stdout. The container is removed afterwards either way.
//
// The runner is optional: when no worker image is configured it reports
// itself disabled and callers fall back to in-process execution.
package taskrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/bdobrica/Towa/common/environment"
	"github.com/bdobrica/Towa/common/trace"
)

const (
	labelManagedBy = "towa.managed-by"
	labelTaskType  = "towa.task-type"
	labelTraceID   = "towa.trace-id"
	managedByValue = "towa"

	// defaultTimeout bounds a single offloaded task end to end.
	defaultTimeout = 5 * time.Minute
)

// Task describes one unit of offloaded work.
type Task struct {
	// Type names the task for the worker entrypoint, e.g. "job_diagnose".
	Type string
	// Params is serialized to JSON and handed to the worker as TASK_PARAMS.
	Params map[string]any
}

// Config controls how worker containers are created.
type Config struct {
	// Image is the worker image. Empty disables the runner.
	Image string
	// Network is an optional Docker network to attach workers to.
	Network string
	// Timeout bounds one task; zero means defaultTimeout.
	Timeout time.Duration
}

// ConfigFromEnv reads the runner configuration from TOWA_TASK_IMAGE,
// TOWA_TASK_NETWORK, and TOWA_TASK_TIMEOUT.
func ConfigFromEnv() Config {
	return Config{
		Image:   environment.StringOr("TOWA_TASK_IMAGE", ""),
		Network: environment.StringOr("TOWA_TASK_NETWORK", ""),
		Timeout: environment.DurationOr("TOWA_TASK_TIMEOUT", defaultTimeout),
	}
}

// Runner executes tasks in throwaway Docker containers.
type Runner struct {
	client  *dockerclient.Client
	image   string
	network string
	timeout time.Duration
}

// New creates a Runner from cfg. It returns (nil, nil) when cfg.Image is
// empty so callers can treat an unconfigured runner as absent. The Docker
// client honors DOCKER_HOST or falls back to the default socket.
func New(cfg Config) (*Runner, error) {
	if cfg.Image == "" {
		return nil, nil
	}
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Runner{client: cli, image: cfg.Image, network: cfg.Network, timeout: timeout}, nil
}

// Enabled reports whether tasks can be offloaded.
func (r *Runner) Enabled() bool {
	return r != nil && r.client != nil
}

// Run executes one task and returns the JSON document the worker printed to
// stdout. The container is force-removed before Run returns, success or not.
func (r *Runner) Run(ctx context.Context, task Task) (json.RawMessage, error) {
	if !r.Enabled() {
		return nil, fmt.Errorf("task runner is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	traceID := trace.FromContext(ctx)
	name := containerNameFor(task.Type)

	env, err := taskEnv(task, traceID)
	if err != nil {
		return nil, err
	}

	containerCfg := &container.Config{
		Image: r.image,
		Env:   env,
		Labels: map[string]string{
			labelManagedBy: managedByValue,
			labelTaskType:  task.Type,
			labelTraceID:   traceID,
		},
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: "no"},
	}
	if r.network != "" {
		hostCfg.NetworkMode = container.NetworkMode(r.network)
	}

	resp, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create task container: %w", err)
	}
	defer func() {
		// Removal runs on a fresh context so a task timeout does not leak
		// the container.
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer rmCancel()
		_ = r.client.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start task container: %w", err)
	}

	exitCode, err := r.wait(ctx, resp.ID)
	if err != nil {
		return nil, err
	}

	stdout, stderr, err := r.logs(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("read task logs: %w", err)
	}

	if exitCode != 0 {
		return nil, fmt.Errorf("task %q exited with code %d: %s", task.Type, exitCode, firstLine(stderr))
	}
	return extractResult(stdout)
}

// wait blocks until the container stops and returns its exit code.
func (r *Runner) wait(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, fmt.Errorf("wait for task container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return 0, fmt.Errorf("task container: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	}
}

// logs fetches and demultiplexes the container's stdout and stderr.
func (r *Runner) logs(ctx context.Context, containerID string) (stdout, stderr []byte, err error) {
	reader, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, nil, err
	}
	defer reader.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, reader); err != nil && err != io.EOF {
		return nil, nil, err
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

// List returns the IDs of task containers still present, for startup
// cleanup of leftovers from a previous run.
func (r *Runner) List(ctx context.Context) ([]string, error) {
	if !r.Enabled() {
		return nil, nil
	}
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelManagedBy+"="+managedByValue),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("list task containers: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// CleanupLeftovers force-removes task containers that survived a previous
// process, e.g. after a crash mid-task.
func (r *Runner) CleanupLeftovers(ctx context.Context) error {
	ids, err := r.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			if !dockerclient.IsErrNotFound(err) {
				return fmt.Errorf("remove leftover task container %s: %w", id, err)
			}
		}
	}
	return nil
}

// --- helpers ---

// containerNameFor builds a unique, Docker-safe container name for a task.
func containerNameFor(taskType string) string {
	slug := strings.ReplaceAll(strings.ToLower(taskType), "_", "-")
	slug = strings.ReplaceAll(slug, ".", "-")
	return fmt.Sprintf("towa-task-%s-%s", slug, uuid.NewString()[:8])
}

// taskEnv builds the worker environment: task type, JSON params, trace ID.
func taskEnv(task Task, traceID string) ([]string, error) {
	params, err := json.Marshal(task.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal task params: %w", err)
	}
	return []string{
		fmt.Sprintf("TASK_TYPE=%s", task.Type),
		fmt.Sprintf("TASK_PARAMS=%s", params),
		fmt.Sprintf("TRACE_ID=%s", traceID),
	}, nil
}

// extractResult pulls the JSON result out of the worker's stdout. Workers
// may log free text before the result; the last non-empty line must be a
// JSON object.
func extractResult(stdout []byte) (json.RawMessage, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			return nil, fmt.Errorf("task output is not JSON: %s", firstLine([]byte(line)))
		}
		return json.RawMessage(line), nil
	}
	return nil, fmt.Errorf("task produced no output")
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

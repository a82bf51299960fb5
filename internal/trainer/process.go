package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"lora-runner/internal/jobconfig"
)

const (
	outputTailBytes = 4096
	// outputWaitDelay bounds how long output is drained after the trainer
	// exits or is killed while children still hold its pipes.
	outputWaitDelay = 10 * time.Second
)

type ProcessLauncherConfig struct {
	// Command is the trainer entry point; the config path is appended to it.
	Command []string
	Dir     string
	// LogDir receives {job}.log with the combined trainer output when set.
	LogDir string
	// Env is added to the inherited environment.
	Env     []string
	Timeout time.Duration
	Stdout  io.Writer
}

// ProcessLauncher runs the trainer as a child process:
// Command... <config> [-n name].
type ProcessLauncher struct {
	cfg ProcessLauncherConfig
}

func NewProcessLauncher(cfg ProcessLauncherConfig) (*ProcessLauncher, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("trainer command must not be empty")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	return &ProcessLauncher{cfg: cfg}, nil
}

func (l *ProcessLauncher) Load(configPath, name string) (Job, error) {
	cfg, err := jobconfig.LoadFile(configPath, name)
	if err != nil {
		return nil, err
	}
	return &processJob{
		launcher:   l,
		configPath: configPath,
		nameArg:    name,
		name:       cfg.Config.Name,
	}, nil
}

type processJob struct {
	launcher   *ProcessLauncher
	configPath string
	nameArg    string
	name       string

	mu      sync.Mutex
	logFile *os.File
}

func (j *processJob) Name() string {
	return j.name
}

func (j *processJob) ConfigPath() string {
	return j.configPath
}

func (j *processJob) Run(ctx context.Context) error {
	cfg := j.launcher.cfg

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	args := append([]string{}, cfg.Command[1:]...)
	args = append(args, j.configPath)
	if j.nameArg != "" {
		args = append(args, "-n", j.nameArg)
	}

	cmd := exec.CommandContext(ctx, cfg.Command[0], args...)
	cmd.Dir = cfg.Dir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.WaitDelay = outputWaitDelay

	tail := &tailBuffer{limit: outputTailBytes}
	writers := []io.Writer{cfg.Stdout, tail}
	if cfg.LogDir != "" {
		logFile, err := j.openLog(cfg.LogDir)
		if err != nil {
			return err
		}
		writers = append(writers, logFile)
	}
	output := io.MultiWriter(writers...)
	cmd.Stdout = output
	cmd.Stderr = output

	slog.Info("starting training job", "job", j.name, "command", cmd.String(), "dir", cfg.Dir)
	start := time.Now()

	if err := cmd.Run(); err != nil {
		j.Cleanup() //nolint:errcheck

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}

		slog.Error("training job failed", "job", j.name, "exit_code", exitCode, "duration", time.Since(start), "error", err)
		return &JobError{Job: j.name, ExitCode: exitCode, Output: tail.String(), Err: err}
	}

	slog.Info("training job finished", "job", j.name, "duration", time.Since(start))
	return nil
}

func (j *processJob) openLog(dir string) (*os.File, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("error creating trainer log directory %s: %w", dir, err)
	}
	name := j.name
	if name == "" {
		name = "trainer"
	}
	path := filepath.Join(dir, name+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("error opening trainer log %s: %w", path, err)
	}
	j.logFile = file
	return file, nil
}

// Cleanup closes the trainer log. Calling it more than once is harmless.
func (j *processJob) Cleanup() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.logFile == nil {
		return nil
	}
	err := j.logFile.Close()
	j.logFile = nil
	if err != nil {
		return fmt.Errorf("error closing trainer log: %w", err)
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"lora-runner/internal/database"
	"lora-runner/internal/jobconfig"
	"lora-runner/internal/storage"
	"lora-runner/internal/trainer"
	"lora-runner/internal/utils"
)

var ErrArtifactMissing = errors.New("training artifact missing")

const (
	DefaultBucket       = "loras"
	DefaultPublicDomain = "cheeryclick.com"
	ArtifactContentType = "TENSOR"
)

type Preparer interface {
	Prepare(ctx context.Context, taskId string) (string, error)
}

type ArtifactStore interface {
	Store(ctx context.Context, bucket, key string, buffer []byte, contentType string) (storage.UploadResult, error)
}

type Config struct {
	Layout       jobconfig.Layout
	Bucket       string
	PublicDomain string
	// FallbackTaskId drives a job whose config carries no name.
	FallbackTaskId string
	RetryPolicy    utils.RetryPolicy
	// Stdout receives the job count and the final summary.
	Stdout io.Writer
}

type Options struct {
	Refs []string
	// Recover keeps going after a failed reference instead of stopping.
	Recover bool
	// Name replaces the [name] tag of every config.
	Name string
	// Prepare treats each reference as a task id and synthesizes its config
	// and dataset before running it.
	Prepare bool
}

type Summary struct {
	Completed int
	Failed    int
}

type Runner struct {
	store     database.Store
	artifacts ArtifactStore
	launcher  trainer.Launcher
	preparer  Preparer
	cfg       Config
	now       func() time.Time
}

func NewRunner(store database.Store, artifacts ArtifactStore, launcher trainer.Launcher, preparer Preparer, cfg Config) *Runner {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.PublicDomain == "" {
		cfg.PublicDomain = DefaultPublicDomain
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	return &Runner{
		store:     store,
		artifacts: artifacts,
		launcher:  launcher,
		preparer:  preparer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ArtifactKey is the object key of the weights of a model.
func ArtifactKey(userId, modelId string) string {
	return fmt.Sprintf("%s/%s.safetensors", userId, modelId)
}

func (r *Runner) ModelUrl(key string) string {
	return fmt.Sprintf("https://%s.%s/%s", r.cfg.Bucket, r.cfg.PublicDomain, key)
}

// Run processes the references in order. Without Recover the first failure
// stops the loop and is returned. The summary is printed on every path.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	if len(opts.Refs) == 0 {
		return Summary{}, fmt.Errorf("at least one config file is required")
	}

	fmt.Fprintf(r.cfg.Stdout, "Running %d %s\n", len(opts.Refs), plural(len(opts.Refs), "job"))

	var summary Summary
	for _, ref := range opts.Refs {
		taskId, err := r.runOne(ctx, ref, opts)
		if err == nil {
			summary.Completed++
			continue
		}

		summary.Failed++
		slog.Error("job failed", "ref", ref, "task_id", taskId, "error", err)
		r.markFailed(ctx, taskId, err)

		if !opts.Recover {
			r.printSummary(summary)
			return summary, err
		}
	}

	r.printSummary(summary)
	return summary, nil
}

func (r *Runner) runOne(ctx context.Context, ref string, opts Options) (string, error) {
	taskId := r.cfg.FallbackTaskId
	if opts.Prepare {
		taskId = ref
	}

	configRef := ref
	if opts.Prepare {
		path, err := r.preparer.Prepare(ctx, ref)
		if err != nil {
			return taskId, fmt.Errorf("error preparing task %s: %w", ref, err)
		}
		configRef = path
	}

	configPath, err := jobconfig.Resolve(r.cfg.Layout, configRef)
	if err != nil {
		return taskId, err
	}

	job, err := r.launcher.Load(configPath, opts.Name)
	if err != nil {
		return taskId, fmt.Errorf("error loading job %s: %w", configPath, err)
	}
	if name := job.Name(); name != "" {
		if taskId != "" && taskId != name {
			slog.Warn("config name overrides task id", "task_id", taskId, "config_name", name, "config", configPath)
		}
		taskId = name
	}
	if taskId == "" {
		return taskId, fmt.Errorf("job %s has no name and no fallback task id is set", configPath)
	}

	slog.Info("processing job", "task_id", taskId, "config", configPath)

	policy := r.cfg.RetryPolicy.WithRetryable(isRetryable)
	if err := utils.Retry(ctx, policy, "mark task processing", func(ctx context.Context) error {
		return r.store.MarkTaskProcessing(ctx, taskId, r.now().UTC())
	}); err != nil {
		return taskId, fmt.Errorf("error marking task %s as processing: %w", taskId, err)
	}

	if err := job.Run(ctx); err != nil {
		return taskId, err
	}
	if err := job.Cleanup(); err != nil {
		slog.Warn("error cleaning up job", "task_id", taskId, "error", err)
	}

	slog.Info("training completed", "task_id", taskId)

	return taskId, r.finish(ctx, taskId)
}

// finish uploads the artifact of a trained task unless the task already has a
// result, then completes the task and its model.
func (r *Runner) finish(ctx context.Context, taskId string) error {
	task, err := r.store.GetTask(ctx, taskId)
	if err != nil {
		return fmt.Errorf("error loading task %s: %w", taskId, err)
	}
	model, err := r.store.GetModelByTask(ctx, taskId)
	if err != nil {
		return fmt.Errorf("error loading model of task %s: %w", taskId, err)
	}

	key := ArtifactKey(task.UserId, model.Id)

	if task.Result == nil {
		if err := r.uploadArtifact(ctx, taskId, key); err != nil {
			return err
		}
	} else {
		slog.Info("task already has a result, skipping upload", "task_id", taskId)
	}

	var completedIn int64
	if task.ProcessingStartedAt != nil {
		completedIn = r.now().Sub(*task.ProcessingStartedAt).Milliseconds()
	}
	result := database.TaskResult{
		CompletedIn: completedIn,
		ModelUrl:    r.ModelUrl(key),
		LocationInfo: database.LocationInfo{
			BucketName:    r.cfg.Bucket,
			OptimizedKeys: []string{},
			OriginalKeys:  []string{key},
		},
	}

	policy := r.cfg.RetryPolicy.WithRetryable(isRetryable)
	if err := utils.Retry(ctx, policy, "complete task", func(ctx context.Context) error {
		return r.store.CompleteTask(ctx, taskId, model.Id, result, r.now().UTC())
	}); err != nil {
		return fmt.Errorf("error completing task %s: %w", taskId, err)
	}

	slog.Info("task completed", "task_id", taskId, "model_id", model.Id, "model_url", result.ModelUrl, "completed_in_ms", completedIn)
	return nil
}

func (r *Runner) uploadArtifact(ctx context.Context, taskId, key string) error {
	path := r.cfg.Layout.ArtifactPath(taskId)

	buffer, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("training artifact does not exist", "task_id", taskId, "path", path)
			return fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
		return fmt.Errorf("error reading training artifact %s: %w", path, err)
	}

	if _, err := r.artifacts.Store(ctx, r.cfg.Bucket, key, buffer, ArtifactContentType); err != nil {
		return fmt.Errorf("error uploading artifact of task %s: %w", taskId, err)
	}
	return nil
}

// markFailed is a single best effort attempt; its own failure is only logged.
func (r *Runner) markFailed(ctx context.Context, taskId string, cause error) {
	if taskId == "" {
		slog.Warn("no task id known for failed job, status not updated", "error", cause)
		return
	}
	if err := r.store.FailTask(context.WithoutCancel(ctx), taskId, cause.Error(), r.now().UTC()); err != nil {
		slog.Error("error marking task as failed", "task_id", taskId, "error", err)
	}
}

func (r *Runner) printSummary(summary Summary) {
	out := r.cfg.Stdout
	fmt.Fprintln(out)
	fmt.Fprintln(out, "========================================")
	fmt.Fprintln(out, "Result:")
	fmt.Fprintf(out, " - %d %s\n", summary.Completed, plural(summary.Completed, "completed job"))
	if summary.Failed > 0 {
		fmt.Fprintf(out, " - %d %s\n", summary.Failed, plural(summary.Failed, "failure"))
	}
	fmt.Fprintln(out, "========================================")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func isRetryable(err error) bool {
	return !errors.Is(err, database.ErrNotFound)
}

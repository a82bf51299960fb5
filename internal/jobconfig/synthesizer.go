package jobconfig

import (
	"context"
	"fmt"
	"log/slog"

	"lora-runner/internal/database"
	"lora-runner/internal/dataset"
)

type TaskReader interface {
	GetTask(ctx context.Context, taskId string) (*database.Task, error)
}

type DatasetMaterializer interface {
	Materialize(ctx context.Context, urls []string, taskId, dir string) (dataset.Result, error)
}

// Synthesizer prepares everything the trainer needs for a task: the dataset
// on disk and the job config that points at it.
type Synthesizer struct {
	tasks    TaskReader
	datasets DatasetMaterializer
	layout   Layout
}

func NewSynthesizer(tasks TaskReader, datasets DatasetMaterializer, layout Layout) *Synthesizer {
	return &Synthesizer{tasks: tasks, datasets: datasets, layout: layout}
}

func (s *Synthesizer) Layout() Layout {
	return s.layout
}

// Prepare stages the dataset of a task and writes its config file, returning
// the path of the config. The dataset is complete before the config exists.
func (s *Synthesizer) Prepare(ctx context.Context, taskId string) (string, error) {
	slog.Info("preparing config", "task_id", taskId)

	task, err := s.tasks.GetTask(ctx, taskId)
	if err != nil {
		slog.Error("error preparing config", "task_id", taskId, "error", err)
		return "", err
	}

	datasetDir := s.layout.DatasetDir(task.Id)
	if _, err := s.datasets.Materialize(ctx, task.Metadata.DatasetUrls, task.Id, datasetDir); err != nil {
		slog.Error("error preparing dataset", "task_id", taskId, "dir", datasetDir, "error", err)
		return "", fmt.Errorf("error preparing dataset for task %s: %w", taskId, err)
	}

	path := s.layout.ConfigPath(task.Id)
	if err := WriteFile(path, Build(task, s.layout)); err != nil {
		slog.Error("error writing config", "task_id", taskId, "path", path, "error", err)
		return "", err
	}

	slog.Info("config file saved", "task_id", taskId, "path", path)
	return path, nil
}

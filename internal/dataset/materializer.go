package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"lora-runner/internal/utils"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
)

var ErrDownloadFailed = errors.New("dataset download failed")

type FetchPolicy string

const (
	// BestEffort logs and skips failed downloads.
	BestEffort FetchPolicy = "best-effort"
	// FailFast cancels outstanding downloads after the first failure.
	FailFast FetchPolicy = "fail-fast"
)

const DefaultConcurrency = 16

func ParsePolicy(value string) (FetchPolicy, error) {
	switch FetchPolicy(value) {
	case BestEffort, "":
		return BestEffort, nil
	case FailFast:
		return FailFast, nil
	default:
		return "", fmt.Errorf("invalid dataset fetch policy %q, expected %q or %q", value, BestEffort, FailFast)
	}
}

type Item struct {
	Index      int
	URL        string
	ImagePath  string
	LabelPath  string
	Downloaded bool
	Err        error
}

type Result struct {
	Dir        string
	Items      []Item
	Downloaded int
	Failed     int
}

type Options struct {
	Concurrency int
	Policy      FetchPolicy
	// Timeout bounds each download, zero means no timeout.
	Timeout time.Duration
	// Progress receives a progress bar when set.
	Progress io.Writer
}

// Materializer stages a training dataset: image {i}.jpeg downloaded from the
// i-th url next to a label {i}.txt holding the trigger word.
type Materializer struct {
	client *resty.Client
	opts   Options
}

func NewMaterializer(opts Options) *Materializer {
	client := resty.New()
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	return NewMaterializerWithClient(client, opts)
}

func NewMaterializerWithClient(client *resty.Client, opts Options) *Materializer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Policy == "" {
		opts.Policy = BestEffort
	}
	return &Materializer{client: client, opts: opts}
}

func imagePath(dir string, index int) string {
	return filepath.Join(dir, strconv.Itoa(index)+".jpeg")
}

func labelPath(dir string, index int) string {
	return filepath.Join(dir, strconv.Itoa(index)+".txt")
}

// Materialize downloads every url into dir and returns once all of them have
// settled. Every index gets a label file whatever the outcome of its download.
// Under FailFast the first failed download cancels the rest and its error,
// wrapping ErrDownloadFailed, is returned.
func (m *Materializer) Materialize(ctx context.Context, urls []string, taskId, dir string) (Result, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return Result{}, fmt.Errorf("failed to create dataset directory %s: %w", dir, err)
	}

	type job struct {
		index int
		url   string
	}
	jobs := make([]job, len(urls))
	for i, url := range urls {
		jobs[i] = job{index: i, url: url}
	}

	var bar *progressbar.ProgressBar
	if m.opts.Progress != nil && len(urls) > 0 {
		bar = progressbar.NewOptions(len(urls),
			progressbar.OptionSetWriter(m.opts.Progress),
			progressbar.OptionSetDescription("downloading dataset"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionClearOnFinish(),
		)
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := func(ctx context.Context, j job) (Item, error) {
		item := Item{Index: j.index, URL: j.url}
		if err := m.writeLabel(&item, taskId, dir); err != nil {
			item.Err = err
			return item, err
		}
		if err := m.download(ctx, &item, dir); err != nil {
			item.Err = err
			if m.opts.Policy == FailFast {
				return item, err
			}
		}
		return item, nil
	}

	result := Result{Dir: dir, Items: make([]Item, len(urls))}
	var firstErr error

	for completed := range utils.RunInPool(poolCtx, worker, jobs, m.opts.Concurrency) {
		item := completed.Result
		item.Index = completed.Index
		item.URL = urls[completed.Index]
		if completed.Error != nil {
			item.Err = completed.Error
			// Best effort still stops on errors other than failed downloads.
			if firstErr == nil && (m.opts.Policy == FailFast || !errors.Is(completed.Error, ErrDownloadFailed)) {
				firstErr = completed.Error
				cancel()
			}
		}
		result.Items[completed.Index] = item

		if bar != nil {
			_ = bar.Add(1)
		}
	}

	// Items cancelled before they started still get their label.
	for i := range result.Items {
		item := &result.Items[i]
		if item.LabelPath == "" {
			if err := m.writeLabel(item, taskId, dir); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if item.Downloaded {
			result.Downloaded++
		} else {
			result.Failed++
		}
	}

	slog.Info("dataset materialized", "task_id", taskId, "dir", dir, "downloaded", result.Downloaded, "failed", result.Failed, "policy", m.opts.Policy)

	if firstErr != nil {
		return result, firstErr
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (m *Materializer) writeLabel(item *Item, taskId, dir string) error {
	path := labelPath(dir, item.Index)
	if err := os.WriteFile(path, []byte(taskId), 0644); err != nil {
		slog.Error("error writing label file", "path", path, "error", err)
		return fmt.Errorf("error writing label file %s: %w", path, err)
	}
	item.LabelPath = path
	return nil
}

func (m *Materializer) download(ctx context.Context, item *Item, dir string) error {
	res, err := m.client.R().SetContext(ctx).Get(item.URL)
	if err != nil {
		slog.Warn("failed to download dataset image", "index", item.Index, "url", item.URL, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrDownloadFailed, item.URL, err)
	}

	if res.StatusCode() != http.StatusOK {
		slog.Warn("failed to download dataset image", "index", item.Index, "url", item.URL, "status_code", res.StatusCode())
		return fmt.Errorf("%w: %s returned status %d", ErrDownloadFailed, item.URL, res.StatusCode())
	}

	path := imagePath(dir, item.Index)
	if err := os.WriteFile(path, res.Body(), 0644); err != nil {
		slog.Error("error writing dataset image", "path", path, "error", err)
		return fmt.Errorf("error writing dataset image %s: %w", path, err)
	}

	item.ImagePath = path
	item.Downloaded = true
	return nil
}

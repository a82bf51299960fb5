package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"lora-runner/internal/config"
	"lora-runner/internal/database"
	"lora-runner/internal/dataset"
	"lora-runner/internal/jobconfig"
	"lora-runner/internal/runner"
	"lora-runner/internal/storage"
	"lora-runner/internal/trainer"
	"lora-runner/internal/utils"
)

func SetupLogging(cfg *config.Config) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(handler))
}

func OpenStore(ctx context.Context, cfg *config.Config) (database.Store, error) {
	store, err := database.NewStore(ctx, cfg.MongoURL, cfg.MongoDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return store, nil
}

// NewProvider returns the local provider when LOCAL_STORAGE_DIR is set and
// the R2 provider otherwise.
func NewProvider(cfg *config.Config) (storage.Provider, error) {
	if cfg.LocalStorageDir != "" {
		log.Printf("using local storage at %s", cfg.LocalStorageDir)
		return storage.NewLocalProvider(cfg.LocalStorageDir), nil
	}

	if cfg.R2EndpointURL == "" {
		return nil, fmt.Errorf("CLOUDFLARE_R2_ENDPOINT or LOCAL_STORAGE_DIR must be set")
	}

	provider, err := storage.NewS3Provider(storage.S3ProviderConfig{
		S3EndpointURL:     cfg.R2EndpointURL,
		S3AccessKeyID:     cfg.R2AccessKeyID,
		S3SecretAccessKey: cfg.R2SecretAccessKey,
		S3Region:          cfg.R2Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage provider: %w", err)
	}
	return provider, nil
}

func RetryPolicy(cfg *config.Config) utils.RetryPolicy {
	return utils.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelay}
}

func NewSynthesizer(cfg *config.Config, store database.Store) (*jobconfig.Synthesizer, error) {
	policy, err := dataset.ParsePolicy(cfg.DatasetFetchPolicy)
	if err != nil {
		return nil, err
	}

	opts := dataset.Options{
		Concurrency: cfg.DatasetConcurrency,
		Policy:      policy,
		Timeout:     cfg.DatasetFetchTimeout,
	}
	if cfg.Progress {
		opts.Progress = os.Stderr
	}

	return jobconfig.NewSynthesizer(store, dataset.NewMaterializer(opts), jobconfig.Layout{Root: cfg.RootFolder}), nil
}

func NewRunner(cfg *config.Config, store database.Store, gateway *storage.Gateway) (*runner.Runner, error) {
	synth, err := NewSynthesizer(cfg, store)
	if err != nil {
		return nil, err
	}

	launcher, err := trainer.NewProcessLauncher(trainer.ProcessLauncherConfig{
		Command: cfg.TrainerCommand,
		Dir:     cfg.TrainerDir,
		LogDir:  cfg.TrainerLogDir,
		Env:     cfg.TrainerEnv(),
		Timeout: cfg.TrainerTimeout,
		Stdout:  os.Stdout,
	})
	if err != nil {
		return nil, err
	}

	return runner.NewRunner(store, gateway, launcher, synth, runner.Config{
		Layout:         synth.Layout(),
		Bucket:         cfg.LoraBucket,
		PublicDomain:   cfg.PublicDomain,
		FallbackTaskId: cfg.TaskId,
		RetryPolicy:    RetryPolicy(cfg),
		Stdout:         os.Stdout,
	}), nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lora-runner/cmd"
	"lora-runner/internal/config"
	"lora-runner/internal/runner"
	"lora-runner/internal/storage"

	"github.com/spf13/cobra"
)

type app struct {
	envFile string
	cfg     *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "lora-runner",
		Short:        "Run LoRA training jobs and publish their weights",
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(a.envFile); err != nil {
				return err
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			a.cfg = cfg
			cmd.SetupLogging(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env", "", "path to load env from (defaults to .env when present)")

	root.AddCommand(a.runCmd(), a.prepareCmd(), a.fetchCmd())
	return root
}

func (a *app) runCmd() *cobra.Command {
	var opts runner.Options

	c := &cobra.Command{
		Use:   "run <config_file>...",
		Short: "Run training jobs sequentially",
		Long: "Run training jobs sequentially. Each argument is a config file path or the name of a config " +
			"under ROOT_FOLDER/config, or a task id when --prepare is set.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			opts.Refs = args

			store, err := cmd.OpenStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer store.Close(context.WithoutCancel(ctx)) //nolint:errcheck

			provider, err := cmd.NewProvider(a.cfg)
			if err != nil {
				return err
			}
			gateway := storage.NewGateway(provider, store, cmd.RetryPolicy(a.cfg))

			r, err := cmd.NewRunner(a.cfg, store, gateway)
			if err != nil {
				return err
			}

			_, err = r.Run(ctx, opts)
			return err
		},
	}

	c.Flags().BoolVarP(&opts.Recover, "recover", "r", false, "continue running additional jobs even if a job fails")
	c.Flags().StringVarP(&opts.Name, "name", "n", "", "name to replace the [name] tag in config files")
	c.Flags().BoolVarP(&opts.Prepare, "prepare", "p", false, "treat arguments as task ids and prepare their config and dataset first")
	return c
}

func (a *app) prepareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prepare <task_id>...",
		Short: "Download the dataset and write the config of tasks without training",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()

			store, err := cmd.OpenStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer store.Close(context.WithoutCancel(ctx)) //nolint:errcheck

			synth, err := cmd.NewSynthesizer(a.cfg, store)
			if err != nil {
				return err
			}

			for _, taskId := range args {
				path, err := synth.Prepare(ctx, taskId)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.OutOrStdout(), path)
			}
			return nil
		},
	}
}

func (a *app) fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <bucket> <key> <dest>",
		Short: "Download an object unless the destination already exists",
		Args:  cobra.ExactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			provider, err := cmd.NewProvider(a.cfg)
			if err != nil {
				return err
			}

			// Fetch never records uploads.
			gateway := storage.NewGateway(provider, nil, cmd.RetryPolicy(a.cfg))

			meta, err := gateway.Fetch(c.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if meta.Skipped {
				slog.Info("destination already exists", "dest", args[2])
			} else {
				log.Printf("downloaded %s/%s to %s (%d bytes)", args[0], args[1], args[2], meta.ContentLength)
			}
			return nil
		},
	}
}

package config

import (
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	MongoURL      string `env:"MONGO_URL"`
	MongoDatabase string `env:"MONGO_DATABASE" envDefault:"AIv1"`

	// TaskId is only consulted when a job config carries no name.
	TaskId     string `env:"TASK_ID"`
	RootFolder string `env:"ROOT_FOLDER" envDefault:"."`

	R2EndpointURL     string `env:"CLOUDFLARE_R2_ENDPOINT"`
	R2AccessKeyID     string `env:"CLOUDFLARE_R2_READ_WRITE_ACCESS_KEY_ID"`
	R2SecretAccessKey string `env:"CLOUDFLARE_R2_READ_WRITE_SECRET_ACCESS_KEY"`
	R2Region          string `env:"CLOUDFLARE_R2_REGION" envDefault:"us-east-1"`
	LocalStorageDir   string `env:"LOCAL_STORAGE_DIR"`

	LoraBucket   string `env:"LORA_BUCKET" envDefault:"loras"`
	PublicDomain string `env:"LORA_PUBLIC_DOMAIN" envDefault:"cheeryclick.com"`

	TrainerCommand   []string      `env:"TRAINER_COMMAND" envSeparator:" " envDefault:"python run.py"`
	TrainerDir       string        `env:"TRAINER_DIR"`
	TrainerLogDir    string        `env:"TRAINER_LOG_DIR"`
	TrainerTimeout   time.Duration `env:"TRAINER_TIMEOUT" envDefault:"0s"`
	DisableTelemetry bool          `env:"DISABLE_TELEMETRY" envDefault:"true"`
	HFTransfer       bool          `env:"HF_HUB_ENABLE_HF_TRANSFER" envDefault:"true"`

	DatasetConcurrency  int           `env:"DATASET_CONCURRENCY" envDefault:"16"`
	DatasetFetchPolicy  string        `env:"DATASET_FETCH_POLICY" envDefault:"best-effort"`
	DatasetFetchTimeout time.Duration `env:"DATASET_FETCH_TIMEOUT" envDefault:"0s"`

	RetryAttempts uint          `env:"RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay    time.Duration `env:"RETRY_DELAY" envDefault:"5s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Progress bool   `env:"PROGRESS" envDefault:"true"`
}

// LoadEnvFile loads variables from a dotenv file. An empty path loads ./.env
// when it exists and otherwise falls back to os.Environ only.
func LoadEnvFile(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found or error loading, continuing with environment variables")
		}
		return nil
	}

	log.Printf("loading env from file %s", path)
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading .env file '%s': %w", path, err)
	}
	return nil
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.R2EndpointURL != "" && (cfg.R2AccessKeyID == "" || cfg.R2SecretAccessKey == "") {
		log.Println("Warning: CLOUDFLARE_R2_ENDPOINT is set, but the R2 access key id or secret access key is missing.")
	}

	if len(cfg.TrainerCommand) == 0 {
		return nil, fmt.Errorf("TRAINER_COMMAND must not be empty")
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		log.Printf("Invalid LOG_LEVEL value '%s', using info", c.LogLevel)
		return slog.LevelInfo
	}
	return level
}

// TrainerEnv returns the extra environment passed to the external trainer.
func (c *Config) TrainerEnv() []string {
	var vars []string
	if c.DisableTelemetry {
		vars = append(vars, "DISABLE_TELEMETRY=YES")
	}
	if c.HFTransfer {
		vars = append(vars, "HF_HUB_ENABLE_HF_TRANSFER=1")
	}
	return vars
}

package jobconfig

// JobConfig is the document consumed by the external trainer.
type JobConfig struct {
	Job    string `yaml:"job"`
	Config Config `yaml:"config"`
	Meta   Meta   `yaml:"meta"`
}

type Config struct {
	Name    string    `yaml:"name"`
	Process []Process `yaml:"process"`
}

type Meta struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type Process struct {
	Type           string    `yaml:"type"`
	TrainingFolder string    `yaml:"training_folder"`
	Device         string    `yaml:"device"`
	TriggerWord    string    `yaml:"trigger_word"`
	Network        Network   `yaml:"network"`
	Save           Save      `yaml:"save"`
	Datasets       []Dataset `yaml:"datasets"`
	Train          Train     `yaml:"train"`
	Model          ModelRef  `yaml:"model"`
	Sample         Sample    `yaml:"sample"`
}

type Network struct {
	Type        string `yaml:"type"`
	Linear      int    `yaml:"linear"`
	LinearAlpha int    `yaml:"linear_alpha"`
}

type Save struct {
	Dtype              string `yaml:"dtype"`
	SaveEvery          int    `yaml:"save_every"`
	MaxStepSavesToKeep int    `yaml:"max_step_saves_to_keep"`
	PushToHub          bool   `yaml:"push_to_hub"`
}

type Dataset struct {
	FolderPath         string  `yaml:"folder_path"`
	CaptionExt         string  `yaml:"caption_ext"`
	CaptionDropoutRate float64 `yaml:"caption_dropout_rate"`
	ShuffleTokens      bool    `yaml:"shuffle_tokens"`
	CacheLatentsToDisk bool    `yaml:"cache_latents_to_disk"`
	Resolution         []int   `yaml:"resolution"`
}

type Train struct {
	BatchSize                 int       `yaml:"batch_size"`
	Steps                     int       `yaml:"steps"`
	GradientAccumulationSteps int       `yaml:"gradient_accumulation_steps"`
	TrainUnet                 bool      `yaml:"train_unet"`
	TrainTextEncoder          bool      `yaml:"train_text_encoder"`
	GradientCheckpointing     bool      `yaml:"gradient_checkpointing"`
	NoiseScheduler            string    `yaml:"noise_scheduler"`
	Optimizer                 string    `yaml:"optimizer"`
	LR                        float64   `yaml:"lr"`
	SkipFirstSample           bool      `yaml:"skip_first_sample"`
	EMAConfig                 EMAConfig `yaml:"ema_config"`
	Dtype                     string    `yaml:"dtype"`
}

type EMAConfig struct {
	UseEMA   bool    `yaml:"use_ema"`
	EMADecay float64 `yaml:"ema_decay"`
}

type ModelRef struct {
	NameOrPath string `yaml:"name_or_path"`
	IsFlux     bool   `yaml:"is_flux"`
	Quantize   bool   `yaml:"quantize"`
	LowVRAM    bool   `yaml:"low_vram"`
}

type Sample struct {
	Sampler       string   `yaml:"sampler"`
	SampleEvery   int      `yaml:"sample_every"`
	Width         int      `yaml:"width"`
	Height        int      `yaml:"height"`
	Prompts       []string `yaml:"prompts"`
	Neg           string   `yaml:"neg"`
	Seed          int      `yaml:"seed"`
	WalkSeed      bool     `yaml:"walk_seed"`
	GuidanceScale float64  `yaml:"guidance_scale"`
	SampleSteps   int      `yaml:"sample_steps"`
}

package jobconfig

import (
	"testing"

	"lora-runner/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateValues(t *testing.T) {
	cfg := Template()

	assert.Equal(t, "extension", cfg.Job)
	assert.Equal(t, Meta{Name: NameTag, Version: "1.0"}, cfg.Meta)
	require.Len(t, cfg.Config.Process, 1)

	p := cfg.Config.Process[0]
	assert.Equal(t, "sd_trainer", p.Type)
	assert.Equal(t, "cuda:0", p.Device)
	assert.Equal(t, Network{Type: "lora", Linear: 16, LinearAlpha: 16}, p.Network)
	assert.Equal(t, Save{Dtype: "float16", SaveEvery: 10, MaxStepSavesToKeep: 2}, p.Save)
	require.Len(t, p.Datasets, 1)
	assert.Equal(t, []int{512, 768, 1024}, p.Datasets[0].Resolution)
	assert.Equal(t, 0.05, p.Datasets[0].CaptionDropoutRate)
	assert.Equal(t, "adamw8bit", p.Train.Optimizer)
	assert.Equal(t, 0.0001, p.Train.LR)
	assert.Equal(t, EMAConfig{UseEMA: true, EMADecay: 0.99}, p.Train.EMAConfig)
	assert.Equal(t, "black-forest-labs/FLUX.1-dev", p.Model.NameOrPath)
	assert.True(t, p.Model.Quantize)
	assert.Equal(t, 42, p.Sample.Seed)
	assert.Equal(t, 4.0, p.Sample.GuidanceScale)
	assert.Empty(t, p.Sample.Prompts)
}

func TestTemplateReturnsFreshCopy(t *testing.T) {
	first := Template()
	first.Config.Process[0].TriggerWord = "changed"
	first.Config.Process[0].Datasets[0].Resolution[0] = 1

	second := Template()
	assert.Empty(t, second.Config.Process[0].TriggerWord)
	assert.Equal(t, 512, second.Config.Process[0].Datasets[0].Resolution[0])
}

func TestPrompt(t *testing.T) {
	assert.Equal(t, "A nice picture of T1 a woman, close lookup, nice dress, nice gray background", Prompt("T1", "female"))
	assert.Equal(t, "A nice picture of T1 a man, close lookup, nice clothes, nice gray background", Prompt("T1", "male"))
	assert.Equal(t, Prompt("T1", "male"), Prompt("T1", ""))
}

func TestBuild(t *testing.T) {
	task := &database.Task{Id: "T1", Metadata: database.TaskMetadata{Gender: "female"}}
	layout := Layout{Root: "/data"}

	cfg := Build(task, layout)
	p := cfg.Config.Process[0]

	assert.Equal(t, "T1", cfg.Config.Name)
	assert.Equal(t, "T1", p.TriggerWord)
	assert.Equal(t, "/data/dataset/T1", p.Datasets[0].FolderPath)
	assert.Equal(t, "/data/output", p.TrainingFolder)
	assert.Equal(t, []string{Prompt("T1", "female")}, p.Sample.Prompts)

	assert.Equal(t, cfg, Build(task, layout))
}

func TestLayout(t *testing.T) {
	layout := Layout{Root: "/data"}
	assert.Equal(t, "/data/config/T1.yml", layout.ConfigPath("T1"))
	assert.Equal(t, "/data/dataset/T1", layout.DatasetDir("T1"))
	assert.Equal(t, "/data/output/T1/T1.safetensors", layout.ArtifactPath("T1"))
}

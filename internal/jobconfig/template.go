package jobconfig

import (
	_ "embed"
	"fmt"

	"lora-runner/internal/database"

	"gopkg.in/yaml.v2"
)

//go:embed template.yml
var templateYAML []byte

const NameTag = "[name]"

// Template returns a fresh copy of the base job configuration. Callers may
// modify the result freely.
func Template() JobConfig {
	var cfg JobConfig
	if err := yaml.Unmarshal(templateYAML, &cfg); err != nil {
		// Only reachable if the embedded file is malformed.
		panic(fmt.Sprintf("invalid embedded job config template: %v", err))
	}
	return cfg
}

func Prompt(taskId, gender string) string {
	if gender == "female" {
		return fmt.Sprintf("A nice picture of %s a woman, close lookup, nice dress, nice gray background", taskId)
	}
	return fmt.Sprintf("A nice picture of %s a man, close lookup, nice clothes, nice gray background", taskId)
}

// Build fills the template for a task. The run name, trigger word and dataset
// folder all derive from the task id, and the output folder is absolute under
// the layout root so the artifact lands at Layout.ArtifactPath regardless of
// the trainer's working directory.
func Build(task *database.Task, layout Layout) JobConfig {
	cfg := Template()

	cfg.Config.Name = task.Id

	process := &cfg.Config.Process[0]
	process.TriggerWord = task.Id
	process.TrainingFolder = layout.OutputRoot()
	process.Datasets[0].FolderPath = layout.DatasetDir(task.Id)
	process.Sample.Prompts = []string{Prompt(task.Id, task.Metadata.Gender)}

	return cfg
}

package jobconfig

import "path/filepath"

// Layout derives every on-disk path of a run from the root folder.
type Layout struct {
	Root string
}

func (l Layout) ConfigDir() string {
	return filepath.Join(l.Root, "config")
}

func (l Layout) ConfigPath(taskId string) string {
	return filepath.Join(l.ConfigDir(), taskId+".yml")
}

func (l Layout) DatasetDir(taskId string) string {
	return filepath.Join(l.Root, "dataset", taskId)
}

func (l Layout) OutputRoot() string {
	return filepath.Join(l.Root, "output")
}

// ArtifactPath is where the trainer leaves the weights of a finished run:
// {training_folder}/{name}/{name}.safetensors.
func (l Layout) ArtifactPath(taskId string) string {
	return filepath.Join(l.OutputRoot(), taskId, taskId+".safetensors")
}

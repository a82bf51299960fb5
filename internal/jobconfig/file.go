package jobconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

var ErrConfigNotFound = errors.New("config file not found")

var configExtensions = []string{".yml", ".yaml", ".json"}

// WriteFile serializes cfg to path. The document is written to a temporary
// file in the same directory and renamed over path, so readers see either the
// previous file or the complete new one.
func WriteFile(path string, cfg JobConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error encoding job config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("error creating config directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temporary config file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("error writing config file %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("error syncing config file %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing config file %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("error setting permissions on config file %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("error moving config file into place at %s: %w", path, err)
	}
	committed = true

	return nil
}

// Resolve maps a reference to a config file. An existing path is used as is;
// otherwise the reference is looked up by name in the layout's config folder,
// trying each known extension.
func Resolve(layout Layout, ref string) (string, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return ref, nil
	}

	candidates := []string{filepath.Join(layout.ConfigDir(), ref)}
	for _, ext := range configExtensions {
		candidates = append(candidates, filepath.Join(layout.ConfigDir(), ref+ext))
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrConfigNotFound, ref)
}

// LoadFile reads a config file in YAML or JSON form. When name is set, every
// occurrence of the [name] tag is replaced with it before decoding.
func LoadFile(path, name string) (*JobConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	text := string(data)
	if name != "" {
		text = strings.ReplaceAll(text, NameTag, name)
	}

	var cfg JobConfig
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, fmt.Errorf("error decoding config file %s: %w", path, err)
	}
	return &cfg, nil
}

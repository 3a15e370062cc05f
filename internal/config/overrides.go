package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"audiotext/internal/domain"
)

// overrideFile mirrors Settings with optional fields so that keys absent
// from the file keep their base value.
type overrideFile struct {
	ModelPath *string `toml:"model_path"`
	OutputDir *string `toml:"output_dir"`
	Language  *string `toml:"language"`
}

// LoadOverrides applies keys from a TOML file on top of base.
// Unknown keys are rejected.
func LoadOverrides(path string, base domain.Settings) (domain.Settings, error) {
	var file overrideFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return domain.Settings{}, fmt.Errorf("decode %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if file.ModelPath != nil {
		base.ModelPath = *file.ModelPath
	}
	if file.OutputDir != nil {
		base.OutputDir = *file.OutputDir
	}
	if file.Language != nil {
		base.Language = *file.Language
	}
	return Normalize(base), nil
}

// Normalize trims user inputs and applies default language when empty.
func Normalize(settings domain.Settings) domain.Settings {
	settings.ModelPath = strings.TrimSpace(settings.ModelPath)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.Language = strings.TrimSpace(settings.Language)
	if settings.Language == "" {
		settings.Language = "auto"
	}
	return settings
}

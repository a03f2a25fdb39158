package cli

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/modelshard/convert/internal/convert"
)

// loadConfig reads a JSON or YAML converter configuration file. A missing
// path is not an error; it just means "use defaults", the same convention
// the teacher's target-config loader follows.
func loadConfig(path string) (convert.Config, error) {
	var cfg convert.Config
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	// YAML is a JSON superset, so both config formats decode through the
	// same parser.
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %q: %w", path, err)
	}
	return cfg, nil
}

package offlinecache

import (
	"os"

	"github.com/offline-cache/offline-cache/pkg/strategy"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML side of the configuration. It carries the parts
// too structured to express as flags or environment variables.
type FileConfig struct {
	Origin     string         `yaml:"origin"`
	Host       string         `yaml:"host"`
	Version    int            `yaml:"version"`
	APIPrefix  string         `yaml:"apiPrefix"`
	Precache   []string       `yaml:"precache"`
	Shell      string         `yaml:"shell"`
	Rules      strategy.Rules `yaml:"rules"`
	MaxEntries int            `yaml:"maxEntries"`
}

// ReadFileConfig reads the YAML configuration from the given file.
func ReadFileConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

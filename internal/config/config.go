// Package config loads the optional YAML file that supplies defaults for the
// probe command. Flags given on the command line take precedence.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/baptistax/ice-probe/internal/probe"
)

type File struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Format    string `yaml:"format"`
	Exports   string `yaml:"exports"`

	Timeout  time.Duration      `yaml:"timeout"`
	Interval time.Duration      `yaml:"interval"`
	Servers  probe.ServerConfig `yaml:"servers"`

	HTTP  HTTP  `yaml:"http"`
	Redis Redis `yaml:"redis"`
}

type HTTP struct {
	Listen    string        `yaml:"listen"`
	Retention time.Duration `yaml:"retention"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func Load(fs afero.Fs, path string) (File, error) {
	var f File
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return f, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("parse config %s: %w", path, err)
	}
	if f.Timeout < 0 || f.Interval < 0 || f.HTTP.Retention < 0 {
		return f, fmt.Errorf("config %s: durations must not be negative", path)
	}
	return f, nil
}

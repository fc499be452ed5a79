package config

import (
	"bytes"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/ezoph/logging"
)

// Read reads a config from the given file, expanding environment variables first. Both YAML and
// JSON files are accepted.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg, err := FromReader(filePath, bytes.NewReader(buf), logger)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Errorf("config %q is empty", originalPath)
		}
		return nil, errors.Wrapf(err, "failed to decode config %q", originalPath)
	}
	cfg.ConfigFilePath = originalPath

	if err := cfg.Ensure(); err != nil {
		return nil, err
	}
	logger.Debugw("read config", "path", originalPath, "components", len(cfg.Components))
	return &cfg, nil
}

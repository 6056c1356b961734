package config

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/edaniels/golog"
	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"go.viam.com/depthcloud/utils"
)

// Read reads a config from the given file, expanding ${VAR} references from the environment
// first. Fields the file leaves out keep their default values.
func Read(filePath string, logger golog.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, utils.NewIOError(err, filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger golog.Logger) (*Config, error) {
	cfg := Default()
	cfg.ConfigFilePath = originalPath

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	if cfg.IntrinsicsFile != "" && originalPath != "" && !filepath.IsAbs(cfg.IntrinsicsFile) {
		cfg.IntrinsicsFile = filepath.Join(filepath.Dir(originalPath), cfg.IntrinsicsFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", originalPath)
	}
	logger.Debugw("read config", "path", originalPath, "stride", cfg.Stride, "z_min", cfg.ZMin, "z_max", cfg.ZMax)
	return cfg, nil
}

// ApplyOverrides decodes the overrides, keyed by json field name, onto the config and
// validates the result. The config is left untouched if anything fails.
func (c *Config) ApplyOverrides(overrides map[string]interface{}) error {
	if len(overrides) == 0 {
		return nil
	}
	conf := c.Copy()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           conf,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(overrides); err != nil {
		return utils.NewInvalidRangeError("bad override: %v", err)
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	*c = *conf
	return nil
}

// Schema returns the indented JSON schema of a config file.
func Schema() ([]byte, error) {
	return json.MarshalIndent(jsonschema.Reflect(&Config{}), "", "  ")
}

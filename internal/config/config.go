// Package config loads the niemgraph configuration file. Decoding is
// strict: unknown fields and multiple documents are rejected so stale keys
// fail loudly instead of being silently ignored.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"niemgraph/internal/pipeline/batch"
)

type Config struct {
	Batch struct {
		MaxConcurrent         int `json:"maxConcurrent" yaml:"maxConcurrent"`
		PerFileTimeoutSeconds int `json:"perFileTimeoutSeconds" yaml:"perFileTimeoutSeconds"`
		MaxFiles              struct {
			Schema  int `json:"schema" yaml:"schema"`
			Ingest  int `json:"ingest" yaml:"ingest"`
			Convert int `json:"convert" yaml:"convert"`
		} `json:"maxFiles" yaml:"maxFiles"`
	} `json:"batch" yaml:"batch"`

	Tool struct {
		CommandPath string `json:"commandPath" yaml:"commandPath"`
	} `json:"tool" yaml:"tool"`

	GraphSink struct {
		Endpoint string `json:"endpoint" yaml:"endpoint"`
		Username string `json:"username,omitempty" yaml:"username,omitempty"`
		Password string `json:"password,omitempty" yaml:"password,omitempty"`
	} `json:"graphSink" yaml:"graphSink"`

	BlobSink struct {
		// Endpoint is a directory path for the filesystem store.
		Endpoint string `json:"endpoint" yaml:"endpoint"`
	} `json:"blobSink" yaml:"blobSink"`
}

// Default returns the configuration with every default applied and no file
// read.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads and strictly decodes a config file (YAML, or JSON by
// extension), applies defaults and environment overrides, and validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Batch.MaxConcurrent == 0 {
		c.Batch.MaxConcurrent = batch.DefaultMaxConcurrent
	}
	if c.Batch.PerFileTimeoutSeconds == 0 {
		c.Batch.PerFileTimeoutSeconds = int(batch.DefaultPerFileTimeout / time.Second)
	}
	defaults := batch.DefaultMaxFiles()
	if c.Batch.MaxFiles.Schema == 0 {
		c.Batch.MaxFiles.Schema = defaults[batch.KindSchema]
	}
	if c.Batch.MaxFiles.Ingest == 0 {
		c.Batch.MaxFiles.Ingest = defaults[batch.KindIngest]
	}
	if c.Batch.MaxFiles.Convert == 0 {
		c.Batch.MaxFiles.Convert = defaults[batch.KindConvert]
	}
	if c.Tool.CommandPath == "" {
		c.Tool.CommandPath = "niem-tool"
	}
	if c.BlobSink.Endpoint == "" {
		c.BlobSink.Endpoint = "data"
	}
}

// Environment overrides for the values that differ per deployment.
func (c *Config) applyEnv() {
	if v := os.Getenv("NIEMGRAPH_TOOL_PATH"); v != "" {
		c.Tool.CommandPath = v
	}
	if v := os.Getenv("NIEMGRAPH_GRAPH_ENDPOINT"); v != "" {
		c.GraphSink.Endpoint = v
	}
	if v := os.Getenv("NIEMGRAPH_GRAPH_USERNAME"); v != "" {
		c.GraphSink.Username = v
	}
	if v := os.Getenv("NIEMGRAPH_GRAPH_PASSWORD"); v != "" {
		c.GraphSink.Password = v
	}
	if v := os.Getenv("NIEMGRAPH_BLOB_DIR"); v != "" {
		c.BlobSink.Endpoint = v
	}
}

func (c *Config) validate() error {
	if c.Batch.MaxConcurrent < 1 {
		return fmt.Errorf("batch.maxConcurrent must be at least 1")
	}
	if c.Batch.PerFileTimeoutSeconds < 1 {
		return fmt.Errorf("batch.perFileTimeoutSeconds must be at least 1")
	}
	for name, v := range map[string]int{
		"batch.maxFiles.schema":  c.Batch.MaxFiles.Schema,
		"batch.maxFiles.ingest":  c.Batch.MaxFiles.Ingest,
		"batch.maxFiles.convert": c.Batch.MaxFiles.Convert,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	return nil
}

// Limits translates the batch section into executor limits.
func (c *Config) Limits() batch.Limits {
	return batch.Limits{
		MaxConcurrent:  c.Batch.MaxConcurrent,
		PerFileTimeout: time.Duration(c.Batch.PerFileTimeoutSeconds) * time.Second,
		MaxFiles: map[batch.Kind]int{
			batch.KindSchema:  c.Batch.MaxFiles.Schema,
			batch.KindIngest:  c.Batch.MaxFiles.Ingest,
			batch.KindConvert: c.Batch.MaxFiles.Convert,
		},
	}
}

func decodeJSONStrict(b []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	if err := dec.Decode(new(Config)); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple yaml documents are not allowed")
		}
		return err
	}
	return nil
}

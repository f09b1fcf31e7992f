package config

import (
	"fmt"
	"time"

	"github.com/kbukum/datagraph/engine/mongo"
	"github.com/kbukum/datagraph/logger"
	"github.com/kbukum/datagraph/runner"
)

// Engine backend kinds.
const (
	EngineMemory = "memory"
	EngineMongo  = "mongo"
)

// EngineConfig selects and configures the default persistence engine.
type EngineConfig struct {
	// Type is "memory" or "mongo".
	Type string `yaml:"type" mapstructure:"type"`
	// ID pins the identity of a memory engine so dataset hashes stay
	// stable across restarts. Ignored by the mongo engine, whose
	// identity derives from database and collection.
	ID    string       `yaml:"id" mapstructure:"id"`
	Mongo mongo.Config `yaml:"mongo" mapstructure:"mongo"`
}

// ApplyDefaults applies default values to the engine configuration.
func (c *EngineConfig) ApplyDefaults() {
	if c.Type == "" {
		c.Type = EngineMemory
	}
	c.Mongo.ApplyDefaults()
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	switch c.Type {
	case EngineMemory:
		return nil
	case EngineMongo:
		return c.Mongo.Validate()
	default:
		return fmt.Errorf("engine.type must be %q or %q (got: %s)", EngineMemory, EngineMongo, c.Type)
	}
}

// GraphConfig carries the context defaults for task construction.
type GraphConfig struct {
	// Version is the default semantic code version of tasks.
	Version string `yaml:"version" mapstructure:"version"`
	// TargetStart/TargetEnd bound the default target range (RFC 3339).
	TargetStart string `yaml:"target_start" mapstructure:"target_start"`
	TargetEnd   string `yaml:"target_end" mapstructure:"target_end"`
}

// TargetRange parses the configured default range. Returns ok=false
// when no range is configured.
func (c *GraphConfig) TargetRange() (start, end time.Time, ok bool, err error) {
	if c.TargetStart == "" || c.TargetEnd == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	start, err = time.Parse(time.RFC3339, c.TargetStart)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("graph.target_start: %w", err)
	}
	end, err = time.Parse(time.RFC3339, c.TargetEnd)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("graph.target_end: %w", err)
	}
	return start, end, true, nil
}

// Config is the root configuration of a datagraph service.
type Config struct {
	Name        string        `yaml:"name" mapstructure:"name"`
	Environment string        `yaml:"environment" mapstructure:"environment"`
	Logging     logger.Config `yaml:"logging" mapstructure:"logging"`
	Engine      EngineConfig  `yaml:"engine" mapstructure:"engine"`
	Runner      runner.Config `yaml:"runner" mapstructure:"runner"`
	Graph       GraphConfig   `yaml:"graph" mapstructure:"graph"`
}

// ApplyDefaults applies default values to the whole configuration.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "datagraph"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Logging.ServiceName == "" {
		c.Logging.ServiceName = c.Name
	}
	c.Logging.ApplyDefaults()
	c.Engine.ApplyDefaults()
	c.Runner.ApplyDefaults()
}

// Validate validates the whole configuration.
func (c *Config) Validate() error {
	validEnvs := []string{"development", "staging", "production"}
	found := false
	for _, v := range validEnvs {
		if c.Environment == v {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("environment must be one of %v (got: %s)", validEnvs, c.Environment)
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if _, _, _, err := c.Graph.TargetRange(); err != nil {
		return err
	}
	return nil
}

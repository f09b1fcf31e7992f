package config

import (
	"fmt"

	"github.com/kbukum/datagraph/engine"
	"github.com/kbukum/datagraph/engine/memory"
	"github.com/kbukum/datagraph/engine/mongo"
	"github.com/kbukum/datagraph/logger"
)

// BuildEngine constructs the configured persistence engine. A mongo
// engine is returned unconnected; call Start before use.
func (c *EngineConfig) BuildEngine(log *logger.Logger) (engine.Engine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Type {
	case EngineMemory:
		if c.ID != "" {
			return memory.NewWithID(c.ID, log), nil
		}
		return memory.New(log), nil
	case EngineMongo:
		return mongo.New(c.Mongo, log), nil
	}
	return nil, fmt.Errorf("engine.type %q is not supported", c.Type)
}

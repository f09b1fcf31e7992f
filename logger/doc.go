// Package logger provides structured logging built on zerolog.
//
// Engines and runners take a *Logger and tag their events with a
// component name:
//
//	log := logger.NewDefault("datagraph").WithComponent("runner")
//	log.Info("task complete", logger.Fields("task", name))
package logger

// Package config loads the framework configuration from YAML files,
// .env files, and environment variables.
//
//	var cfg config.Config
//	if err := config.Load("datagraph", &cfg); err != nil { ... }
//	cfg.ApplyDefaults()
//	if err := cfg.Validate(); err != nil { ... }
//
// The loader resolves a config.yml and an optional .env file in the
// working directory;
// environment variables override file values through Viper's automatic
// binding.
package config

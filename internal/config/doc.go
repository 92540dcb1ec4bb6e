// Package config loads the two configuration sources of the workflow
// service: the TOML service file (logging, timers, transports, storage)
// and the YAML catalog (reviewers, routing rules, critical-value policies,
// contacts). The catalog can be watched and reloaded while running.
package config

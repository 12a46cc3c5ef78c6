package main

import "github.com/tdzsx789/xufei-agent/internal/config"

// Re-export types from the config sub-package so they are available as
// Wails-bound method parameter and return types in the main package.

// Config is the persisted launcher record.
type Config = config.Config

// Patch is a partial Config update sent by the control window.
type Patch = config.Patch

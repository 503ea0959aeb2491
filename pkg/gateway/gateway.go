// Package gateway provides the public API for embedding the chat gateway.
package gateway

import (
	"github.com/kamesh6592-cell/v0-clone/internal/runtime"
)

// Gateway is the main entry point for running the chat gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithLogger(logger),
//	    gateway.WithFileConfig("config.yaml"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig

	// Collaborators
	WithStore    = runtime.WithStore
	WithNotifier = runtime.WithNotifier
	WithAdapters = runtime.WithAdapters

	WithLogger = runtime.WithLogger
)

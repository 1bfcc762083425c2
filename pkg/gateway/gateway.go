// Package gateway is the public API for embedding the CRM gateway.
package gateway

import (
	"github.com/tjfontaine/enterprise-crm-gateway/internal/runtime"
)

// Gateway is the main entry point for running the CRM gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithSQLite("./data/crm.db"),
//	)
var New = runtime.New

var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig

	// Storage
	WithSQLite   = runtime.WithSQLite
	WithPostgres = runtime.WithPostgres
	WithStore    = runtime.WithStore

	WithLogger = runtime.WithLogger
)

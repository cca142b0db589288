// Package gateway provides the public API for embedding the emulator gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/runtime"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services"
)

// Gateway is the main entry point for running the emulator gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithConfigFile("config.yaml"),
//	)
var New = runtime.New

// Configuration options
var (
	WithLogger     = runtime.WithLogger
	WithConfig     = runtime.WithConfig
	WithConfigFile = runtime.WithConfigFile
	WithStore      = runtime.WithStore
	WithRegistry   = runtime.WithRegistry
	WithHTTPClient = runtime.WithHTTPClient
	WithServices   = runtime.WithServices
	WithHandlers   = runtime.WithHandlers
)

// Handler chain types for custom handlers.
type (
	Chain            = chain.Chain
	RequestContext   = chain.RequestContext
	Response         = chain.Response
	Handlers         = chain.Handlers
	Entry[H any]     = chain.Entry[H]
	Disposition      = chain.Disposition
	RequestHandler   = chain.RequestHandler
	ResponseHandler  = chain.ResponseHandler
	ExceptionHandler = chain.ExceptionHandler

	RequestHandlerFunc   = chain.RequestHandlerFunc
	ResponseHandlerFunc  = chain.ResponseHandlerFunc
	ExceptionHandlerFunc = chain.ExceptionHandlerFunc
)

const (
	NotHandled = chain.NotHandled
	Handled    = chain.Handled
)

// Service is a locally emulated service; see WithServices.
type Service = services.Service

// ServiceRequest is the decoded operation handed to a Service.
type ServiceRequest = services.Request

// Package handlers provides the built-in request, response and exception
// handlers the gateway assembles into its default chain.
//
// Request handlers run in registration order and either continue, finalize
// the response or return a fault. Response handlers observe every request.
// Exception handlers translate faults into responses.
package handlers

// Registration names of the built-in handlers.
const (
	NameRequestID       = "request_id"
	NameParse           = "parse"
	NameAuthenticate    = "authenticate"
	NameRateLimit       = "rate_limit"
	NameForward         = "forward"
	NameRoute           = "route"
	NameCORS            = "cors"
	NameRequestIDHeader = "request_id_header"
	NameMetrics         = "metrics"
	NameRecord          = "record"
	NameLog             = "log"
	NameLogFault        = "log_fault"
	NameTranslateFault  = "translate_fault"
)

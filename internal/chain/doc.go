// Package chain provides the request-processing pipeline of the gateway.
//
// A Chain runs three ordered handler lists over one RequestContext/Response pair:
//
//   - Request handlers run in registration order until one finalizes the response
//     or returns an error.
//   - Exception handlers run only when the request phase faulted. The first one
//     that returns Handled claims the fault. Unclaimed or secondary faults produce
//     a generic 500 response.
//   - Response handlers always run, each exactly once, whatever happened before.
//     Their faults are logged and the remaining response handlers still run.
//
// The chain never lets a fault or panic escape Handle. A chain is single-use.
package chain

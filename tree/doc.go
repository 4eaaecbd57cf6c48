// Package tree implements the root side of hierarchical command
// propagation: the routes topology and the versioned frame protocol
// spoken between a task and its gateways. The gateway-side relay that
// re-runs the engine one hop further down is package gateway.
package tree

// Package worker implements the units of user-requested work driven by
// the engine: local and remote command execution and file copy. Workers
// spawn one engine client per destination (the tree worker: one per
// gateway for the destinations it relays) and report through the same
// event contract: Start, Pickup, Read, Written, Hup, Close.
package worker

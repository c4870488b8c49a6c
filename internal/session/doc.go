// Package session runs one connected lifetime of the agent: connect with
// retry, subscribe to commands, publish discovery, wait for the broker
// to settle, then race the heartbeat against the connection, the
// command dispatcher and the status publisher.
//
// A run ends cleanly only when its [Stop] fires and the heartbeat has
// published "offline" and disconnected. Every other ending is an error
// returned to the caller, which decides whether to start another run.
package session

// Package sensors implements the host sensors published to Home
// Assistant. Plain sensors read their source on every status request;
// the CPU and network sensors are backed by a background [sampler] and
// report rates over the last sampling window.
package sensors

// Package types defines the shared vocabulary of the agent: guests, disks,
// storage descriptors, and the upstream/downstream message shapes exchanged
// with the control plane over the bus.
package types

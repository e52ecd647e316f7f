// Package service orchestrates the extraction core: it accepts single,
// batch, and streaming submissions, routes work into the right concurrency
// pool for the caller's traffic class, applies the guest fair-queuing gate,
// drives the pipeline with registry-backed progress listeners and
// cancellation checkpoints, and runs the janitor that evicts old records.
package service

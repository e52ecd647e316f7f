// Package gate provides bounded-parallelism admission control for the
// extraction pipeline: fixed-size worker pools with buffered submission
// queues (one per traffic class), and a fair-queuing semaphore gate that
// additionally throttles guest callers process-wide.
package gate

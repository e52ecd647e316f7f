// Package domain contains the core entities of the subtitle extraction
// service: batch jobs, their per-video tasks, and the durable extraction
// tasks that are mirrored to persistent storage.
package domain

// Package registry implements the in-memory task registries that track the
// lifecycle of concurrently running extraction jobs.
//
// BatchRegistry tracks multi-video batch jobs with per-video sub-status and
// batch-level cancellation. ExtractTaskRegistry tracks single-video durable
// tasks fronted by an in-memory cache and mirrored to a persistent record
// store after every mutation for crash recovery.
//
// Both registries guard their maps with a single mutex apiece and never hold
// it across a blocking store call.
package registry

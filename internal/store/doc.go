// Package store defines the persistence interfaces consumed by the task
// registries, together with the sentinel errors shared by all store
// implementations. Concrete implementations live under
// internal/platform (e.g. postgres).
package store

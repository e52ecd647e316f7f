// Package filehost implements the pipeline's FileHost collaborator for the
// anonymous temporary-storage services the extraction pipeline races, plus
// the self-hosted direct-link variant.
package filehost

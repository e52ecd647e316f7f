// Package api contains the HTTP handlers for the extraction service:
// single-video extraction (async and streaming), batch jobs, durable task
// management, guest gate status, and transcript polishing.
package api

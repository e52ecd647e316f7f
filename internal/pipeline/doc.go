// Package pipeline runs a single video through the extraction stage
// sequence: native-subtitle probe, audio download, upload for recognition,
// speech-to-text transcription, and result assembly. Each stage reports
// progress into a fixed percentage band through a Listener, and honors
// cooperative cancellation at defined checkpoints.
//
// The pipeline talks to external systems only through the collaborator
// interfaces declared in this package, so callers choose the concrete
// video site, file hosts, and recognition vendor.
package pipeline

// Package polish defines the boundary interface for LLM post-processing of
// extracted transcripts: cleaning up recognition noise or answering a
// caller's question about the content. Concrete implementations live under
// internal/platform.
package polish

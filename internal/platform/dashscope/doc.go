// Package dashscope implements the pipeline's asynchronous speech
// recognition collaborator against the DashScope paraformer transcription
// REST API: submit a job for a public audio URL, poll its status, fetch the
// recognized sentences.
package dashscope

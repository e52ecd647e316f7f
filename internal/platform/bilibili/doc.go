// Package bilibili implements the video-site collaborators of the
// extraction pipeline against the Bilibili web API: video metadata lookup,
// native caption retrieval, and audio track download.
package bilibili

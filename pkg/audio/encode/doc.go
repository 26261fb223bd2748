// ABOUTME: Package documentation for audio encoders
// ABOUTME: Describes the buffering encoder contract used by the output server

// Package encode provides the encoder pipeline between raw PCM input and
// transport-ready frames. Encoders may buffer input across Encode calls;
// Flush drains whatever is buffered so the server can bound end-to-end
// latency. Each encoder exposes a one-time codec header that clients need
// before the first frame.
package encode

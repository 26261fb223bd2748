// ABOUTME: Package documentation for the wire protocol
// ABOUTME: Describes the framed message layout sent to stream clients

// Package snapcast implements the binary wire protocol spoken to stream
// clients. Every message is a fixed 26-byte base header followed by a
// typed payload; all integers are little-endian.
//
// The framing follows the Snapcast base protocol, with one deviation:
// wire chunks carry an explicit nominal duration (durationMs) after the
// timestamp, so a client can account for a chunk's playback length
// without knowing the codec's frame timing.
package snapcast

// ABOUTME: Package documentation for audio types
// ABOUTME: Describes the sample format model shared by encoder and server

// Package audio defines the PCM sample format used across the streaming
// pipeline: interleaved little-endian frames, 16 or 24 bits per sample.
// It also provides the byte-rate and duration arithmetic the output
// server uses for wallclock pacing.
package audio

// ABOUTME: Package documentation for the streaming output server
// ABOUTME: Describes lifecycle, lock discipline, and delivery guarantees

// Package output implements the streaming output server: it accepts
// client connections, encodes one live PCM stream through a pluggable
// codec, and fans timestamped wire chunks out to every connected client.
//
// Two actors drive a Server: the playback engine, which calls Open, Play,
// Pause, Cancel, Close, and Delay; and the network side, which accepts
// connections and observes per-client socket errors. One internal mutex
// protects the listener, the encoder and codec header, and the client
// list. Exported methods acquire it; unexported methods with a Locked
// suffix require it held.
//
// Delivery is best-effort and never blocks the playback engine: each
// client session owns an unbounded outbound frame queue drained by its
// own writer goroutine. A client whose connection fails is dropped
// without disturbing delivery to the others; playback pacing is wallclock
// based (see Timer), not delivery based.
package output

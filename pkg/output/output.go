// ABOUTME: Output server: lifecycle, broadcast path, and flush heuristic
// ABOUTME: Fans encoded wire chunks out to all connected client sessions

package output

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/snapstream/snapstream-go/pkg/audio"
	"github.com/snapstream/snapstream-go/pkg/audio/encode"
	"github.com/snapstream/snapstream-go/pkg/snapcast"
)

// pausePollInterval is what Delay returns while the output is paused, so
// the playback engine re-checks promptly without spinning.
const pausePollInterval = 100 * time.Millisecond

// Config holds output server configuration. The flush threshold and codec
// identifier are policy of the deployment, not of the server.
type Config struct {
	// Addr is the TCP listen address, e.g. ":1704".
	Addr string

	// Codec selects the encoder: "pcm", "opus", or "flac".
	Codec string

	// BufferMs is the client-side buffering target reported in server
	// settings.
	BufferMs int

	// Latency is the additional per-client latency in milliseconds
	// reported in server settings.
	Latency int

	// MaxBuffered bounds how much PCM the encoder may buffer without
	// emitting output before a flush is forced.
	MaxBuffered time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":1704"
	}
	if c.Codec == "" {
		c.Codec = "pcm"
	}
	if c.BufferMs == 0 {
		c.BufferMs = 1000
	}
	if c.MaxBuffered == 0 {
		c.MaxBuffered = time.Second
	}
}

// Server is the streaming output. It is constructed once per configured
// output and is reusable across Open/Close cycles.
type Server struct {
	cfg Config

	// mu protects everything below: the listener lifecycle, the encoder
	// and codec header state, and the client list. Exported methods
	// acquire it; methods with a Locked suffix require it held.
	mu             sync.Mutex
	ln             net.Listener
	open           bool
	paused         bool
	enc            encode.Encoder
	codecHeader    []byte
	format         audio.Format
	timer          *Timer
	unflushed      int
	flushThreshold int
	clients        []*Client
	msgID          uint16

	// newEncoder builds the encoder at Open; replaceable in tests.
	newEncoder func(codec string, format audio.Format) (encode.Encoder, error)

	acceptWG sync.WaitGroup
}

// New creates an output server bound to nothing yet.
func New(cfg Config) *Server {
	cfg.applyDefaults()
	return &Server{
		cfg:        cfg,
		newEncoder: encode.New,
	}
}

// Enable binds the listen address and starts accepting connections.
// Connections accepted while the output is not open are refused.
func (s *Server) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindLocked()
}

// Disable stops listening. Connected clients are not touched.
func (s *Server) Disable() {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil {
			log.Printf("output: close listener: %v", err)
		}
	}
	s.acceptWG.Wait()
}

func (s *Server) bindLocked() error {
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return &BindError{Addr: s.cfg.Addr, Err: err}
	}
	s.ln = ln
	s.acceptWG.Add(1)
	go s.acceptLoop(ln)
	log.Printf("output: listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listen address, or nil before Enable/Open.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.acceptWG.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Printf("output: accept: %v", err)
			}
			return
		}

		s.mu.Lock()
		if !s.open || s.ln != ln {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.addClientLocked(newTCPConn(conn), conn.RemoteAddr().String())
		s.mu.Unlock()
	}
}

// Open starts a streaming cycle: it binds the listener if needed, builds
// the encoder for the format, and captures the codec header. On error the
// server stays in the pre-Open state.
func (s *Server) Open(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return fmt.Errorf("output already open")
	}
	if err := s.bindLocked(); err != nil {
		return err
	}

	enc, err := s.newEncoder(s.cfg.Codec, format)
	if err != nil {
		return &EncoderInitError{Codec: s.cfg.Codec, Err: err}
	}

	s.enc = enc
	s.codecHeader = enc.Header()
	s.format = format
	s.timer = NewTimer(format.ByteRate())
	s.flushThreshold = format.DurationToBytes(s.cfg.MaxBuffered)
	s.unflushed = 0
	s.paused = false
	s.open = true

	log.Printf("output: open %s codec=%s header=%dB flush-threshold=%dB",
		format, s.cfg.Codec, len(s.codecHeader), s.flushThreshold)
	return nil
}

// CodecHeader returns a copy of the one-time codec header captured at
// Open, or nil while closed.
func (s *Server) CodecHeader() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	return append([]byte(nil), s.codecHeader...)
}

// Close ends the streaming cycle: every session is closed, the encoder is
// released, and timer and header state are cleared. Idempotent; never
// fails. The listener stays bound until Disable.
func (s *Server) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	clients := s.clients
	s.clients = nil
	enc := s.enc
	s.enc = nil
	s.codecHeader = nil
	s.timer = nil
	s.open = false
	s.paused = false
	s.unflushed = 0
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if err := enc.Close(); err != nil {
		log.Printf("output: close encoder: %v", err)
	}
	log.Printf("output: closed (%d clients dropped)", len(clients))
}

// Play feeds one PCM chunk into the stream. Whatever the encoder emits is
// broadcast to every session; if the encoder has buffered more than the
// configured threshold without emitting, a flush is forced first. Returns
// the number of input bytes consumed. An encoder error is fatal to the
// current Open cycle: the caller should Close and re-Open.
func (s *Server) Play(chunk []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return 0, ErrNotOpen
	}
	s.paused = false

	frames, err := s.enc.Encode(chunk)
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}
	s.unflushed += len(chunk)

	if len(frames) == 0 && s.unflushed > s.flushThreshold {
		frames, err = s.enc.Flush()
		if err != nil {
			return 0, fmt.Errorf("flush encoder: %w", err)
		}
		// The counter resets whether or not the flush produced output;
		// otherwise an empty flush would be re-forced on every chunk.
		s.unflushed = 0
	}

	if len(frames) > 0 {
		s.broadcastLocked(frames)
		s.unflushed = 0
	}

	s.timer.Add(len(chunk))
	return len(chunk), nil
}

// broadcastLocked appends one wire chunk per frame to every session's
// queue. Enqueueing never blocks; sessions whose connections have failed
// are removed by their own goroutines, not here.
func (s *Server) broadcastLocked(frames []encode.Frame) {
	ts := s.timer.Position()
	for _, f := range frames {
		msg := snapcast.EncodeWireChunk(s.nextIDLocked(), snapcast.TimeValFromDuration(ts), f.Duration, f.Data)
		for _, c := range s.clients {
			c.enqueue(msg)
		}
		ts += f.Duration
	}
}

// Pause suspends delivery without tearing down sessions or the encoder.
// Returns whether the output remains usable; false means the caller
// should Close instead.
func (s *Server) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return false
	}
	s.paused = true
	return true
}

// Cancel discards buffered-but-unsent encoder state and restarts the
// stream timer, without disconnecting clients.
func (s *Server) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return
	}
	if _, err := s.enc.Flush(); err != nil {
		log.Printf("output: cancel: flush encoder: %v", err)
	}
	s.unflushed = 0
	s.timer.Reset()
}

// Delay returns how long the playback engine should wait before the next
// Play call, pacing production to real time.
func (s *Server) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0
	}
	if s.paused {
		return pausePollInterval
	}
	return s.timer.Delay()
}

// AddClient registers an externally accepted connection as a new session.
// The session immediately receives the codec header, the server settings,
// and, if the stream is already running, a synthetic time message with
// the current stream position.
func (s *Server) AddClient(conn net.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		conn.Close()
		return ErrNotOpen
	}
	s.addClientLocked(newTCPConn(conn), conn.RemoteAddr().String())
	return nil
}

func (s *Server) addClientLocked(conn frameConn, remote string) {
	c := newClient(conn, remote, s.scheduleRemove)
	pos := snapcast.TimeValFromDuration(s.timer.Position())

	// Codec header strictly before anything else.
	c.enqueue(snapcast.EncodeCodecHeader(s.nextIDLocked(), pos, s.cfg.Codec, s.codecHeader))

	settings, err := snapcast.EncodeServerSettings(s.nextIDLocked(), pos, snapcast.ServerSettings{
		BufferMs: s.cfg.BufferMs,
		Latency:  s.cfg.Latency,
		Volume:   100,
	})
	if err != nil {
		log.Printf("output: encode server settings: %v", err)
	} else {
		c.enqueue(settings)
	}

	if s.timer.Position() > 0 {
		c.enqueue(snapcast.EncodeTime(s.nextIDLocked(), 0, pos, pos))
	}

	s.clients = append(s.clients, c)
	c.start()
	log.Printf("output: client %s connected (%d total)", remote, len(s.clients))
}

// scheduleRemove is the dead-session callback invoked from client
// goroutines.
func (s *Server) scheduleRemove(c *Client) {
	s.RemoveClient(c)
}

// RemoveClient removes the session from the live set and releases its
// connection. Idempotent; safe to call while a broadcast is in flight.
func (s *Server) RemoveClient(c *Client) {
	s.mu.Lock()
	removed := false
	for i, cl := range s.clients {
		if cl == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			removed = true
			break
		}
	}
	n := len(s.clients)
	s.mu.Unlock()

	c.close()
	if removed {
		log.Printf("output: client %s removed (%d left)", c.remote, n)
	}
}

// hasClientsLocked reports whether at least one client is connected.
// Caller must hold mu.
func (s *Server) hasClientsLocked() bool {
	return len(s.clients) > 0
}

// HasClients reports whether at least one client is connected.
func (s *Server) HasClients() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasClientsLocked()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Clients returns a snapshot of all connected sessions, in connection
// order.
func (s *Server) Clients() []ClientInfo {
	s.mu.Lock()
	clients := append([]*Client(nil), s.clients...)
	s.mu.Unlock()

	infos := make([]ClientInfo, 0, len(clients))
	for _, c := range clients {
		infos = append(infos, c.Info())
	}
	return infos
}

// Stats is a point-in-time view of the output, used by the status UI.
type Stats struct {
	Open     bool
	Paused   bool
	Codec    string
	Format   audio.Format
	Position time.Duration
	Clients  int
}

// Stats returns a snapshot of the output state.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Open:    s.open,
		Paused:  s.paused,
		Codec:   s.cfg.Codec,
		Clients: len(s.clients),
	}
	if s.open {
		st.Format = s.format
		st.Position = s.timer.Position()
	}
	return st
}

func (s *Server) nextIDLocked() uint16 {
	s.msgID++
	return s.msgID
}

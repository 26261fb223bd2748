// ABOUTME: Tests for output server lifecycle, broadcast, and flush heuristic
// ABOUTME: Covers header precedence, dead-client isolation, and pacing

package output

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/snapstream/snapstream-go/pkg/audio"
	"github.com/snapstream/snapstream-go/pkg/audio/encode"
	"github.com/snapstream/snapstream-go/pkg/snapcast"
)

func testFormat() audio.Format {
	return audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(Config{Addr: "127.0.0.1:0", Codec: "pcm"})
	t.Cleanup(func() {
		s.Close()
		s.Disable()
	})
	return s
}

// readMessage reads one complete wire message from the peer side of a
// client connection.
func readMessage(t *testing.T, r io.Reader) (*snapcast.BaseHeader, []byte) {
	t.Helper()
	hdr := make([]byte, snapcast.HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		t.Fatalf("read header: %v", err)
	}
	h, err := snapcast.ParseHeader(hdr)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	payload := make([]byte, h.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return h, payload
}

// addPipeClient registers a synthetic client and returns the peer end.
func addPipeClient(t *testing.T, s *Server) net.Conn {
	t.Helper()
	server, peer := net.Pipe()
	if err := s.AddClient(server); err != nil {
		t.Fatalf("AddClient() failed: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return peer
}

// readGreeting consumes the codec header and server settings sent to a
// freshly added client and returns the codec header payload.
func readGreeting(t *testing.T, peer net.Conn) *snapcast.CodecHeader {
	t.Helper()
	h, payload := readMessage(t, peer)
	if h.Type != snapcast.TypeCodecHeader {
		t.Fatalf("first message type = %d, want codec header (%d)", h.Type, snapcast.TypeCodecHeader)
	}
	ch, err := snapcast.ParseCodecHeader(payload)
	if err != nil {
		t.Fatalf("parse codec header: %v", err)
	}

	h, _ = readMessage(t, peer)
	if h.Type != snapcast.TypeServerSettings {
		t.Fatalf("second message type = %d, want server settings (%d)", h.Type, snapcast.TypeServerSettings)
	}
	return ch
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenUnknownCodec(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", Codec: "vorbis"})
	defer s.Disable()

	err := s.Open(testFormat())
	if err == nil {
		t.Fatal("Open() expected error for unknown codec")
	}
	var initErr *EncoderInitError
	if !errors.As(err, &initErr) {
		t.Errorf("Open() error = %T, want *EncoderInitError", err)
	}
	if s.Stats().Open {
		t.Error("server reports open after failed Open()")
	}
}

func TestOpenBindError(t *testing.T) {
	// Occupy a port so the server's bind fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	s := New(Config{Addr: ln.Addr().String(), Codec: "pcm"})
	err = s.Open(testFormat())
	if err == nil {
		t.Fatal("Open() expected bind error")
	}
	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Errorf("Open() error = %T, want *BindError", err)
	}
	if s.Stats().Open {
		t.Error("server reports open after failed Open()")
	}
}

func TestPlayNotOpen(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.Play(make([]byte, 64)); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Play() error = %v, want ErrNotOpen", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.Close()
	s.Close() // second close must be a no-op
	if s.Stats().Open {
		t.Error("server reports open after Close()")
	}

	// The instance is reusable across Open/Close cycles.
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("re-Open() failed: %v", err)
	}
}

func TestAddClientWhenClosed(t *testing.T) {
	s := newTestServer(t)
	server, peer := net.Pipe()
	defer peer.Close()

	if err := s.AddClient(server); !errors.Is(err, ErrNotOpen) {
		t.Errorf("AddClient() error = %v, want ErrNotOpen", err)
	}
}

func TestAcceptRejectedBeforeOpen(t *testing.T) {
	s := newTestServer(t)
	if err := s.Enable(); err != nil {
		t.Fatalf("Enable() failed: %v", err)
	}

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The server refuses connections while not open.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Error("expected the connection to be closed by the server")
	}
}

func TestAcceptedClientGetsGreeting(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ch := readGreeting(t, conn)
	if ch.Codec != "pcm" {
		t.Errorf("codec = %q, want %q", ch.Codec, "pcm")
	}
	waitFor(t, "client registration", func() bool { return s.HasClients() })
}

func TestHeaderPrecedence(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	peer := addPipeClient(t, s)

	// Play never blocks on client I/O: it only queues frames.
	chunk := bytes.Repeat([]byte{0x5A}, 3840)
	if n, err := s.Play(chunk); err != nil || n != len(chunk) {
		t.Fatalf("Play() = %d, %v", n, err)
	}

	// The codec header must arrive before any audio frame.
	ch := readGreeting(t, peer)
	if len(ch.Payload) != 44 {
		t.Errorf("codec header payload = %d bytes, want 44 (WAV header)", len(ch.Payload))
	}

	h, payload := readMessage(t, peer)
	if h.Type != snapcast.TypeWireChunk {
		t.Fatalf("message after greeting = type %d, want wire chunk", h.Type)
	}
	wc, err := snapcast.ParseWireChunk(payload)
	if err != nil {
		t.Fatalf("parse wire chunk: %v", err)
	}
	if len(wc.Payload) != 3840 {
		t.Errorf("chunk payload = %d bytes, want 3840", len(wc.Payload))
	}
	if wc.DurationMs != 20 {
		t.Errorf("chunk duration = %dms, want 20", wc.DurationMs)
	}
}

func TestMidStreamJoinGetsTimeSync(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// Stream 100ms before the client joins.
	if _, err := s.Play(make([]byte, 19200)); err != nil {
		t.Fatalf("Play() failed: %v", err)
	}

	peer := addPipeClient(t, s)
	readGreeting(t, peer)

	h, payload := readMessage(t, peer)
	if h.Type != snapcast.TypeTime {
		t.Fatalf("message after greeting = type %d, want time sync", h.Type)
	}
	pos, err := snapcast.ParseTime(payload)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	if pos.Duration() != 100*time.Millisecond {
		t.Errorf("sync position = %v, want 100ms", pos.Duration())
	}
}

func TestSessionIsolation(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	peerA := addPipeClient(t, s)
	peerB := addPipeClient(t, s)

	chunkC := bytes.Repeat([]byte{0xC0}, 3840)
	if _, err := s.Play(chunkC); err != nil {
		t.Fatalf("Play() failed: %v", err)
	}

	// Both clients see the same greeting followed by the same frame.
	var first [][]byte
	for _, peer := range []net.Conn{peerA, peerB} {
		ch := readGreeting(t, peer)
		h, payload := readMessage(t, peer)
		if h.Type != snapcast.TypeWireChunk {
			t.Fatalf("expected wire chunk, got type %d", h.Type)
		}
		first = append(first, append(ch.Payload, payload...))
	}
	if !bytes.Equal(first[0], first[1]) {
		t.Error("clients A and B received different header+frame bytes")
	}

	// Sever A. Subsequent Play calls must still reach B.
	peerA.Close()

	chunkD := bytes.Repeat([]byte{0xD0}, 3840)
	if _, err := s.Play(chunkD); err != nil {
		t.Fatalf("Play() after severing A failed: %v", err)
	}

	h, payload := readMessage(t, peerB)
	if h.Type != snapcast.TypeWireChunk {
		t.Fatalf("B: expected wire chunk, got type %d", h.Type)
	}
	wc, err := snapcast.ParseWireChunk(payload)
	if err != nil {
		t.Fatalf("B: parse wire chunk: %v", err)
	}
	if !bytes.Equal(wc.Payload, chunkD) {
		t.Error("B did not receive chunk D intact")
	}

	waitFor(t, "A's removal", func() bool { return s.ClientCount() == 1 })
}

// bufferingEncoder never emits from Encode, forcing the server's flush
// heuristic to fire. With flushEmpty set, Flush also emits nothing,
// modeling a codec that has no whole frame to produce yet.
type bufferingEncoder struct {
	format     audio.Format
	buffered   []byte
	flushes    int
	flushEmpty bool
	encodeErr  error
}

func (e *bufferingEncoder) Header() []byte {
	return []byte("stub")
}

func (e *bufferingEncoder) Encode(pcm []byte) ([]encode.Frame, error) {
	if e.encodeErr != nil {
		return nil, e.encodeErr
	}
	e.buffered = append(e.buffered, pcm...)
	return nil, nil
}

func (e *bufferingEncoder) Flush() ([]encode.Frame, error) {
	e.flushes++
	if e.flushEmpty || len(e.buffered) == 0 {
		return nil, nil
	}
	f := encode.Frame{
		Data:     append([]byte(nil), e.buffered...),
		Duration: e.format.BytesToDuration(len(e.buffered)),
	}
	e.buffered = nil
	return []encode.Frame{f}, nil
}

func (e *bufferingEncoder) Close() error { return nil }

func TestFlushHeuristic(t *testing.T) {
	format := testFormat()
	stub := &bufferingEncoder{format: format}

	s := New(Config{Addr: "127.0.0.1:0", Codec: "pcm", MaxBuffered: 100 * time.Millisecond})
	s.newEncoder = func(string, audio.Format) (encode.Encoder, error) { return stub, nil }
	defer func() {
		s.Close()
		s.Disable()
	}()
	if err := s.Open(format); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	peer := addPipeClient(t, s)
	readGreeting(t, peer)

	// Threshold is 100ms = 19200 bytes. Five 20ms chunks reach exactly
	// the threshold without exceeding it; the sixth pushes past and must
	// force a flush.
	chunk := make([]byte, 3840)
	for i := 0; i < 5; i++ {
		if _, err := s.Play(chunk); err != nil {
			t.Fatalf("Play() %d failed: %v", i, err)
		}
		if stub.flushes != 0 {
			t.Fatalf("flush fired after %d chunks, at or below threshold", i+1)
		}
	}

	if _, err := s.Play(chunk); err != nil {
		t.Fatalf("Play() past threshold failed: %v", err)
	}
	if stub.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", stub.flushes)
	}

	h, payload := readMessage(t, peer)
	if h.Type != snapcast.TypeWireChunk {
		t.Fatalf("expected wire chunk, got type %d", h.Type)
	}
	wc, err := snapcast.ParseWireChunk(payload)
	if err != nil {
		t.Fatalf("parse wire chunk: %v", err)
	}
	// The flush drains everything buffered: six chunks.
	if len(wc.Payload) != 6*len(chunk) {
		t.Errorf("flushed payload = %d bytes, want %d", len(wc.Payload), 6*len(chunk))
	}

	// Counter resets after the flush; the next chunk buffers again.
	if _, err := s.Play(chunk); err != nil {
		t.Fatalf("Play() after flush failed: %v", err)
	}
	if stub.flushes != 1 {
		t.Errorf("flushes = %d after sub-threshold chunk, want still 1", stub.flushes)
	}
}

func TestFlushCounterResetsOnEmptyFlush(t *testing.T) {
	format := testFormat()
	stub := &bufferingEncoder{format: format, flushEmpty: true}

	s := New(Config{Addr: "127.0.0.1:0", Codec: "pcm", MaxBuffered: 100 * time.Millisecond})
	s.newEncoder = func(string, audio.Format) (encode.Encoder, error) { return stub, nil }
	defer func() {
		s.Close()
		s.Disable()
	}()
	if err := s.Open(format); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// Cross the 100ms threshold so a flush is forced even though the
	// encoder has nothing to emit.
	chunk := make([]byte, 3840)
	for i := 0; i < 6; i++ {
		if _, err := s.Play(chunk); err != nil {
			t.Fatalf("Play() %d failed: %v", i, err)
		}
	}
	if stub.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", stub.flushes)
	}

	// The counter reset with the empty flush, so the next chunks must
	// buffer back past the threshold before another flush fires.
	for i := 0; i < 5; i++ {
		if _, err := s.Play(chunk); err != nil {
			t.Fatalf("Play() after empty flush failed: %v", err)
		}
		if stub.flushes != 1 {
			t.Fatalf("flush re-forced after %d sub-threshold chunks", i+1)
		}
	}

	if _, err := s.Play(chunk); err != nil {
		t.Fatalf("Play() past threshold failed: %v", err)
	}
	if stub.flushes != 2 {
		t.Errorf("flushes = %d, want 2 once the threshold is crossed again", stub.flushes)
	}
}

func TestEncoderErrorIsFatal(t *testing.T) {
	format := testFormat()
	stub := &bufferingEncoder{format: format, encodeErr: errors.New("bitstream corrupt")}

	s := New(Config{Addr: "127.0.0.1:0"})
	s.newEncoder = func(string, audio.Format) (encode.Encoder, error) { return stub, nil }
	defer func() {
		s.Close()
		s.Disable()
	}()
	if err := s.Open(format); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if _, err := s.Play(make([]byte, 3840)); err == nil {
		t.Error("Play() expected encoder error")
	}
}

func TestPauseAndCancel(t *testing.T) {
	s := newTestServer(t)

	if s.Pause() {
		t.Error("Pause() on closed output = true, want false")
	}

	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := s.Play(make([]byte, 19200)); err != nil {
		t.Fatalf("Play() failed: %v", err)
	}

	if !s.Pause() {
		t.Error("Pause() = false, want true while open")
	}
	if got := s.Delay(); got != pausePollInterval {
		t.Errorf("Delay() while paused = %v, want %v", got, pausePollInterval)
	}
	if !s.Stats().Paused {
		t.Error("Stats().Paused = false after Pause()")
	}

	// Play resumes delivery.
	if _, err := s.Play(make([]byte, 3840)); err != nil {
		t.Fatalf("Play() after Pause() failed: %v", err)
	}
	if s.Stats().Paused {
		t.Error("still paused after Play()")
	}

	// Cancel rewinds the stream position without dropping clients.
	peer := addPipeClient(t, s)
	readGreeting(t, peer)

	s.Cancel()
	if got := s.Stats().Position; got != 0 {
		t.Errorf("Position after Cancel() = %v, want 0", got)
	}
	if !s.HasClients() {
		t.Error("Cancel() dropped clients")
	}
}

func TestDelayPacing(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// Pin the timer clock.
	clk := &fakeClock{now: time.Unix(2000, 0)}
	s.mu.Lock()
	s.timer.now = clk.Now
	s.timer.Reset()
	s.mu.Unlock()

	// 100ms of audio, 40ms of wallclock: 60ms lead.
	if _, err := s.Play(make([]byte, 19200)); err != nil {
		t.Fatalf("Play() failed: %v", err)
	}
	clk.Advance(40 * time.Millisecond)
	if got := s.Delay(); got != 60*time.Millisecond {
		t.Errorf("Delay() = %v, want 60ms", got)
	}

	// Far behind: clamped to zero.
	clk.Advance(time.Second)
	if got := s.Delay(); got != 0 {
		t.Errorf("Delay() = %v, want 0", got)
	}
}

func TestTimeRequestEchoed(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	peer := addPipeClient(t, s)
	readGreeting(t, peer)

	latency := snapcast.TimeVal{Sec: 0, Usec: 1500}
	req := snapcast.EncodeTime(7, 0, snapcast.TimeVal{}, latency)
	if _, err := peer.Write(req); err != nil {
		t.Fatalf("write time request: %v", err)
	}

	h, payload := readMessage(t, peer)
	if h.Type != snapcast.TypeTime {
		t.Fatalf("reply type = %d, want time", h.Type)
	}
	if h.RefersTo != 7 {
		t.Errorf("reply RefersTo = %d, want 7", h.RefersTo)
	}
	echoed, err := snapcast.ParseTime(payload)
	if err != nil {
		t.Fatalf("parse time reply: %v", err)
	}
	if echoed != latency {
		t.Errorf("echoed latency = %+v, want %+v", echoed, latency)
	}
}

func TestHelloIdentifiesClient(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	peer := addPipeClient(t, s)
	readGreeting(t, peer)

	hello, err := snapcast.EncodeHello(1, snapcast.TimeVal{}, snapcast.Hello{ID: "aa:bb", Name: "kitchen"})
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}
	if _, err := peer.Write(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	waitFor(t, "hello to be applied", func() bool {
		clients := s.Clients()
		return len(clients) == 1 && clients[0].Name == "kitchen"
	})
}

func TestCloseDropsClients(t *testing.T) {
	s := newTestServer(t)
	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	peer := addPipeClient(t, s)
	readGreeting(t, peer)

	s.Close()
	if s.HasClients() {
		t.Error("clients survived Close()")
	}

	// The peer observes the disconnect.
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := peer.Read(make([]byte, 1)); err == nil {
		t.Error("expected peer read to fail after Close()")
	}
}

func TestCodecHeaderAccessor(t *testing.T) {
	s := newTestServer(t)

	if got := s.CodecHeader(); got != nil {
		t.Errorf("CodecHeader() = %d bytes before Open, want nil", len(got))
	}

	if err := s.Open(testFormat()); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	header := s.CodecHeader()
	if len(header) != 44 {
		t.Fatalf("CodecHeader() = %d bytes, want 44 (WAV header)", len(header))
	}
	if string(header[:4]) != "RIFF" {
		t.Errorf("header starts with %q, want RIFF", header[:4])
	}

	s.Close()
	if got := s.CodecHeader(); got != nil {
		t.Errorf("CodecHeader() = %d bytes after Close, want nil", len(got))
	}
}

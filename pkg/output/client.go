// ABOUTME: Client session: per-connection queue, writer, and reader
// ABOUTME: TCP transport framing for the wire protocol

package output

import (
	"bufio"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/snapstream/snapstream-go/pkg/snapcast"
)

// frameConn abstracts the transport below a client session: a framed
// write path plus a framed read path for the little inbound traffic the
// protocol has (hello, time requests).
type frameConn interface {
	// WriteFrame writes one complete wire message.
	WriteFrame(p []byte) error

	// ReadMessage reads the next complete wire message.
	ReadMessage() (*snapcast.BaseHeader, []byte, error)

	Close() error
}

// Client is one connected stream listener. It is owned by the Server's
// client list; removal from that list is the sole destruction trigger.
//
// Frames are appended to an unbounded queue and drained by a dedicated
// writer goroutine, so a slow client never blocks the broadcast path. A
// failed write or read marks the session dead and hands it back to the
// server for removal.
type Client struct {
	id     string
	remote string
	conn   frameConn
	onDead func(*Client)

	mu          sync.Mutex
	name        string
	queue       [][]byte
	queuedBytes int
	lastActive  time.Time
	msgID       uint16

	closed    bool
	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// ClientInfo is a snapshot of one session's state.
type ClientInfo struct {
	ID          string
	Name        string
	RemoteAddr  string
	QueuedBytes int
	LastActive  time.Time
}

func newClient(conn frameConn, remote string, onDead func(*Client)) *Client {
	return &Client{
		id:         uuid.New().String(),
		remote:     remote,
		conn:       conn,
		onDead:     onDead,
		lastActive: time.Now(),
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// start launches the session's writer and reader goroutines.
func (c *Client) start() {
	go c.writeLoop()
	go c.readLoop()
}

// ID returns the session's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// Info returns a snapshot of the session.
func (c *Client) Info() ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{
		ID:          c.id,
		Name:        c.name,
		RemoteAddr:  c.remote,
		QueuedBytes: c.queuedBytes,
		LastActive:  c.lastActive,
	}
}

// enqueue appends one wire message to the outbound queue and wakes the
// writer. It never blocks; a session that is already closed drops the
// message.
func (c *Client) enqueue(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, frame)
	c.queuedBytes += len(frame)
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// close releases the connection. Safe to call from any goroutine, any
// number of times.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		if err := c.conn.Close(); err != nil {
			log.Printf("client %s: close: %v", c.remote, err)
		}
	})
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.kick:
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			frame := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if err := c.conn.WriteFrame(frame); err != nil {
				if !c.isClosed() {
					log.Printf("client %s: write failed: %v", c.remote, err)
					c.onDead(c)
				}
				return
			}

			c.mu.Lock()
			c.queuedBytes -= len(frame)
			c.lastActive = time.Now()
			c.mu.Unlock()
		}
	}
}

// readLoop consumes the client's inbound messages: hello identifies the
// client, time requests get echoed back for RTT measurement, everything
// else is ignored.
func (c *Client) readLoop() {
	for {
		h, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Printf("client %s: read failed: %v", c.remote, err)
				c.onDead(c)
			}
			return
		}

		c.mu.Lock()
		c.lastActive = time.Now()
		c.mu.Unlock()

		switch h.Type {
		case snapcast.TypeHello:
			hello, err := snapcast.ParseHello(payload)
			if err != nil {
				log.Printf("client %s: bad hello: %v", c.remote, err)
				continue
			}
			c.mu.Lock()
			c.name = hello.Name
			c.mu.Unlock()
			log.Printf("client %s: hello from %q (%s/%s)", c.remote, hello.Name, hello.OS, hello.Arch)

		case snapcast.TypeTime:
			latency, err := snapcast.ParseTime(payload)
			if err != nil {
				log.Printf("client %s: bad time request: %v", c.remote, err)
				continue
			}
			c.enqueue(snapcast.EncodeTime(c.nextID(), h.ID, snapcast.TimeVal{}, latency))

		default:
			// No other inbound application data is part of the protocol.
		}
	}
}

func (c *Client) nextID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgID++
	return c.msgID
}

// tcpConn frames the wire protocol over a raw TCP connection.
type tcpConn struct {
	c net.Conn
	r *bufio.Reader
}

func newTCPConn(c net.Conn) *tcpConn {
	return &tcpConn{c: c, r: bufio.NewReader(c)}
}

func (t *tcpConn) WriteFrame(p []byte) error {
	_, err := t.c.Write(p)
	return err
}

func (t *tcpConn) ReadMessage() (*snapcast.BaseHeader, []byte, error) {
	hdr := make([]byte, snapcast.HeaderSize)
	if _, err := io.ReadFull(t.r, hdr); err != nil {
		return nil, nil, err
	}
	h, err := snapcast.ParseHeader(hdr)
	if err != nil {
		return nil, nil, err
	}
	payload := make([]byte, h.Size)
	if _, err := io.ReadFull(t.r, payload); err != nil {
		return nil, nil, err
	}
	return h, payload, nil
}

func (t *tcpConn) Close() error {
	return t.c.Close()
}

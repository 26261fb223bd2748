// ABOUTME: Application wiring for the snapstream server
// ABOUTME: Drives the source into the output and runs HTTP, mDNS, and TUI plumbing

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/snapstream/snapstream-go/internal/config"
	"github.com/snapstream/snapstream-go/internal/discovery"
	"github.com/snapstream/snapstream-go/internal/source"
	"github.com/snapstream/snapstream-go/internal/ui"
	"github.com/snapstream/snapstream-go/pkg/output"
)

// chunkDuration is how much PCM each Play call carries.
const chunkDuration = 20 * time.Millisecond

// statusInterval is how often the TUI receives a fresh snapshot.
const statusInterval = 500 * time.Millisecond

// App owns the running server: one source, one output, and the
// supporting surfaces around them.
type App struct {
	cfg *config.Config
	src source.Source
	out *output.Server

	advertiser *discovery.Advertiser
	httpServer *http.Server
	httpAddr   net.Addr

	control *ui.Control
	program *tea.Program

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires an application from configuration and a source.
func New(cfg *config.Config, src source.Source) *App {
	out := output.New(output.Config{
		Addr:        cfg.Server.Addr,
		Codec:       cfg.Stream.Codec,
		BufferMs:    cfg.Stream.BufferMs,
		Latency:     cfg.Stream.LatencyMs,
		MaxBuffered: cfg.Stream.MaxBuffered(),
	})

	return &App{
		cfg:      cfg,
		src:      src,
		out:      out,
		stopChan: make(chan struct{}),
	}
}

// Output exposes the output server, for status inspection.
func (a *App) Output() *output.Server {
	return a.out
}

// AttachTUI hands the app the control channels and program of a status
// TUI. Must be called before Start.
func (a *App) AttachTUI(control *ui.Control, program *tea.Program) {
	a.control = control
	a.program = program
}

// Start opens the stream and blocks until Stop. The source's format
// decides the stream format.
func (a *App) Start() error {
	format := a.src.Format()
	if err := a.out.Open(format); err != nil {
		return fmt.Errorf("open output: %w", err)
	}

	if a.cfg.Server.HTTPEnabled {
		if err := a.startHTTP(); err != nil {
			a.out.Close()
			return err
		}
	}

	if a.cfg.Discovery.Enabled {
		a.startDiscovery()
	}

	if a.program != nil {
		a.wg.Add(1)
		go a.statusLoop()
	}

	title, artist := a.src.Metadata()
	log.Printf("streaming %q by %q: %s codec=%s", title, artist, format, a.cfg.Stream.Codec)

	a.streamLoop()

	a.wg.Wait()
	return nil
}

// Stop shuts everything down. Safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
}

// streamLoop reads PCM chunks from the source and feeds the output,
// sleeping by the output's own pacing between chunks.
func (a *App) streamLoop() {
	defer func() {
		a.out.Close()
		a.out.Disable()
		if a.advertiser != nil {
			a.advertiser.Stop()
		}
		if a.httpServer != nil {
			a.httpServer.Close()
		}
		if err := a.src.Close(); err != nil {
			log.Printf("close source: %v", err)
		}
	}()

	format := a.src.Format()
	buf := make([]byte, format.DurationToBytes(chunkDuration))
	paused := false

	for {
		select {
		case <-a.stopChan:
			return
		default:
		}

		if a.control != nil {
			select {
			case <-a.control.Quit:
				a.Stop()
				continue
			case <-a.control.PauseToggle:
				if paused {
					paused = false
					log.Printf("resumed")
				} else if a.out.Pause() {
					paused = true
					log.Printf("paused")
				}
			default:
			}
		}

		if paused {
			a.sleep(a.out.Delay())
			continue
		}

		n, err := a.src.Read(buf)
		if err == io.EOF {
			log.Printf("source finished")
			return
		}
		if err != nil {
			log.Printf("read source: %v", err)
			return
		}

		if _, err := a.out.Play(buf[:n]); err != nil {
			log.Printf("play: %v", err)
			return
		}

		a.sleep(a.out.Delay())
	}
}

// sleep waits for d but wakes early on Stop.
func (a *App) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-a.stopChan:
	case <-time.After(d):
	}
}

// statusLoop pushes periodic snapshots into the TUI.
func (a *App) statusLoop() {
	defer a.wg.Done()

	title, artist := a.src.Metadata()
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopChan:
			a.program.Quit()
			return
		case <-ticker.C:
			a.program.Send(ui.StatusMsg{
				Stats:   a.out.Stats(),
				Clients: a.out.Clients(),
				Title:   title,
				Artist:  artist,
			})
		}
	}
}

// startHTTP serves the WebSocket stream endpoint and a JSON status page.
func (a *App) startHTTP() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", a.out.HandleWebSocket)
	mux.HandleFunc("/status", a.handleStatus)

	ln, err := net.Listen("tcp", a.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("bind http %s: %w", a.cfg.Server.HTTPAddr, err)
	}

	a.httpServer = &http.Server{Handler: mux}
	a.httpAddr = ln.Addr()
	log.Printf("http listening on %s", ln.Addr())

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("http server: %v", err)
		}
	}()
	return nil
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := a.out.Stats()

	type clientStatus struct {
		ID          string `json:"id"`
		Name        string `json:"name,omitempty"`
		RemoteAddr  string `json:"remote_addr"`
		QueuedBytes int    `json:"queued_bytes"`
	}
	clients := []clientStatus{}
	for _, c := range a.out.Clients() {
		clients = append(clients, clientStatus{
			ID:          c.ID,
			Name:        c.Name,
			RemoteAddr:  c.RemoteAddr,
			QueuedBytes: c.QueuedBytes,
		})
	}

	state := "closed"
	switch {
	case stats.Open && stats.Paused:
		state = "paused"
	case stats.Open:
		state = "streaming"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"state":       state,
		"codec":       stats.Codec,
		"sample_rate": stats.Format.SampleRate,
		"channels":    stats.Format.Channels,
		"bit_depth":   stats.Format.BitDepth,
		"position_ms": stats.Position.Milliseconds(),
		"clients":     clients,
	})
}

// startDiscovery advertises the TCP stream port over mDNS.
func (a *App) startDiscovery() {
	port := 0
	if addr, ok := a.out.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	} else if _, p, err := net.SplitHostPort(a.cfg.Server.Addr); err == nil {
		port, _ = strconv.Atoi(p)
	}
	if port == 0 {
		log.Printf("discovery: cannot determine stream port, not advertising")
		return
	}

	a.advertiser = discovery.NewAdvertiser(discovery.Config{
		Name: a.cfg.Discovery.Name,
		Port: port,
	})
	if err := a.advertiser.Start(); err != nil {
		log.Printf("discovery: %v", err)
		a.advertiser = nil
	}
}

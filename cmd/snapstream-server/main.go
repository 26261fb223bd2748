// ABOUTME: Entry point for the snapstream server
// ABOUTME: Parses CLI flags, loads configuration, and runs the application

package main

import (
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/snapstream/snapstream-go/internal/app"
	"github.com/snapstream/snapstream-go/internal/config"
	"github.com/snapstream/snapstream-go/internal/source"
	"github.com/snapstream/snapstream-go/internal/ui"
	"github.com/snapstream/snapstream-go/internal/version"
)

var (
	configPath = flag.String("config", "", "YAML configuration file (defaults apply if omitted)")
	addr       = flag.String("addr", "", "TCP stream listen address (overrides config)")
	codec      = flag.String("codec", "", "Stream codec: pcm, opus, or flac (overrides config)")
	audioFile  = flag.String("audio", "", "MP3 file to stream; test tone if omitted")
	logFile    = flag.String("log-file", "", "Also write logs to this file")
	noTUI      = flag.Bool("no-tui", false, "Disable the status TUI, log to the terminal instead")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	// Flags override the file.
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *codec != "" {
		cfg.Stream.Codec = *codec
	}
	if *audioFile != "" {
		cfg.Source.Type = "mp3"
		cfg.Source.Path = *audioFile
	}
	if *logFile != "" {
		cfg.Logging.File = *logFile
	}
	if *noMDNS {
		cfg.Discovery.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	useTUI := !*noTUI

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer f.Close()
		if useTUI {
			// The TUI owns the terminal, so logs go to the file only.
			log.SetOutput(f)
		} else {
			log.SetOutput(io.MultiWriter(os.Stderr, f))
		}
	} else if useTUI {
		log.SetOutput(io.Discard)
	}

	log.Printf("starting %s %s", version.Product, version.Version)

	src, err := source.New(source.Config{
		Type:      cfg.Source.Type,
		Path:      cfg.Source.Path,
		Frequency: cfg.Source.Frequency,
	}, cfg.Stream.Format())
	if err != nil {
		log.Fatalf("source: %v", err)
	}

	a := app.New(cfg, src)

	var program *tea.Program
	if useTUI {
		control := ui.NewControl()
		p := ui.NewProgram(control)
		a.AttachTUI(control, p)
		go func() {
			if _, err := p.Run(); err != nil {
				log.Printf("tui: %v", err)
			}
			a.Stop()
		}()
		program = p
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("received %v, shutting down", sig)
		a.Stop()
	}()

	if err := a.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	if program != nil {
		program.Wait()
	}

	log.Printf("server stopped")
}

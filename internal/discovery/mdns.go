// ABOUTME: mDNS advertisement for the stream server
// ABOUTME: Announces the TCP stream port as _snapcast._tcp on the local network

package discovery

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/hashicorp/mdns"
)

const serviceType = "_snapcast._tcp"

// Config holds advertisement settings.
type Config struct {
	// Name is the instance name shown to browsers.
	Name string

	// Port is the TCP stream port being advertised.
	Port int
}

// Advertiser announces the server via mDNS until stopped.
type Advertiser struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAdvertiser creates an advertiser. Call Start to begin announcing.
func NewAdvertiser(config Config) *Advertiser {
	ctx, cancel := context.WithCancel(context.Background())
	return &Advertiser{
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the mDNS service and keeps it alive until Stop.
func (a *Advertiser) Start() error {
	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		a.config.Name,
		serviceType,
		"",
		"",
		a.config.Port,
		ips,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising %s as %q on port %d", serviceType, a.config.Name, a.config.Port)

	go func() {
		<-a.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.cancel()
}

// localIPs returns the non-loopback IPv4 addresses of up interfaces.
func localIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}

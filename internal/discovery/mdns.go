// ABOUTME: Optional mDNS advertisement of a running instance
// ABOUTME: Publishes the configured service while the server is up
package discovery

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/hashicorp/mdns"
)

// Advertiser announces one instance over mDNS until stopped.
type Advertiser struct {
	server *mdns.Server
	log    *slog.Logger
}

// Advertise starts announcing the instance under the configured
// service type, e.g. "_exocaster._tcp".
func Advertise(service string, port int, instanceID string,
	log *slog.Logger) (*Advertiser, error) {
	ips, err := localIPs()
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	svc, err := mdns.NewMDNSService(instanceID, service, "", "", port, ips,
		[]string{"instance=" + instanceID})
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	log.Info("advertising instance", "service", service, "port", port)
	return &Advertiser{server: server, log: log}, nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	if err := a.server.Shutdown(); err != nil {
		a.log.Warn("mdns shutdown failed", "error", err)
	}
}

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
	if len(ips) == 0 {
		return nil, fmt.Errorf("no usable network interfaces")
	}
	return ips, nil
}

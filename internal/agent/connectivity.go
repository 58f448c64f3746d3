package agent

import (
	"net"
	"net/url"
	"time"
)

const probeTimeout = 2 * time.Second

// Probe answers "is the network usable right now" with a TCP dial against
// the server. Cheap enough to run before every sync pass; a false positive
// just costs one failed request that retries next pass.
type Probe struct {
	address string
	timeout time.Duration
}

// NewProbe builds a probe for the server URL's host.
func NewProbe(serverURL string) (*Probe, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	host := parsed.Host
	if parsed.Port() == "" {
		port := "443"
		if parsed.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(parsed.Hostname(), port)
	}
	return &Probe{address: host, timeout: probeTimeout}, nil
}

// Online reports whether the server host accepts a TCP connection.
func (probe *Probe) Online() bool {
	connection, err := net.DialTimeout("tcp", probe.address, probe.timeout)
	if err != nil {
		return false
	}
	_ = connection.Close()
	return true
}

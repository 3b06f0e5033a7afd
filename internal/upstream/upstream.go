// Package upstream establishes the proxy's connection to the origin Redis
// server, plain or TLS, one socket per client session. Modeled on redkit's
// plain/TLS branch in Server.Listen, mirrored for the dial side.
package upstream

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/gravitational/trace"
)

// Connector produces a connection to the origin Redis for each new client
// session.
type Connector struct {
	// Address is the origin's host:port.
	Address string
	// TLS enables a TLS handshake with the system trust store and SNI
	// derived from Address's host. No client certificate.
	TLS bool
}

// NewConnector returns a Connector for address, dialing plain TCP or TLS
// depending on tlsEnabled.
func NewConnector(address string, tlsEnabled bool) *Connector {
	return &Connector{Address: address, TLS: tlsEnabled}
}

// Connect dials the origin, returning a connection ready for bidirectional
// pumping. Failure is terminal for the calling session.
func (c *Connector) Connect(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{}

	if !c.TLS {
		conn, err := dialer.DialContext(ctx, "tcp", c.Address)
		if err != nil {
			return nil, trace.ConnectionProblem(err, "failed to connect to origin %s", c.Address)
		}
		return conn, nil
	}

	host, _, err := net.SplitHostPort(c.Address)
	if err != nil {
		host = c.Address
	}

	tlsDialer := &tls.Dialer{
		NetDialer: dialer,
		Config: &tls.Config{
			ServerName: host,
		},
	}
	conn, err := tlsDialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed TLS handshake with origin %s", c.Address)
	}
	return conn, nil
}

package federation

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/quic-go/quic-go"

	"rabbitwarren/frame"
)

// gossipALPN is the ALPN protocol identifier negotiated by the gossip
// transport, keeping it distinct from any tunnel-carrying QUIC endpoint a
// deployment might also run.
const gossipALPN = "rabbit-gossip"

// GossipListener accepts incoming federation gossip connections over QUIC.
// Each accepted stream yields a single frame, matching the request/reply
// shape of FED-ADVERTISE and FED-GOSSIP frames.
type GossipListener struct {
	ln *quic.Listener
}

// ListenGossip starts a QUIC listener on addr for federation gossip.
// tlsConf must present a certificate; tunnel-level TLS session
// establishment is out of scope here (spec.md Non-goals), but the gossip
// transport still needs its own QUIC handshake certificate.
func ListenGossip(addr string, tlsConf *tls.Config) (*GossipListener, error) {
	conf := tlsConf.Clone()
	conf.NextProtos = []string{gossipALPN}
	ln, err := quic.ListenAddr(addr, conf, nil)
	if err != nil {
		return nil, fmt.Errorf("federation: listen gossip: %w", err)
	}
	return &GossipListener{ln: ln}, nil
}

// Accept blocks for the next incoming gossip frame and returns it along
// with a reply function the caller can use to respond on the same stream.
func (g *GossipListener) Accept(ctx context.Context) (*frame.Frame, func(*frame.Frame) error, error) {
	conn, err := g.ln.Accept(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("federation: accept connection: %w", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("federation: accept stream: %w", err)
	}
	fr, err := frame.NewReader(stream).ReadFrame()
	if err != nil {
		return nil, nil, fmt.Errorf("federation: read gossip frame: %w", err)
	}
	reply := func(out *frame.Frame) error {
		_, err := stream.Write(out.Bytes())
		return err
	}
	return fr, reply, nil
}

// Close shuts down the listener.
func (g *GossipListener) Close() error {
	return g.ln.Close()
}

// DialGossip opens a QUIC connection to addr, sends f on a new stream, and
// returns the peer's reply frame.
func DialGossip(ctx context.Context, addr string, tlsConf *tls.Config, f *frame.Frame) (*frame.Frame, error) {
	conf := tlsConf.Clone()
	conf.NextProtos = []string{gossipALPN}
	conn, err := quic.DialAddr(ctx, addr, conf, nil)
	if err != nil {
		return nil, fmt.Errorf("federation: dial gossip: %w", err)
	}
	defer conn.CloseWithError(0, "gossip complete")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("federation: open stream: %w", err)
	}
	if _, err := stream.Write(f.Bytes()); err != nil {
		return nil, fmt.Errorf("federation: send gossip frame: %w", err)
	}
	if err := stream.Close(); err != nil {
		return nil, fmt.Errorf("federation: close write side: %w", err)
	}
	reply, err := frame.NewReader(stream).ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("federation: read gossip reply: %w", err)
	}
	return reply, nil
}

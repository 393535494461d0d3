package main

import (
	"context"
	"net"

	"go.uber.org/zap"

	"rabbitwarren/auth"
	"rabbitwarren/capability"
	"rabbitwarren/config"
	"rabbitwarren/continuity"
	"rabbitwarren/delegation"
	"rabbitwarren/discovery"
	"rabbitwarren/federation"
	"rabbitwarren/frame"
	"rabbitwarren/listener"
	"rabbitwarren/router"
	"rabbitwarren/tunnel"
)

// burrowServer holds the shared state every accepted or dialed tunnel on
// this burrow is wired against.
type burrowServer struct {
	authn    *auth.Authenticator
	deleg    *delegation.Manager
	cont     *continuity.Engine
	fed      *federation.Manager
	router   *router.WarrenRouter
	dialer   *listener.DialManager
	log      *zap.Logger
	settings *config.Settings
}

// acceptLoop accepts inbound connections on ln until ctx is cancelled,
// spawning one tunnel per connection.
func (b *burrowServer) acceptLoop(ctx context.Context, ln *listener.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				b.log.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		go b.serve(ctx, conn, false)
	}
}

// dialPeer maintains an outbound tunnel to a statically configured peer,
// using the warm dial pool. As the initiator, it originates the HELLO
// handshake (spec.md §4.5) before the tunnel starts its dispatch loop.
func (b *burrowServer) dialPeer(ctx context.Context, addr string) {
	conn, err := b.dialer.Dial(addr)
	if err != nil {
		b.log.Warn("failed to dial peer", zap.String("peer", addr), zap.Error(err))
		return
	}
	b.router.RegisterPeer(router.PeerInfo{BurrowID: addr, Address: addr})
	b.serve(ctx, conn, true)
}

// serve runs a tunnel to completion over conn. When initiator is true
// this burrow originated the connection and must send the first HELLO
// before the tunnel's read/write loops start; an acceptor instead waits
// for the peer's HELLO, handled by Tunnel.dispatch's step 2.
func (b *burrowServer) serve(ctx context.Context, conn net.Conn, initiator bool) {
	defer conn.Close()
	t := tunnel.New(conn, b.authn, b.deleg, b.cont, b.handle, b.log)
	if initiator {
		if err := t.Handshake(); err != nil {
			b.log.Warn("handshake failed", zap.Error(err))
			return
		}
	}
	if err := t.Run(ctx); err != nil {
		b.log.Debug("tunnel closed", zap.Error(err))
	}
}

// handle applies capability enforcement for application-level verbs once
// a tunnel's dispatch has already cleared auth, delegation, lane and
// continuity handling (spec.md §4.10 step 8).
func (b *burrowServer) handle(t *tunnel.Tunnel, f *frame.Frame) error {
	switch f.Verb {
	case "FETCH":
		return b.guarded(t, f, capability.Fetch)
	case "LIST":
		return b.guarded(t, f, capability.List)
	case "PUBLISH":
		return b.guarded(t, f, capability.Publish)
	case "SUBSCRIBE":
		return b.guarded(t, f, capability.Subscribe)
	case "FED-ADVERTISE":
		if err := b.fed.HandleAdvertisement(f); err != nil {
			return b.reply(t, "422", err.Error())
		}
		return b.reply(t, "200", "FED-ACK")
	case "FED-GOSSIP":
		b.fed.HandleGossip(string(f.Body))
		return b.reply(t, "200", "FED-ACK")
	case "MENU":
		return b.sendMenu(t, f)
	default:
		return b.reply(t, "404", "unknown verb")
	}
}

func (b *burrowServer) guarded(t *tunnel.Tunnel, f *frame.Frame, cap capability.Capability) error {
	if err := b.deleg.Require(f, cap); err != nil {
		return b.reply(t, "403", "forbidden")
	}
	return b.reply(t, "200", "ok")
}

func (b *burrowServer) sendMenu(t *tunnel.Tunnel, f *frame.Frame) error {
	selector, _ := f.Header("Selector")
	var out *frame.Frame
	switch selector {
	case "/t/anchor":
		out = discovery.ListAnchorsMenu(b.fed)
	default:
		out = discovery.ListPeersMenu(b.router)
	}
	return t.SendOnLane(0, out)
}

func (b *burrowServer) reply(t *tunnel.Tunnel, status, body string) error {
	reply := frame.New(status)
	reply.SetBody([]byte(body + "\r\n"))
	return t.SendOnLane(0, reply)
}

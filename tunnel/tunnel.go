// Package tunnel assembles the per-connection dispatch loop: frame
// reader, lane manager, reliability, authentication and delegation,
// wired together as described in spec.md §4.10.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"rabbitwarren/auth"
	"rabbitwarren/continuity"
	"rabbitwarren/delegation"
	"rabbitwarren/frame"
	"rabbitwarren/lane"
	"rabbitwarren/reliability"
)

// ErrClosed is returned by SendOnLane once the tunnel's outbound channel
// has been closed.
var ErrClosed = errors.New("tunnel: closed")

// Handler delivers frames that survive dispatch (steps 2-8 of §4.10) to
// the application. It is never called for malformed frames.
type Handler func(t *Tunnel, f *frame.Frame) error

// outboundQueueSize bounds the writer's backlog before SendOnLane blocks;
// matches the teacher's preference for a bounded channel over an
// unbounded slice.
const outboundQueueSize = 256

// Tunnel owns one connection's worth of protocol state: reader, writer,
// lane accounting, reliability tracking and the security stack. TLS
// session establishment and the underlying net.Conn/listener plumbing are
// out of scope here (spec.md Non-goals); Tunnel is handed an already
// secured io.ReadWriteCloser.
type Tunnel struct {
	conn io.ReadWriteCloser

	reader *frame.Reader
	out    chan []byte

	lanes      *lane.Manager
	rel        *reliability.Manager
	authn      *auth.Authenticator
	deleg      *delegation.Manager
	continuity *continuity.Engine
	handler    Handler
	log        *zap.Logger

	// sessionToken is the Session-Token this side presents on its own
	// outbound frames once it has completed the initiator side of the
	// handshake (Handshake). It is written once, before Run starts the
	// concurrent read/write loops, and only read afterwards, so no lock
	// guards it.
	sessionToken string

	closeOnce sync.Once
	closed    chan struct{}
}

// New wires a Tunnel around conn. Identity/Trust/Capabilities/Continuity
// are expected to be shared, process-wide instances passed in by the
// caller; LaneManager and Reliability are created fresh per tunnel. The
// returned Tunnel is not yet running; call Run to start its
// reader/writer/reliability tasks.
func New(conn io.ReadWriteCloser, authn *auth.Authenticator, deleg *delegation.Manager, cont *continuity.Engine, handler Handler, log *zap.Logger) *Tunnel {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tunnel{
		conn:       conn,
		reader:     frame.NewReader(conn),
		out:        make(chan []byte, outboundQueueSize),
		lanes:      lane.NewManager(),
		authn:      authn,
		deleg:      deleg,
		continuity: cont,
		handler:    handler,
		log:        log,
		closed:     make(chan struct{}),
	}
	t.rel = reliability.New(outboundSink{t}, reliability.DefaultResendInterval, reliability.DefaultMaxRetries, log)
	return t
}

// Handshake performs the initiator side of the HELLO exchange (spec.md
// §4.5) synchronously: it writes a HELLO frame directly to the
// connection and blocks for the 200 HELLO reply. It must be called
// before Run, since it reads from the same frame reader Run's read loop
// later takes over. The Session-Token the peer issues is remembered and
// stamped onto this tunnel's own outbound frames by SendOnLane.
func (t *Tunnel) Handshake() error {
	hello := t.authn.BeginHandshake()
	if _, err := t.conn.Write(hello.Bytes()); err != nil {
		return fmt.Errorf("tunnel: handshake write: %w", err)
	}
	reply, err := t.reader.ReadFrame()
	if err != nil {
		return fmt.Errorf("tunnel: handshake reply: %w", err)
	}
	if reply.VerbLine() != "200 HELLO" {
		return fmt.Errorf("tunnel: handshake rejected: %s", reply.VerbLine())
	}
	if token, ok := reply.Header("Session-Token"); ok {
		t.sessionToken = token
	}
	return nil
}

// outboundSink adapts Tunnel to reliability.Outbound without exposing the
// raw channel send on Tunnel's public surface.
type outboundSink struct{ t *Tunnel }

func (s outboundSink) Send(data []byte) {
	select {
	case s.t.out <- data:
	case <-s.t.closed:
	}
}

// Run starts the writer and reliability tasks and then blocks reading and
// dispatching inbound frames until the connection closes or ctx is
// cancelled. It returns the terminal read error (io.EOF on a clean peer
// close).
func (t *Tunnel) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t.writeLoop(runCtx)
	}()
	go func() {
		defer wg.Done()
		t.rel.Run(runCtx)
	}()

	err := t.readLoop(runCtx)
	t.closeOnce.Do(func() { close(t.closed) })
	cancel()
	wg.Wait()
	return err
}

// writeLoop drains the outbound channel to the connection in FIFO order.
func (t *Tunnel) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-t.out:
			if !ok {
				return
			}
			if _, err := t.conn.Write(data); err != nil {
				t.log.Warn("tunnel: write failed", zap.Error(err))
				return
			}
		}
	}
}

// readLoop implements the per-inbound-frame dispatch order of spec.md
// §4.10 steps 1-8.
func (t *Tunnel) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, err := t.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, frame.ErrMalformedFrame) {
				t.log.Warn("tunnel: malformed frame, closing")
			}
			return err
		}
		if err := t.dispatch(f); err != nil {
			t.log.Debug("tunnel: dispatch error", zap.Error(err))
		}
	}
}

// dispatch implements steps 2-8; step 1 (parse, malformed handling) is the
// caller's responsibility in readLoop.
func (t *Tunnel) dispatch(f *frame.Frame) error {
	verbLine := f.VerbLine()

	// Step 2: handshake.
	if f.Verb == "HELLO" || verbLine == "200 HELLO" {
		reply, err := t.authn.ProcessHello(f)
		if err != nil {
			return fmt.Errorf("tunnel: handshake: %w", err)
		}
		t.send(reply)
		return nil
	}

	// Step 3: ACK/CREDIT bypass auth.
	switch f.Verb {
	case "ACK":
		return t.handleAck(f)
	case "CREDIT":
		return t.handleCredit(f)
	}

	// Step 4: require auth for everything else.
	if err := t.authn.RequireAuth(f); err != nil {
		resp := frame.New("401")
		resp.SetBody([]byte("unauthorised\r\n"))
		t.send(resp)
		return nil
	}

	// Step 5: delegation.
	if f.Verb == "DELEGATE" {
		reply, err := t.deleg.HandleDelegate(f)
		if err != nil {
			return t.sendFieldError(err)
		}
		t.send(reply)
		return nil
	}

	// Step 6: lane sequencing, ack emission, and credit replenishment.
	if laneStr, ok := f.Header("Lane"); ok {
		laneID, seq, ok := parseLaneSeq(laneStr, f)
		if ok {
			deliver := t.lanes.ObserveInboundSeq(laneID, seq)
			if !deliver {
				return nil // duplicate: drop
			}
			ack := frame.New("ACK")
			ack.SetHeader("Lane", laneStr)
			ack.SetHeader("Seq", strconv.FormatUint(seq, 10))
			t.send(ack)
			t.sendCredit(laneID, 1)
		}
	}

	// Step 7: continuity append.
	if f.Verb == "EVENT" {
		if selector, ok := f.Header("Selector"); ok {
			laneID := uint16(0)
			seq := uint64(0)
			if laneStr, ok := f.Header("Lane"); ok {
				laneID, seq, _ = parseLaneSeq(laneStr, f)
			}
			if err := t.continuity.Append(selector, laneID, seq, string(f.Body)); err != nil {
				t.log.Warn("tunnel: continuity append failed", zap.Error(err))
			}
		}
	}

	// Step 8: application delivery.
	if t.handler != nil {
		return t.handler(t, f)
	}
	return nil
}

// parseLaneSeq extracts Lane/Seq headers as integers; ok is false if
// either is absent or unparseable.
func parseLaneSeq(laneStr string, f *frame.Frame) (laneID uint16, seq uint64, ok bool) {
	l, err := strconv.ParseUint(laneStr, 10, 16)
	if err != nil {
		return 0, 0, false
	}
	seqStr, present := f.Header("Seq")
	if !present {
		return 0, 0, false
	}
	s, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return uint16(l), s, true
}

func (t *Tunnel) sendFieldError(err error) error {
	resp := frame.New("422")
	resp.SetBody([]byte(err.Error() + "\r\n"))
	t.send(resp)
	return nil
}

// sendCredit grants n additional credit back to the peer on laneID. Every
// delivered inbound frame regrants one unit 1:1, so the lane's fixed
// initial window (lane.defaultCredits) never runs dry and the peer's
// SendOrQueue never stalls waiting on pendingOut — mirrors the inline ACK
// construction above, but replenishes the peer's send window instead of
// acknowledging receipt (spec.md §4.3: "Outbound helpers construct and
// enqueue ACK ... and CREDIT ... frames").
func (t *Tunnel) sendCredit(laneID uint16, n uint32) {
	credit := frame.New("CREDIT")
	credit.SetHeader("Lane", strconv.FormatUint(uint64(laneID), 10))
	credit.SetHeader("Credit", "+"+strconv.FormatUint(uint64(n), 10))
	t.send(credit)
}

// handleAck routes an ACK frame to the lane manager and reliability,
// without requiring authentication (step 3).
func (t *Tunnel) handleAck(f *frame.Frame) error {
	laneStr, ok := f.Header("Lane")
	if !ok {
		return nil
	}
	laneID, seq, ok := parseLaneSeq(laneStr, f)
	if !ok {
		return nil
	}
	t.lanes.Ack(laneID, seq)
	t.rel.ConfirmAck(laneID, seq)
	return nil
}

// handleCredit routes a CREDIT frame to the lane manager, releasing any
// pending frames the newly granted credit allows, and tracks each
// released frame for reliable delivery.
func (t *Tunnel) handleCredit(f *frame.Frame) error {
	laneStr, ok := f.Header("Lane")
	if !ok {
		return nil
	}
	laneID, err := strconv.ParseUint(laneStr, 10, 16)
	if err != nil {
		return nil
	}
	creditStr, ok := f.Header("Credit")
	if !ok {
		return nil
	}
	// spec.md §4.3: "Credit: +<u32> (leading + optional)". ParseUint
	// rejects a leading sign unlike ParseInt, so strip it explicitly.
	n, err := strconv.ParseUint(strings.TrimPrefix(creditStr, "+"), 10, 32)
	if err != nil {
		return nil
	}

	released := t.lanes.AddCredit(uint16(laneID), uint32(n))
	for _, data := range released {
		if parsed, err := frame.Parse(data); err == nil {
			if seqStr, ok := parsed.Header("Seq"); ok {
				if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
					t.rel.TrackFrame(uint16(laneID), seq, data)
				}
			}
		}
		select {
		case t.out <- data:
		case <-t.closed:
			return ErrClosed
		}
	}
	return nil
}

// send enqueues f for transmission without lane accounting or
// reliability tracking (status/control replies only).
func (t *Tunnel) send(f *frame.Frame) {
	select {
	case t.out <- f.Bytes():
	case <-t.closed:
	}
}

// SendOnLane reserves the next sequence number on laneID, stamps Lane/Seq
// headers, and either writes f immediately or queues it pending credit,
// per the outbound path in spec.md §4.10.
func (t *Tunnel) SendOnLane(laneID uint16, f *frame.Frame) error {
	seq := t.lanes.NextSeq(laneID)
	f.SetHeader("Lane", strconv.FormatUint(uint64(laneID), 10))
	f.SetHeader("Seq", strconv.FormatUint(seq, 10))
	if t.sessionToken != "" {
		if _, ok := f.Header("Session-Token"); !ok {
			f.SetHeader("Session-Token", t.sessionToken)
		}
	}
	data := f.Bytes()

	msg, ready := t.lanes.SendOrQueue(laneID, data)
	if !ready {
		return nil // queued; flushed by a later CREDIT frame
	}
	t.rel.TrackFrame(laneID, seq, msg)
	select {
	case t.out <- msg:
		return nil
	case <-t.closed:
		return ErrClosed
	}
}

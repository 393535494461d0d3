// Package auth implements the Rabbit HELLO handshake and per-frame session
// enforcement (spec.md §4.5).
package auth

import (
	"errors"

	"rabbitwarren/frame"
	"rabbitwarren/identity"
)

// Scheme is the only handshake scheme this implementation accepts.
const Scheme = "RABBIT-SECURE-1"

// ErrUnsupportedScheme is returned when a HELLO frame names a scheme other
// than Scheme, or omits it.
var ErrUnsupportedScheme = errors.New("auth: unsupported handshake scheme")

// ErrUnauthorised is returned when a frame requiring a session lacks one,
// or its token is invalid/expired.
var ErrUnauthorised = errors.New("auth: missing or invalid session token")

// Authenticator drives the handshake and enforces session validity on
// subsequent frames.
type Authenticator struct {
	idm *identity.Manager
}

// New builds an authenticator backed by idm.
func New(idm *identity.Manager) *Authenticator {
	return &Authenticator{idm: idm}
}

// BeginHandshake constructs the outbound HELLO frame an initiator sends.
func (a *Authenticator) BeginHandshake() *frame.Frame {
	f := frame.New("HELLO")
	f.SetHeader("Scheme", Scheme)
	f.SetHeader("Burrow-ID", a.idm.LocalID())
	f.SetBody([]byte("Caps: lanes, async, ui, federation\r\n"))
	return f
}

// ProcessHello validates an incoming HELLO frame and returns the 200 HELLO
// response, issuing a new session in the process.
func (a *Authenticator) ProcessHello(f *frame.Frame) (*frame.Frame, error) {
	scheme, ok := f.Header("Scheme")
	if !ok || scheme != Scheme {
		return nil, ErrUnsupportedScheme
	}
	peerID, ok := f.Header("Burrow-ID")
	if !ok || peerID == "" {
		peerID = "anonymous"
	}
	token := a.idm.CreateSession(peerID, peerID == "anonymous")

	reply := frame.New("200")
	reply.Args = []string{"HELLO"}
	reply.SetHeader("Session-Token", token)
	reply.SetHeader("Burrow-ID", a.idm.LocalID())
	reply.SetBody([]byte("Welcome to the warren\r\n"))
	return reply, nil
}

// RequireAuth enforces that f carries a valid, non-expired Session-Token.
func (a *Authenticator) RequireAuth(f *frame.Frame) error {
	token, ok := f.Header("Session-Token")
	if !ok || !a.idm.ValidateToken(token) {
		return ErrUnauthorised
	}
	return nil
}

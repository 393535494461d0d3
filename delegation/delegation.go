// Package delegation processes DELEGATE frames against the capability
// manager, and enforces required capabilities before side-effecting
// operations (spec.md §4.6).
package delegation

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"rabbitwarren/capability"
	"rabbitwarren/frame"
)

// defaultTTL is used when a DELEGATE frame omits or malforms TTL.
const defaultTTL = 600 * time.Second

// ErrMissingField is returned when a DELEGATE frame lacks a required header.
var ErrMissingField = errors.New("delegation: missing required field")

// ErrForbidden is returned by Require when the subject lacks the capability.
var ErrForbidden = errors.New("delegation: forbidden")

// Manager processes DELEGATE frames and enforces granted capabilities.
type Manager struct {
	perms *capability.Manager
}

// New builds a delegation manager backed by perms.
func New(perms *capability.Manager) *Manager {
	return &Manager{perms: perms}
}

// HandleDelegate processes an incoming DELEGATE frame, which must carry a
// Burrow-ID (the grant subject) and Caps (comma-separated capability
// tokens); TTL is optional and defaults to 600s. Unknown capability tokens
// are silently ignored.
func (m *Manager) HandleDelegate(f *frame.Frame) (*frame.Frame, error) {
	subject, ok := f.Header("Burrow-ID")
	if !ok || subject == "" {
		return nil, ErrMissingField
	}
	capsStr, ok := f.Header("Caps")
	if !ok || capsStr == "" {
		return nil, ErrMissingField
	}

	ttl := defaultTTL
	if ttlStr, ok := f.Header("TTL"); ok {
		if secs, err := strconv.ParseInt(strings.TrimSpace(ttlStr), 10, 64); err == nil {
			ttl = time.Duration(secs) * time.Second
		}
	}

	var caps []capability.Capability
	for _, tok := range strings.Split(capsStr, ",") {
		if c, ok := capability.ParseCapability(strings.ToLower(strings.TrimSpace(tok))); ok {
			caps = append(caps, c)
		}
	}
	m.perms.Grant(subject, caps, ttl)

	reply := frame.New("200")
	reply.Args = []string{"DELEGATED"}
	reply.SetHeader("Burrow-ID", subject)
	reply.SetBody([]byte("Delegation successful\r\n"))
	return reply, nil
}

// Require enforces that the sender named by f's Burrow-ID header holds cap.
// Callers must invoke this before performing any side-effecting operation
// gated by a capability (e.g. publishing an event).
func (m *Manager) Require(f *frame.Frame, cap capability.Capability) error {
	subject, ok := f.Header("Burrow-ID")
	if !ok || subject == "" {
		return ErrMissingField
	}
	if m.perms.Allowed(subject, cap) {
		return nil
	}
	return ErrForbidden
}

// Package config loads and validates the settings record a warren process
// is started with (spec.md §6). Config loading mechanics beyond a JSON
// settings file are out of scope; only the validated record matters to
// the rest of the module.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// LogSettings controls the zap/lumberjack logging sink (package logging).
type LogSettings struct {
	Level string `json:"level"`
	Path  string `json:"path"`
}

// IdentitySettings controls where a burrow's keypair and certificates
// live on disk.
type IdentitySettings struct {
	Name    string `json:"name"`
	Storage string `json:"storage"`
	Certs   string `json:"certs"`
}

// NetworkSettings controls the local listen port and statically
// configured peers to dial.
type NetworkSettings struct {
	Port  int      `json:"port"`
	Peers []string `json:"peers"`
}

// FederationSettings lists the federation anchors this warren trusts on
// startup.
type FederationSettings struct {
	Anchors []string `json:"anchors"`
}

// Settings is the top-level validated configuration record.
type Settings struct {
	Log        LogSettings        `json:"log"`
	Identity   IdentitySettings   `json:"identity"`
	Network    NetworkSettings    `json:"network"`
	Federation FederationSettings `json:"federation"`
}

// defaults applied when the settings file omits a field.
const (
	defaultLogLevel       = "info"
	defaultLogPath        = "rabbit.log"
	defaultIdentityStore  = "data/identity"
	defaultIdentityCerts  = "data/certs"
	defaultNetworkPort    = 7070
	defaultContinuityPath = "data/continuity"
)

// Load reads and validates a settings record from path.
func Load(path string) (*Settings, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var s Settings
	if err := json.Unmarshal(buf, &s); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(&s)
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &s, nil
}

func applyDefaults(s *Settings) {
	if s.Log.Level == "" {
		s.Log.Level = defaultLogLevel
	}
	if s.Log.Path == "" {
		s.Log.Path = defaultLogPath
	}
	if s.Identity.Storage == "" {
		s.Identity.Storage = defaultIdentityStore
	}
	if s.Identity.Certs == "" {
		s.Identity.Certs = defaultIdentityCerts
	}
	if s.Network.Port == 0 {
		s.Network.Port = defaultNetworkPort
	}
}

// Validate checks the record for internal consistency, filling in no
// further defaults.
func (s *Settings) Validate() error {
	if s.Network.Port <= 0 || s.Network.Port > 65535 {
		return fmt.Errorf("invalid network.port %d", s.Network.Port)
	}
	switch s.Log.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid log.level %q", s.Log.Level)
	}
	return nil
}

// ContinuityPath returns the base directory for the continuity engine's
// append-only logs, derived from the identity storage root.
func (s *Settings) ContinuityPath() string {
	if s.Identity.Storage == "" {
		return defaultContinuityPath
	}
	return s.Identity.Storage
}

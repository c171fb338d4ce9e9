// Package config loads the server's YAML configuration: domains, listen
// addresses, TLS material, auth and federation toggles, plus a per-module
// Enabled set with module-specific sub-blocks.
package config

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v2"
)

// ResourceConflict selects the policy applied when a client binds a
// resource that is already in use.
type ResourceConflict int

const (
	// Disallow rejects the bind attempt with a <conflict/> stanza error.
	Disallow ResourceConflict = iota
	// Override keeps the existing stream and binds the new one to the
	// requested resource with a random "-xxxxxxxx" suffix appended.
	Override
	// Replace disconnects the previously bound stream.
	Replace
)

// Modules holds the per-module enable map plus module-specific
// sub-configuration blocks.
type Modules struct {
	Enabled map[string]struct{} `yaml:"enabled"`

	Roster       RosterConfig       `yaml:"roster"`
	Offline      OfflineConfig      `yaml:"offline"`
	Registration RegistrationConfig `yaml:"registration"`
	MAM          MAMConfig          `yaml:"mam"`
	MUC          MUCConfig          `yaml:"muc"`
	SM           SMConfig           `yaml:"stream_management"`
	ISR          ISRConfig          `yaml:"isr"`
}

// RosterConfig configures the roster module.
type RosterConfig struct {
	Versioning bool `yaml:"versioning"`
}

// OfflineConfig configures offline message storage.
type OfflineConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// RegistrationConfig configures XEP-0077 in-band registration.
type RegistrationConfig struct {
	AllowChange  bool `yaml:"allow_change"`
	AllowRemoval bool `yaml:"allow_removal"`
}

// MAMConfig configures the message archive.
type MAMConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// MUCConfig configures the MUC module's room history bound. The MUC
// subdomain itself is Config.MUCDomain.
type MUCConfig struct {
	MaxHistoryMessages int `yaml:"max_history_messages"`
}

// SMConfig configures XEP-0198 Stream Management.
type SMConfig struct {
	MaxUnackedQueue int           `yaml:"max_unacked_queue"`
	ResumeTTL       time.Duration `yaml:"resume_ttl"`
}

// ISRConfig configures XEP-0397 Instant Stream Resumption.
type ISRConfig struct {
	InSASLSuccess     bool          `yaml:"in_sasl_success"`
	DefaultValidity   time.Duration `yaml:"default_validity"`
	MaxValidity       time.Duration `yaml:"max_validity"`
	MaxStoredTokens   int           `yaml:"max_stored_tokens"`
}

// StorageConfig selects and parameterizes the SQL backend.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "mysql", "postgres", "sqlite3"
	DSN     string `yaml:"dsn"`
}

// Config is the top-level server configuration.
type Config struct {
	LocalDomain  string `yaml:"local_domain"`
	MUCDomain    string `yaml:"muc_domain"`

	C2SListenAddr string `yaml:"c2s_listen_addr"`
	S2SEnabled    bool   `yaml:"s2s_enabled"`
	S2SListenAddr string `yaml:"s2s_listen_addr"`

	TLSCertPath string `yaml:"tls_cert_path"`
	TLSKeyPath  string `yaml:"tls_key_path"`

	RegistrationEnabled bool `yaml:"registration_enabled"`

	DialbackSecret string `yaml:"dialback_secret"`

	NativeAuthEnabled bool `yaml:"native_auth_enabled"`

	ISRInSASLSuccess        bool `yaml:"isr_in_sasl_success"`
	ISRDefaultValiditySecs  int  `yaml:"isr_default_validity_secs"`

	MaxPresenceSubscribersPerBroadcast int `yaml:"max_presence_subscribers_per_broadcast"`

	MaxStanzaSize  int           `yaml:"max_stanza_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	SASL           []string      `yaml:"sasl"`

	InsecureLoopback bool `yaml:"insecure_loopback"`

	ResourceConflict ResourceConflict `yaml:"-"`

	Storage StorageConfig `yaml:"storage"`
	Modules Modules       `yaml:"modules"`

	// regOverride is a runtime override of RegistrationEnabled set through
	// the admin surface: 0 none, 1 forced on, 2 forced off.
	regOverride int32 `yaml:"-"`
}

// RegistrationAllowed reports whether XEP-0077 registration is currently
// accepted, honoring any runtime override over the loaded value.
func (c *Config) RegistrationAllowed() bool {
	switch atomic.LoadInt32(&c.regOverride) {
	case 1:
		return true
	case 2:
		return false
	default:
		return c.RegistrationEnabled
	}
}

// SetRegistrationEnabled overrides RegistrationEnabled at runtime without
// reloading configuration. Safe to call concurrently with readers.
func (c *Config) SetRegistrationEnabled(on bool) {
	if on {
		atomic.StoreInt32(&c.regOverride, 1)
	} else {
		atomic.StoreInt32(&c.regOverride, 2)
	}
}

// Default returns a Config populated with working defaults (ISR validity
// bounds, SM queue bound, MAM page sizes, etc).
func Default() *Config {
	return &Config{
		LocalDomain:   "localhost",
		MUCDomain:     "conference.localhost",
		C2SListenAddr: "0.0.0.0:5222",
		S2SListenAddr: "0.0.0.0:5269",
		S2SEnabled:    true,
		MaxStanzaSize: 262144,
		ConnectTimeout: 10 * time.Second,
		SASL:          []string{"scram_sha_256"},
		MaxPresenceSubscribersPerBroadcast: 1000,
		Modules: Modules{
			Enabled: map[string]struct{}{
				"roster": {}, "vcard": {}, "private": {}, "last_activity": {},
				"offline": {}, "mam": {}, "muc": {}, "isr": {}, "sm": {},
			},
			Offline: OfflineConfig{QueueSize: 100},
			MAM:     MAMConfig{DefaultPageSize: 100, MaxPageSize: 500},
			MUC:     MUCConfig{MaxHistoryMessages: 50},
			SM:      SMConfig{MaxUnackedQueue: 256, ResumeTTL: 30 * time.Second},
			ISR: ISRConfig{
				DefaultValidity: 300 * time.Second,
				MaxValidity:     86400 * time.Second,
				MaxStoredTokens: 10000,
			},
		},
	}
}

// Load reads YAML configuration from r on top of Default().
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, err
	}
	return cfg, nil
}

// LoadFile opens path and loads it via Load.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

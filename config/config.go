// Package config loads the peer's read-only startup configuration from a
// TOML document (config.toml in the original Python prototype) via viper,
// the configuration library this module's teacher pack reaches for
// elsewhere (github.com/petervdpas/goop2, github.com/smithbk/client_sdk).
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/yusufCakir61/BYMY/roster"
)

// Config holds every field spec.md §3/§6 names. No cross-entity invariants
// beyond the uniqueness assumptions already enforced by roster.Roster.
type Config struct {
	Handle     roster.Handle
	Port       uint16
	WhoisPort  uint16
	ImagePath  string
	AutoReply  string
	Away       bool

	// RosterSnapshotPath, when non-empty, enables the optional
	// last-known-roster snapshot named in spec.md §1.
	RosterSnapshotPath string

	// AwayFlagPath overrides the away-flag touch-file location from the
	// spec.md §6 default of "away.flag" in the working directory. Tests
	// and multi-peer-per-host demos set this to keep state isolated.
	AwayFlagPath string

	// TransferTimeout bounds how long an incomplete image transfer is
	// kept in memory before being evicted (SPEC_FULL.md §4.5 resolution
	// of the incomplete-transfer open question).
	TransferTimeout int // seconds

	path string
	v    *viper.Viper
}

const (
	defaultImagePath    = "./receive"
	defaultAutoReply    = "I am currently away."
	defaultTimeout      = 30
	defaultAwayFlagPath = "away.flag"
)

// Load reads and validates the TOML configuration document at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetDefault("imagepath", defaultImagePath)
	v.SetDefault("autoreply", defaultAutoReply)
	v.SetDefault("away", false)
	v.SetDefault("awayflagpath", defaultAwayFlagPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "loading configuration file %q", path)
	}

	handleRaw := v.GetString("handle")
	if handleRaw == "" {
		return nil, errors.New("config: \"handle\" is required")
	}
	handle, err := roster.NewHandle(handleRaw)
	if err != nil {
		return nil, errors.Wrap(err, "config: \"handle\"")
	}

	port, err := readPort(v, "port")
	if err != nil {
		return nil, err
	}
	if port == 0 {
		return nil, errors.New("config: \"port\" is required")
	}

	whoisPort, err := readPort(v, "whoisport")
	if err != nil {
		return nil, err
	}
	if whoisPort == 0 {
		return nil, errors.New("config: \"whoisport\" is required")
	}

	return &Config{
		Handle:             handle,
		Port:               port,
		WhoisPort:          whoisPort,
		ImagePath:          v.GetString("imagepath"),
		AutoReply:          v.GetString("autoreply"),
		Away:               v.GetBool("away"),
		RosterSnapshotPath: v.GetString("rostersnapshot"),
		AwayFlagPath:       v.GetString("awayflagpath"),
		TransferTimeout:    defaultTimeout,
		path:               path,
		v:                  v,
	}, nil
}

// readPort accepts either a bare integer or a single-element list, per
// spec.md §3's "Fields: ... own UDP port (required) ...", and §6's
// "port (integer or single-element list)".
func readPort(v *viper.Viper, key string) (uint16, error) {
	switch val := v.Get(key).(type) {
	case nil:
		return 0, nil
	case int:
		return uint16(val), nil
	case int64:
		return uint16(val), nil
	case float64:
		return uint16(val), nil
	case []interface{}:
		if len(val) != 1 {
			return 0, errors.Errorf("config: %q list must have exactly one element", key)
		}
		switch n := val[0].(type) {
		case int:
			return uint16(n), nil
		case int64:
			return uint16(n), nil
		case float64:
			return uint16(n), nil
		default:
			return 0, errors.Errorf("config: %q: unsupported element type", key)
		}
	default:
		return 0, errors.Errorf("config: %q: unsupported type", key)
	}
}

// SetAutoReply rewrites the autoreply text in memory and persists it back
// to the TOML file, mirroring the original's update_config_value and
// supplementing the distilled spec with the "/autoreply" front-end command
// (SPEC_FULL.md §9).
func (c *Config) SetAutoReply(text string) error {
	c.AutoReply = text
	c.v.Set("autoreply", text)
	if err := c.v.WriteConfigAs(c.path); err != nil {
		return errors.Wrap(err, "config: persisting autoreply")
	}
	return nil
}

// SanitizedImagePath strips a trailing slash for consistent joining.
func (c *Config) SanitizedImagePath() string {
	return strings.TrimRight(c.ImagePath, "/")
}

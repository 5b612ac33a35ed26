// Package config loads partnerd settings: defaults, then a YAML file, then
// FAULTRPC_* environment overrides, then validation.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"fault-rpc/partner"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// PartnerID is announced in handshake acks and used as the discovery key.
	PartnerID string `yaml:"partner_id"`
	Listen    string `yaml:"listen"`
	// Advertise is the address published in discovery; defaults to Listen.
	Advertise string `yaml:"advertise"`

	Timeouts Timeouts `yaml:"timeouts"`

	// Modes preconfigures service modes by partner id, by name or ordinal.
	Modes map[string]partner.ServiceMode `yaml:"modes"`

	RateLimit RateLimit `yaml:"rate_limit"`
	Etcd      Etcd      `yaml:"etcd"`
	Metrics   Metrics   `yaml:"metrics"`
	Logging   Logging   `yaml:"logging"`
}

type Timeouts struct {
	Handshake time.Duration `yaml:"handshake"`
	Read      time.Duration `yaml:"read"` // 0 = partners may idle forever
	Write     time.Duration `yaml:"write"`
}

// RateLimit is per partner; RPS 0 disables it.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Etcd enables discovery when Endpoints is non-empty.
type Etcd struct {
	Endpoints []string `yaml:"endpoints"`
	LeaseTTL  int64    `yaml:"lease_ttl"`
}

// Metrics serves /metrics on Listen when set.
type Metrics struct {
	Listen string `yaml:"listen"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Default() *Config {
	return &Config{
		PartnerID: "partnerd",
		Listen:    ":7070",
		Timeouts: Timeouts{
			Handshake: 10 * time.Second,
			Write:     10 * time.Second,
		},
		Modes:     map[string]partner.ServiceMode{},
		RateLimit: RateLimit{Burst: 10},
		Etcd:      Etcd{LeaseTTL: 10},
		Logging:   Logging{Level: "info"},
	}
}

// Load reads path (skipped when empty) over the defaults, applies the environment
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config: read")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "config: parse %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FAULTRPC_* variables:
//
//	FAULTRPC_PARTNER_ID, FAULTRPC_LISTEN, FAULTRPC_ADVERTISE,
//	FAULTRPC_HANDSHAKE_TIMEOUT, FAULTRPC_READ_TIMEOUT, FAULTRPC_WRITE_TIMEOUT,
//	FAULTRPC_RATE_LIMIT_RPS, FAULTRPC_RATE_LIMIT_BURST,
//	FAULTRPC_ETCD_ENDPOINTS (comma separated), FAULTRPC_ETCD_LEASE_TTL,
//	FAULTRPC_METRICS_LISTEN, FAULTRPC_LOG_LEVEL,
//	FAULTRPC_MODES ("alice=RANDOM,bob=2"; merged into the file's modes)
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup("FAULTRPC_" + name); ok {
			*dst = v
		}
	}
	var err error
	parse := func(name string, fn func(string) error) {
		v, ok := lookup("FAULTRPC_" + name)
		if !ok || err != nil {
			return
		}
		if perr := fn(v); perr != nil {
			err = errors.Wrapf(perr, "config: FAULTRPC_%s", name)
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) (err error) {
			*dst, err = time.ParseDuration(v)
			return err
		}
	}

	str("PARTNER_ID", &c.PartnerID)
	str("LISTEN", &c.Listen)
	str("ADVERTISE", &c.Advertise)
	str("METRICS_LISTEN", &c.Metrics.Listen)
	str("LOG_LEVEL", &c.Logging.Level)
	parse("HANDSHAKE_TIMEOUT", duration(&c.Timeouts.Handshake))
	parse("READ_TIMEOUT", duration(&c.Timeouts.Read))
	parse("WRITE_TIMEOUT", duration(&c.Timeouts.Write))
	parse("RATE_LIMIT_RPS", func(v string) (err error) {
		c.RateLimit.RPS, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("RATE_LIMIT_BURST", func(v string) (err error) {
		c.RateLimit.Burst, err = strconv.Atoi(v)
		return err
	})
	parse("ETCD_ENDPOINTS", func(v string) error {
		c.Etcd.Endpoints = splitList(v)
		return nil
	})
	parse("ETCD_LEASE_TTL", func(v string) (err error) {
		c.Etcd.LeaseTTL, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("MODES", func(v string) error {
		if c.Modes == nil {
			c.Modes = map[string]partner.ServiceMode{}
		}
		for _, pair := range splitList(v) {
			id, name, ok := strings.Cut(pair, "=")
			if !ok {
				return errors.Errorf("%q is not id=mode", pair)
			}
			mode, err := partner.ParseServiceMode(name)
			if err != nil {
				return err
			}
			c.Modes[strings.TrimSpace(id)] = mode
		}
		return nil
	})
	return err
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.PartnerID) == "":
		return errors.New("config: partner_id is required")
	case c.Listen == "":
		return errors.New("config: listen is required")
	case c.Timeouts.Handshake < 0 || c.Timeouts.Read < 0 || c.Timeouts.Write < 0:
		return errors.New("config: timeouts must not be negative")
	case c.RateLimit.RPS < 0:
		return errors.New("config: rate_limit.rps must not be negative")
	case c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1:
		return errors.New("config: rate_limit.burst must be at least 1")
	case len(c.Etcd.Endpoints) > 0 && c.Etcd.LeaseTTL < 1:
		return errors.New("config: etcd.lease_ttl must be at least 1 second")
	}
	for id, mode := range c.Modes {
		if strings.TrimSpace(id) == "" {
			return errors.New("config: modes: empty partner id")
		}
		if !mode.Valid() {
			return errors.Errorf("config: modes: %s: invalid mode %v", id, mode)
		}
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "config: logging.level")
	}
	return nil
}

// AdvertiseAddr is the address to publish in discovery.
func (c *Config) AdvertiseAddr() string {
	if c.Advertise != "" {
		return c.Advertise
	}
	return c.Listen
}

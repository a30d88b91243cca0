// Package config loads the configuration of the isktreon server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/robfig/cron/v3"

	"github.com/jp-673/isktreon/internal/app"
)

// Defaults
const (
	AuthorizeURLDefault      = "https://login.eveonline.com/v2/oauth/authorize"
	TokenURLDefault          = "https://login.eveonline.com/v2/oauth/token"
	VerifyURLDefault         = "https://login.eveonline.com/oauth/verify"
	ListenAddressDefault     = "localhost:8000"
	CallbackURLDefault       = "http://localhost:8000/callback"
	RequestTimeoutDefault    = 15 * time.Second
	ReconcileScheduleDefault = "@every 5m"
	RescanIntervalDefault    = 5 * time.Second
	UserAgentDefault         = "isktreon/1.0"
)

var ErrInvalidConfig = errors.New("invalid config")

// Tier is a support tier in the creator catalog.
type Tier struct {
	Name string `yaml:"name"`
	Cost int64  `yaml:"cost"` // ISK in millions
}

// Creator is an entry of the creator catalog.
type Creator struct {
	ID    int32  `yaml:"id"`
	Name  string `yaml:"name"`
	Tiers []Tier `yaml:"tiers"`
}

// Config is the configuration of the server.
type Config struct {
	ClientID          string    `yaml:"client_id"`
	CallbackURL       string    `yaml:"callback_url"`
	ListenAddress     string    `yaml:"listen_address"`
	UserAgent         string    `yaml:"user_agent"`
	RequestTimeout    string    `yaml:"request_timeout"`
	RescanInterval    string    `yaml:"rescan_interval"`
	ReconcileSchedule *string   `yaml:"reconcile_schedule"`
	AllowedOrigins    []string  `yaml:"allowed_origins"`
	Creators          []Creator `yaml:"creators"`
	AuthorizeURL      string    `yaml:"authorize_url"`
	TokenURL          string    `yaml:"token_url"`
	VerifyURL         string    `yaml:"verify_url"`

	requestTimeout time.Duration
	rescanInterval time.Duration
}

// Load reads the config file at path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses a config from YAML, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w: %w", ErrInvalidConfig, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.CallbackURL == "" {
		c.CallbackURL = CallbackURLDefault
	}
	if c.ListenAddress == "" {
		c.ListenAddress = ListenAddressDefault
	}
	if c.UserAgent == "" {
		c.UserAgent = UserAgentDefault
	}
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = AuthorizeURLDefault
	}
	if c.TokenURL == "" {
		c.TokenURL = TokenURLDefault
	}
	if c.VerifyURL == "" {
		c.VerifyURL = VerifyURLDefault
	}
	if c.ReconcileSchedule == nil {
		s := ReconcileScheduleDefault
		c.ReconcileSchedule = &s
	}
}

// Validate reports whether the config is valid and computes derived values.
func (c *Config) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client_id: missing"))
	}
	for k, v := range map[string]string{
		"callback_url":  c.CallbackURL,
		"authorize_url": c.AuthorizeURL,
		"token_url":     c.TokenURL,
		"verify_url":    c.VerifyURL,
	} {
		if err := validateURL(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	var err error
	c.requestTimeout, err = parseDuration(c.RequestTimeout, RequestTimeoutDefault)
	if err != nil {
		errs = append(errs, fmt.Errorf("request_timeout: %w", err))
	}
	c.rescanInterval, err = parseDuration(c.RescanInterval, RescanIntervalDefault)
	if err != nil {
		errs = append(errs, fmt.Errorf("rescan_interval: %w", err))
	}
	if s := c.Schedule(); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			errs = append(errs, fmt.Errorf("reconcile_schedule: %w", err))
		}
	}
	ids := make(map[int32]bool)
	for i, x := range c.Creators {
		if x.ID <= 0 {
			errs = append(errs, fmt.Errorf("creators[%d]: invalid id %d", i, x.ID))
		}
		if ids[x.ID] {
			errs = append(errs, fmt.Errorf("creators[%d]: duplicate id %d", i, x.ID))
		}
		ids[x.ID] = true
		if x.Name == "" {
			errs = append(errs, fmt.Errorf("creators[%d]: missing name", i))
		}
		if len(x.Tiers) == 0 {
			errs = append(errs, fmt.Errorf("creators[%d]: no tiers", i))
		}
		for j, t := range x.Tiers {
			if t.Name == "" || t.Cost <= 0 {
				errs = append(errs, fmt.Errorf("creators[%d].tiers[%d]: needs name and positive cost", i, j))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// RequestTimeoutDuration returns the timeout for calls to remote services.
func (c *Config) RequestTimeoutDuration() time.Duration {
	if c.requestTimeout == 0 {
		return RequestTimeoutDefault
	}
	return c.requestTimeout
}

// RescanIntervalDuration returns the minimum distance between user triggered rescans.
func (c *Config) RescanIntervalDuration() time.Duration {
	if c.rescanInterval == 0 {
		return RescanIntervalDefault
	}
	return c.rescanInterval
}

// Schedule returns the cron spec for periodic reconciliations.
// An empty spec disables them.
func (c *Config) Schedule() string {
	if c.ReconcileSchedule == nil {
		return ReconcileScheduleDefault
	}
	return *c.ReconcileSchedule
}

// AppCreators returns the creator catalog.
func (c *Config) AppCreators() []app.Creator {
	oo := make([]app.Creator, 0, len(c.Creators))
	for _, x := range c.Creators {
		o := app.Creator{ID: x.ID, Name: x.Name}
		for _, t := range x.Tiers {
			o.Tiers = append(o.Tiers, app.Tier{Name: t.Name, Cost: t.Cost})
		}
		oo = append(oo, o)
	}
	return oo
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("not an absolute http(s) URL: %q", s)
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive: %s", s)
	}
	return d, nil
}

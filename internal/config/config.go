// Package config resolves receive-side settings from the environment.
// CLI flags take precedence; the environment supplies defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Defaults used when neither flags nor environment provide a value.
const (
	DefaultRelayURL      = "ws://relay.slipwire.dev:4000/v1"
	DefaultTransitHelper = "tcp:transit.slipwire.dev:4001"
	DefaultLogLevel      = "warn"
)

// Receive holds everything the receive command needs.
type Receive struct {
	RelayURL      string
	TransitHelper string
	Code          string
	Zeromode      bool
	Verify        bool
	AcceptFile    bool
	OutputFile    string
	OutDir        string
	HideProgress  bool
	LogLevel      string
}

// FromEnv builds a Receive with environment-derived defaults.
func FromEnv() Receive {
	return fromEnviron(os.Getenv)
}

func fromEnviron(getenv func(string) string) Receive {
	cfg := Receive{
		RelayURL:      DefaultRelayURL,
		TransitHelper: DefaultTransitHelper,
		LogLevel:      DefaultLogLevel,
		OutDir:        ".",
	}
	if v := getenv("SLIPWIRE_RELAY_URL"); v != "" {
		cfg.RelayURL = v
	}
	if v := getenv("SLIPWIRE_TRANSIT_HELPER"); v != "" {
		cfg.TransitHelper = v
	}
	if v := getenv("SLIPWIRE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg
}

// Validate checks the fields that have a fixed shape.
func (c Receive) Validate() error {
	u, err := url.Parse(c.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid relay URL %q: %w", c.RelayURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay URL must use ws:// or wss://, got %q", c.RelayURL)
	}
	if c.TransitHelper != "" {
		if _, _, err := ParseTransitHelper(c.TransitHelper); err != nil {
			return err
		}
	}
	if c.Zeromode && c.Code != "" {
		return fmt.Errorf("a code cannot be combined with zero mode")
	}
	return nil
}

// ParseTransitHelper splits a "tcp:host:port" relay designator.
func ParseTransitHelper(helper string) (host string, port string, err error) {
	parts := strings.SplitN(helper, ":", 3)
	if len(parts) != 3 || parts[0] != "tcp" || parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid transit helper %q, want tcp:host:port", helper)
	}
	return parts[1], parts[2], nil
}

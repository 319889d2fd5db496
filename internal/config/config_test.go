package config

import "testing"

func TestFromEnvironDefaults(t *testing.T) {
	cfg := fromEnviron(func(string) string { return "" })

	if cfg.RelayURL != DefaultRelayURL {
		t.Errorf("RelayURL = %s, want %s", cfg.RelayURL, DefaultRelayURL)
	}
	if cfg.TransitHelper != DefaultTransitHelper {
		t.Errorf("TransitHelper = %s, want %s", cfg.TransitHelper, DefaultTransitHelper)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %s, want %s", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.OutDir != "." {
		t.Errorf("OutDir = %s, want .", cfg.OutDir)
	}
}

func TestFromEnvironOverrides(t *testing.T) {
	env := map[string]string{
		"SLIPWIRE_RELAY_URL":      "wss://relay.example.org/v1",
		"SLIPWIRE_TRANSIT_HELPER": "tcp:relay.example.org:9009",
		"SLIPWIRE_LOG_LEVEL":      "debug",
	}
	cfg := fromEnviron(func(k string) string { return env[k] })

	if cfg.RelayURL != "wss://relay.example.org/v1" {
		t.Errorf("RelayURL = %s", cfg.RelayURL)
	}
	if cfg.TransitHelper != "tcp:relay.example.org:9009" {
		t.Errorf("TransitHelper = %s", cfg.TransitHelper)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Receive
		wantErr bool
	}{
		{"defaults", fromEnviron(func(string) string { return "" }), false},
		{"http relay", Receive{RelayURL: "http://relay.example.org"}, true},
		{"bad helper", Receive{RelayURL: DefaultRelayURL, TransitHelper: "relay.example.org:4001"}, true},
		{"no helper", Receive{RelayURL: DefaultRelayURL}, false},
		{"code plus zero mode", Receive{RelayURL: DefaultRelayURL, Code: "4-purple-sausages", Zeromode: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTransitHelper(t *testing.T) {
	host, port, err := ParseTransitHelper("tcp:transit.slipwire.dev:4001")
	if err != nil {
		t.Fatal(err)
	}
	if host != "transit.slipwire.dev" || port != "4001" {
		t.Errorf("got %s:%s", host, port)
	}

	for _, bad := range []string{"", "tcp:", "udp:host:1", "tcp:host", "tcp::1"} {
		if _, _, err := ParseTransitHelper(bad); err == nil {
			t.Errorf("ParseTransitHelper(%q) accepted", bad)
		}
	}
}

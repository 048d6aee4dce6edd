// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package client

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
	"mellium.im/sasl"

	"mellium.im/client/reconnect"
)

// FileConfig is the on-disk form of Config.
// Durations are strings accepted by time.ParseDuration.
type FileConfig struct {
	Domain           string            `yaml:"domain" toml:"domain"`
	Lang             string            `yaml:"lang" toml:"lang"`
	ResponseTimeout  string            `yaml:"response_timeout" toml:"response_timeout"`
	CloseTimeout     string            `yaml:"close_timeout" toml:"close_timeout"`
	Mechanisms       []string          `yaml:"mechanisms" toml:"mechanisms"`
	Transports       []TransportConfig `yaml:"transports" toml:"transports"`
	Reconnection     StrategyConfig    `yaml:"reconnection" toml:"reconnection"`
	RosterOnLogin    bool              `yaml:"roster_on_login" toml:"roster_on_login"`
	CloseOnExit      bool              `yaml:"close_on_exit" toml:"close_on_exit"`
	StreamManagement bool              `yaml:"stream_management" toml:"stream_management"`
	Compression      []string          `yaml:"compression" toml:"compression"`
	KeepAlive        string            `yaml:"keep_alive" toml:"keep_alive"`
	SendRate         float64           `yaml:"send_rate" toml:"send_rate"`
	SendBurst        int               `yaml:"send_burst" toml:"send_burst"`
}

// TransportConfig configures one transport.
type TransportConfig struct {
	// Type is "tcp" or "websocket".
	Type string `yaml:"type" toml:"type"`

	Host       string `yaml:"host" toml:"host"`
	Port       uint16 `yaml:"port" toml:"port"`
	DirectTLS  bool   `yaml:"direct_tls" toml:"direct_tls"`
	TLS        string `yaml:"tls" toml:"tls"`
	Nameserver string `yaml:"nameserver" toml:"nameserver"`
	Insecure   bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`

	URL string `yaml:"url" toml:"url"`
}

// StrategyConfig selects a reconnection strategy by name.
type StrategyConfig struct {
	// Name is one of "default", "backoff", "fixed", "random" or "never".
	Name    string `yaml:"name" toml:"name"`
	Slot    string `yaml:"slot" toml:"slot"`
	Ceiling int    `yaml:"ceiling" toml:"ceiling"`
	Delay   string `yaml:"delay" toml:"delay"`
	Min     string `yaml:"min" toml:"min"`
	Max     string `yaml:"max" toml:"max"`
}

// LoadConfig reads a YAML or TOML file, chosen by its extension.
func LoadConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("client: parsing %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("client: parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("client: unknown config file type %q", ext)
	}
	return cfg, nil
}

var mechanisms = map[string]sasl.Mechanism{
	sasl.Plain.Name:           sasl.Plain,
	sasl.ScramSha1.Name:       sasl.ScramSha1,
	sasl.ScramSha1Plus.Name:   sasl.ScramSha1Plus,
	sasl.ScramSha256.Name:     sasl.ScramSha256,
	sasl.ScramSha256Plus.Name: sasl.ScramSha256Plus,
}

var tlsPolicies = map[string]TLSPolicy{
	"":         TLSRequired,
	"required": TLSRequired,
	"optional": TLSOptional,
	"disabled": TLSDisabled,
}

var transports = map[string]func(TransportConfig) (Transport, error){
	"tcp": func(tc TransportConfig) (Transport, error) {
		policy, ok := tlsPolicies[tc.TLS]
		if !ok {
			return nil, fmt.Errorf("client: unknown TLS policy %q", tc.TLS)
		}
		t := &TCPTransport{
			Host:      tc.Host,
			Port:      tc.Port,
			DirectTLS: tc.DirectTLS,
			Policy:    policy,
		}
		if tc.Insecure {
			t.TLSConfig = &tls.Config{InsecureSkipVerify: true}
		}
		if tc.Nameserver != "" {
			t.Resolver = DNSResolver{Server: tc.Nameserver}
		}
		return t, nil
	},
	"websocket": func(tc TransportConfig) (Transport, error) {
		return &WebSocketTransport{URL: tc.URL}, nil
	},
}

var strategies = map[string]func(StrategyConfig) (reconnect.Strategy, error){
	"": func(StrategyConfig) (reconnect.Strategy, error) {
		return reconnect.Default(), nil
	},
	"default": func(StrategyConfig) (reconnect.Strategy, error) {
		return reconnect.Default(), nil
	},
	"never": func(StrategyConfig) (reconnect.Strategy, error) {
		return reconnect.Never(), nil
	},
	"backoff": func(sc StrategyConfig) (reconnect.Strategy, error) {
		slot, err := parseDuration(sc.Slot, time.Minute)
		if err != nil {
			return nil, err
		}
		ceiling := sc.Ceiling
		if ceiling <= 0 {
			ceiling = 5
		}
		return reconnect.TruncatedBinaryExponentialBackoff(slot, ceiling), nil
	},
	"fixed": func(sc StrategyConfig) (reconnect.Strategy, error) {
		d, err := parseDuration(sc.Delay, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return reconnect.FixedDelay(d), nil
	},
	"random": func(sc StrategyConfig) (reconnect.Strategy, error) {
		lo, err := parseDuration(sc.Min, time.Minute)
		if err != nil {
			return nil, err
		}
		hi, err := parseDuration(sc.Max, 2*time.Minute)
		if err != nil {
			return nil, err
		}
		return reconnect.RandomDelay(lo, hi), nil
	},
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("client: invalid duration %q: %w", s, err)
	}
	return d, nil
}

// Config converts the file form into a Config.
// Options that cannot be expressed in a file, such as the logger, are left
// for the caller to set.
func (fc *FileConfig) Config() (Config, error) {
	cfg := Config{
		Domain:           fc.Domain,
		Lang:             fc.Lang,
		RosterOnLogin:    fc.RosterOnLogin,
		CloseOnExit:      fc.CloseOnExit,
		StreamManagement: fc.StreamManagement,
		Compression:      fc.Compression,
		SendRate:         rate.Limit(fc.SendRate),
		SendBurst:        fc.SendBurst,
	}
	var err error
	if cfg.ResponseTimeout, err = parseDuration(fc.ResponseTimeout, 0); err != nil {
		return cfg, err
	}
	if cfg.CloseTimeout, err = parseDuration(fc.CloseTimeout, 0); err != nil {
		return cfg, err
	}
	if cfg.KeepAlive, err = parseDuration(fc.KeepAlive, 0); err != nil {
		return cfg, err
	}

	for _, name := range fc.Mechanisms {
		m, ok := mechanisms[strings.ToUpper(name)]
		if !ok {
			return cfg, fmt.Errorf("client: unknown SASL mechanism %q", name)
		}
		cfg.Mechanisms = append(cfg.Mechanisms, m)
	}

	for _, tc := range fc.Transports {
		newTransport, ok := transports[strings.ToLower(tc.Type)]
		if !ok {
			return cfg, fmt.Errorf("client: unknown transport %q", tc.Type)
		}
		t, err := newTransport(tc)
		if err != nil {
			return cfg, err
		}
		cfg.Transports = append(cfg.Transports, t)
	}

	newStrategy, ok := strategies[strings.ToLower(fc.Reconnection.Name)]
	if !ok {
		return cfg, fmt.Errorf("client: unknown reconnection strategy %q", fc.Reconnection.Name)
	}
	if cfg.Reconnection, err = newStrategy(fc.Reconnection); err != nil {
		return cfg, err
	}
	return cfg, nil
}

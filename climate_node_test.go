package main

import (
	"testing"
	"time"

	"github.com/elijahnyp/climate_node/retry"
	. "github.com/elijahnyp/climate_node/util"
	"github.com/spf13/viper"
)

func TestSessionConfigFromDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	settings, err := LoadSettingsFrom(v)
	if err != nil {
		t.Fatalf("LoadSettingsFrom returned %v", err)
	}

	cfg := sessionConfig(settings)
	if cfg.BrokerURI != "tcp://broker.emqx.io:1883" {
		t.Errorf("BrokerURI = %s", cfg.BrokerURI)
	}
	if cfg.Username != "emqx" || cfg.Password != "public" || cfg.ClientIDPrefix != "esp32-client-" {
		t.Errorf("unexpected credentials %+v", cfg)
	}
	if cfg.ConnectTimeout != 10*time.Second || cfg.AutoReconnect {
		t.Errorf("timeout = %v, auto reconnect = %v", cfg.ConnectTimeout, cfg.AutoReconnect)
	}
	if cfg.NetworkPolicy != retry.Unbounded(500*time.Millisecond) {
		t.Errorf("network policy = %+v", cfg.NetworkPolicy)
	}
	if cfg.BrokerPolicy != retry.Unbounded(2*time.Second) {
		t.Errorf("broker policy = %+v", cfg.BrokerPolicy)
	}
}

func TestPolicy(t *testing.T) {
	tests := []struct {
		name        string
		backoffMs   int64
		maxAttempts int
		want        retry.Policy
	}{
		{"unbounded", 500, 0, retry.Policy{Backoff: 500 * time.Millisecond}},
		{"bounded", 2000, 3, retry.Policy{MaxAttempts: 3, Backoff: 2 * time.Second}},
		{"no backoff", 0, 1, retry.Policy{MaxAttempts: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy(tt.backoffMs, tt.maxAttempts); got != tt.want {
				t.Errorf("policy(%d, %d) = %+v, want %+v", tt.backoffMs, tt.maxAttempts, got, tt.want)
			}
		})
	}
}

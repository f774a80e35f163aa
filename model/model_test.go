package model

import (
	"slices"
	"strings"
	"testing"
	"time"
)

func TestCapabilityForRole(t *testing.T) {
	tests := []struct {
		role string
		want Capability
	}{
		{"drafter", CapabilityDrafting},
		{"clinical-reviewer", CapabilityReviewing},
		{"ethical-reviewer", CapabilityReviewing},
		{"style-reviewer", CapabilityReviewing},
		{"reviser", CapabilityRevising},
		{"unknown", CapabilityDrafting},
	}
	for _, tt := range tests {
		if got := CapabilityForRole(tt.role); got != tt.want {
			t.Errorf("CapabilityForRole(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestParseCapability(t *testing.T) {
	for _, c := range Capabilities() {
		if ParseCapability(string(c)) != c {
			t.Errorf("ParseCapability(%q) did not round trip", c)
		}
	}
	if ParseCapability("planning") != "" {
		t.Error("expected planning to be unknown")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	if got := r.ListCapabilities(); len(got) != len(Capabilities()) {
		t.Errorf("expected %d capabilities, got %v", len(Capabilities()), got)
	}
	if got := r.Resolve(CapabilityReviewing); got != "claude-sonnet" {
		t.Errorf("Resolve(reviewing) = %q", got)
	}
	if got := r.Resolve("unknown"); got != "qwen" {
		t.Errorf("unknown capability should resolve to default, got %q", got)
	}
	if got := r.ForRole("reviser"); got != "claude-sonnet" {
		t.Errorf("ForRole(reviser) = %q", got)
	}

	chain := r.GetFallbackChain(CapabilityReviewing)
	if !slices.Equal(chain, []string{"claude-sonnet", "claude-haiku", "qwen"}) {
		t.Errorf("unexpected chain %v", chain)
	}
	for _, name := range chain {
		if r.GetEndpoint(name) == nil {
			t.Errorf("model %q has no endpoint", name)
		}
	}
}

func TestCircuitBreaker(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})

	if r.GetEndpointHealth("qwen") != nil {
		t.Fatal("expected no health before any request")
	}

	r.MarkEndpointFailure("qwen")
	if !r.IsEndpointAvailable("qwen") {
		t.Error("expected qwen available after one failure")
	}
	r.MarkEndpointFailure("qwen")
	if r.IsEndpointAvailable("qwen") {
		t.Error("expected circuit open after two failures")
	}

	h := r.GetEndpointHealth("qwen")
	if h == nil || !h.CircuitOpen || h.FailureCount != 2 {
		t.Fatalf("unexpected health %+v", h)
	}

	chain := r.GetAvailableFallbackChain(CapabilityDrafting)
	if slices.Contains(chain, "qwen") {
		t.Errorf("open endpoint should be filtered, got %v", chain)
	}

	r.MarkEndpointSuccess("qwen")
	if !r.IsEndpointAvailable("qwen") {
		t.Error("success should close the circuit")
	}
	if h := r.GetEndpointHealth("qwen"); h.FailureCount != 0 {
		t.Errorf("failure count not reset: %d", h.FailureCount)
	}
}

func TestCircuitBreakerRecovery(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute})

	now := time.Now()
	r.health.now = func() time.Time { return now }

	r.MarkEndpointFailure("qwen")
	if r.IsEndpointAvailable("qwen") {
		t.Fatal("expected circuit open")
	}

	now = now.Add(2 * time.Minute)
	if !r.IsEndpointAvailable("qwen") {
		t.Error("expected half-open after recovery timeout")
	}
}

func TestAvailableChainNeverEmpty(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	for _, name := range r.GetFallbackChain(CapabilityDrafting) {
		r.MarkEndpointFailure(name)
	}
	if got := r.GetAvailableFallbackChain(CapabilityDrafting); len(got) == 0 {
		t.Error("expected full chain when every endpoint is down")
	}
}

func TestLoadFromJSON(t *testing.T) {
	data := []byte(`{
		"model_registry": {
			"capabilities": {
				"reviewing": {"preferred": ["local"]}
			},
			"endpoints": {
				"local": {"provider": "ollama", "url": "http://localhost:11434/v1", "model": "llama3.2"}
			},
			"defaults": {"model": "local"}
		}
	}`)

	r, err := LoadFromJSON(data)
	if err != nil {
		t.Fatalf("LoadFromJSON: %v", err)
	}
	if got := r.Resolve(CapabilityReviewing); got != "local" {
		t.Errorf("Resolve = %q", got)
	}
	if got := r.Resolve(CapabilityDrafting); got != "local" {
		t.Errorf("default should apply, got %q", got)
	}

	bare := []byte(`{"capabilities": {"fast": {"preferred": ["local"]}}, "endpoints": {"local": {"provider": "ollama", "model": "x"}}}`)
	if _, err := LoadFromJSON(bare); err != nil {
		t.Errorf("bare config rejected: %v", err)
	}
}

func TestLoadFromJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"malformed", `{`, "parse registry config"},
		{"unknown capability", `{"capabilities": {"planning": {"preferred": []}}}`, "unknown capability"},
		{"dangling model", `{"capabilities": {"fast": {"preferred": ["ghost"]}}}`, "no endpoint"},
		{"incomplete endpoint", `{"endpoints": {"x": {"provider": "ollama"}}}`, "needs provider and model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromJSON([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestMergeFromConfig(t *testing.T) {
	r := NewDefaultRegistry()
	r.MergeFromConfig(&RegistryConfig{
		Capabilities: map[string]*CapabilityConfig{"fast": {Preferred: []string{"tiny"}}},
		Endpoints:    map[string]*EndpointConfig{"tiny": {Provider: "ollama", Model: "tiny"}},
	})
	if got := r.Resolve(CapabilityFast); got != "tiny" {
		t.Errorf("Resolve(fast) = %q", got)
	}
	cfg := r.ToConfig()
	if cfg.Endpoints["tiny"] == nil {
		t.Error("merged endpoint missing from ToConfig")
	}
}

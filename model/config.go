package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// RegistryConfig is the JSON shape of a model registry file.
type RegistryConfig struct {
	Capabilities map[string]*CapabilityConfig `json:"capabilities"`
	Endpoints    map[string]*EndpointConfig   `json:"endpoints"`
	Defaults     *DefaultsConfig              `json:"defaults,omitempty"`
}

// LoadFromFile loads a registry from a JSON file.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	return LoadFromJSON(data)
}

// LoadFromJSON loads a registry from JSON data. Both a bare registry object and
// one nested under a "model_registry" key are accepted.
func LoadFromJSON(data []byte) (*Registry, error) {
	var wrapped struct {
		ModelRegistry *RegistryConfig `json:"model_registry"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.ModelRegistry != nil {
		return registryFromConfig(wrapped.ModelRegistry)
	}

	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse registry config: %w", err)
	}
	return registryFromConfig(&cfg)
}

func registryFromConfig(cfg *RegistryConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	caps := make(map[Capability]*CapabilityConfig, len(cfg.Capabilities))
	for k, v := range cfg.Capabilities {
		caps[Capability(k)] = v
	}
	r := NewRegistry(caps, cfg.Endpoints)
	if cfg.Defaults != nil && cfg.Defaults.Model != "" {
		r.defaults = cfg.Defaults
	}
	return r, nil
}

// Validate checks that every capability names a known capability and that
// every model it references has an endpoint.
func (c *RegistryConfig) Validate() error {
	var errs []error
	for name, capCfg := range c.Capabilities {
		if ParseCapability(name) == "" {
			errs = append(errs, fmt.Errorf("unknown capability %q", name))
			continue
		}
		if capCfg == nil {
			errs = append(errs, fmt.Errorf("capability %q has no configuration", name))
			continue
		}
		for _, m := range append(append([]string(nil), capCfg.Preferred...), capCfg.Fallback...) {
			if _, ok := c.Endpoints[m]; !ok {
				errs = append(errs, fmt.Errorf("capability %q references model %q with no endpoint", name, m))
			}
		}
	}
	for name, ep := range c.Endpoints {
		if ep == nil || ep.Provider == "" || ep.Model == "" {
			errs = append(errs, fmt.Errorf("endpoint %q needs provider and model", name))
		}
	}
	return errors.Join(errs...)
}

// ToConfig converts a Registry to a RegistryConfig for serialization.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make(map[string]*CapabilityConfig, len(r.capabilities))
	for k, v := range r.capabilities {
		caps[string(k)] = v
	}
	endpoints := make(map[string]*EndpointConfig, len(r.endpoints))
	for k, v := range r.endpoints {
		endpoints[k] = v
	}
	return &RegistryConfig{
		Capabilities: caps,
		Endpoints:    endpoints,
		Defaults:     r.defaults,
	}
}

// MergeFromConfig overlays cfg onto the registry. Entries in cfg win.
func (r *Registry) MergeFromConfig(cfg *RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range cfg.Capabilities {
		r.capabilities[Capability(k)] = v
	}
	for k, v := range cfg.Endpoints {
		r.endpoints[k] = v
	}
	if cfg.Defaults != nil {
		r.defaults = cfg.Defaults
	}
}

package providers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"walletkit/core/quote"
)

// Config describes one provider entry.
type Config struct {
	Name        string
	Type        string
	Endpoint    string
	FeeBps      int
	NativeProxy string
}

// Registry constructs providers based on configuration.
type Registry struct {
	HTTPClient *http.Client
}

// NewRegistry builds a registry with a traced client.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: NewHTTPClient(10 * time.Second)}
}

// Build creates a provider from the supplied configuration.
func (r *Registry) Build(cfg Config) (quote.Provider, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("provider %q: endpoint required", cfg.Name)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "ston", "stonfi":
		if cfg.NativeProxy == "" {
			return nil, fmt.Errorf("provider %q: native proxy token address required", cfg.Name)
		}
		return NewSton(r.client(), cfg.Name, cfg.Endpoint, cfg.FeeBps, cfg.NativeProxy), nil
	case "dedust":
		return NewDedust(r.client(), cfg.Name, cfg.Endpoint, cfg.FeeBps), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// BuildAll builds every configured provider.
func (r *Registry) BuildAll(cfgs []Config) ([]quote.Provider, error) {
	out := make([]quote.Provider, 0, len(cfgs))
	for _, cfg := range cfgs {
		p, err := r.Build(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Registry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return NewHTTPClient(10 * time.Second)
}

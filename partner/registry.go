package partner

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Get for an unknown partner id
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("partner not found: %s", e.ID)
}

/* Registry holds the partner configuration as an immutable snapshot
 * behind an atomic pointer. The read path (Get, Resolve) is lock-free;
 * Load and Reload serialize on a single writer lock and swap the whole
 * snapshot at once, so readers only ever observe a complete
 * configuration and attempts dispatched before a reload keep the
 * Partner values they captured.
 */
type Registry struct {
	snapshot atomic.Pointer[map[string]Partner]
	writeMu  sync.Mutex
}

// Config represents the structure of partners.yaml
type Config struct {
	Partners []PartnerConfig `yaml:"partners"`
}

// PartnerConfig represents a single partner in the YAML file
type PartnerConfig struct {
	ID                  string  `yaml:"id"`
	Name                string  `yaml:"name"`
	Protocol            string  `yaml:"protocol"`
	Endpoint            string  `yaml:"endpoint"`
	APIKey              string  `yaml:"api_key"`
	SigningSecret       string  `yaml:"signing_secret"`
	MaxConcurrency      int     `yaml:"max_concurrency"`
	Active              *bool   `yaml:"active"` // default true
	BaseIntervalMS      int     `yaml:"base_interval_ms"`
	Multiplier          float64 `yaml:"multiplier"`
	MaxIntervalMS       int     `yaml:"max_interval_ms"`
	MaxRetries          int     `yaml:"max_retries"`
	AmbiguousMaxRetries int     `yaml:"ambiguous_max_retries"`
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]Partner)
	r.snapshot.Store(&empty)
	return r
}

// Load reads and parses the partners file, replacing the current snapshot
func (r *Registry) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading partners file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing partners YAML: %w", err)
	}

	partners := make(map[string]Partner, len(config.Partners))
	for _, pc := range config.Partners {
		p := fromConfig(pc)
		if err := p.Validate(); err != nil {
			return fmt.Errorf("validating partner: %w", err)
		}
		partners[p.ID] = p
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.snapshot.Store(&partners)
	return nil
}

// Reload re-reads the partners file; takes effect for subsequently
// scheduled deliveries only
func (r *Registry) Reload(filePath string) error {
	return r.Load(filePath)
}

// Put inserts or replaces a single partner configuration
func (r *Registry) Put(p Partner) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("validating partner: %w", err)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := *r.snapshot.Load()
	next := make(map[string]Partner, len(current)+1)
	for id, existing := range current {
		next[id] = existing
	}
	next[p.ID] = p
	r.snapshot.Store(&next)
	return nil
}

// Get retrieves a partner snapshot by id
func (r *Registry) Get(id string) (Partner, error) {
	partners := *r.snapshot.Load()
	p, ok := partners[id]
	if !ok {
		return Partner{}, &ErrNotFound{ID: id}
	}
	return p, nil
}

/* Resolve returns the partner set for a distribution request.
 * An empty id list selects every active partner; an explicit list
 * fails on the first unknown id so the caller can report it before
 * any attempt is created.
 */
func (r *Registry) Resolve(ids []string) ([]Partner, error) {
	partners := *r.snapshot.Load()

	if len(ids) == 0 {
		all := make([]Partner, 0, len(partners))
		for _, p := range partners {
			if p.Active {
				all = append(all, p)
			}
		}
		return all, nil
	}

	selected := make([]Partner, 0, len(ids))
	for _, id := range ids {
		p, ok := partners[id]
		if !ok {
			return nil, &ErrNotFound{ID: id}
		}
		selected = append(selected, p)
	}
	return selected, nil
}

// List returns all configured partners
func (r *Registry) List() []Partner {
	partners := *r.snapshot.Load()
	out := make([]Partner, 0, len(partners))
	for _, p := range partners {
		out = append(out, p)
	}
	return out
}

func fromConfig(pc PartnerConfig) Partner {
	active := true
	if pc.Active != nil {
		active = *pc.Active
	}
	maxConcurrency := pc.MaxConcurrency
	if maxConcurrency == 0 {
		maxConcurrency = 1
	}
	baseInterval := time.Duration(pc.BaseIntervalMS) * time.Millisecond
	if baseInterval == 0 {
		baseInterval = time.Second
	}
	multiplier := pc.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}
	maxInterval := time.Duration(pc.MaxIntervalMS) * time.Millisecond
	if maxInterval == 0 {
		maxInterval = 5 * time.Minute
	}
	maxRetries := pc.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	ambiguous := pc.AmbiguousMaxRetries
	if ambiguous == 0 || ambiguous > maxRetries {
		ambiguous = maxRetries / 2
		if ambiguous == 0 {
			ambiguous = 1
		}
	}
	return Partner{
		ID:             pc.ID,
		Name:           pc.Name,
		Protocol:       NewProtocol(pc.Protocol),
		Endpoint:       pc.Endpoint,
		APIKey:         pc.APIKey,
		SigningSecret:  pc.SigningSecret,
		MaxConcurrency: maxConcurrency,
		Active:         active,
		Retry: RetryPolicy{
			BaseInterval:        baseInterval,
			Multiplier:          multiplier,
			MaxInterval:         maxInterval,
			MaxRetries:          maxRetries,
			AmbiguousMaxRetries: ambiguous,
		},
	}
}

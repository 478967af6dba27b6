package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/beachhead/domainspec"
)

// DefaultKeyPrefix is the first segment of every published key.
const DefaultKeyPrefix = "beachhead"

const (
	ProviderRedis  = "redis"
	ProviderConsul = "consul"
	ProviderDryRun = "dryrun"

	DefaultProvider = ProviderRedis
)

// Record is one parsed spec together with the container that serves it.
type Record struct {
	Spec      domainspec.Spec
	Container string
	Host      string
}

// Payload is the JSON value stored under a key.
type Payload struct {
	ID          string    `json:"id"`
	Domain      string    `json:"domain"`
	Scheme      string    `json:"scheme"`
	Host        string    `json:"host"`
	Port        uint16    `json:"port"`
	Container   string    `json:"container"`
	PublishedAt time.Time `json:"published_at"`
}

// Entry is a published key read back from the store.
type Entry struct {
	Key     string  `json:"key"`
	Payload Payload `json:"payload"`
	// TTL is the remaining lifetime. Zero means the key does not expire or
	// the backend does not report it.
	TTL time.Duration `json:"ttl"`
}

// Publisher writes records to a shared store.
type Publisher interface {
	// Publish upserts one key per mapping of rec. A ttl of zero writes keys
	// that never expire.
	Publish(ctx context.Context, rec Record, ttl time.Duration) error
	// Query returns every entry whose key starts with prefix.
	Query(ctx context.Context, prefix string) ([]Entry, error)
}

// HealthChecker is implemented by publishers that can probe their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Key builds the deterministic key for one mapping.
func Key(prefix, domain string, scheme domainspec.Scheme) string {
	if prefix == "" {
		return domain + ":" + string(scheme)
	}
	return prefix + ":" + domain + ":" + string(scheme)
}

// KeyedPayload pairs a key with its payload.
type KeyedPayload struct {
	Key     string
	Payload Payload
}

// Payloads expands rec into one keyed payload per mapping, in mapping order.
func (r Record) Payloads(prefix string, now time.Time) []KeyedPayload {
	out := make([]KeyedPayload, 0, len(r.Spec.Mappings))
	id := r.Spec.ID()
	for _, m := range r.Spec.Mappings {
		out = append(out, KeyedPayload{
			Key: Key(prefix, r.Spec.Domain, m.Scheme),
			Payload: Payload{
				ID:          id,
				Domain:      r.Spec.Domain,
				Scheme:      string(m.Scheme),
				Host:        r.Host,
				Port:        m.Port,
				Container:   r.Container,
				PublishedAt: now.UTC(),
			},
		})
	}
	return out
}

// Encode marshals a payload to its stored form.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload for %s: %w", p.Domain, err)
	}
	return data, nil
}

// Decode parses a stored payload.
func Decode(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decoding payload: %w", err)
	}
	return p, nil
}

// Config holds provider-agnostic publisher configuration.
type Config struct {
	Provider string `mapstructure:"provider" json:"provider"`
	// KeyPrefix is prepended to every key. Defaults to "beachhead".
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
}

// Validate checks that the core configuration is valid.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("publisher: provider is required")
	}
	if strings.ContainsAny(c.KeyPrefix, " \t\r\n*?[]") {
		return fmt.Errorf("publisher: key_prefix %q must not contain whitespace or glob characters", c.KeyPrefix)
	}
	return nil
}

// QueryPrefix returns the prefix matching every key written under c.
func (c *Config) QueryPrefix() string {
	if c.KeyPrefix == "" {
		return ""
	}
	return c.KeyPrefix + ":"
}

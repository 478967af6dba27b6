package publisher

import (
	"sort"
	"sync"

	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/logger"
)

// Factory creates a Publisher from core config and provider-specific config.
type Factory func(cfg Config, providerCfg any, log *logger.Logger) (Publisher, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory registers a publisher backend under name.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Providers lists the registered backend names.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a Publisher for the configured provider.
func New(cfg Config, providerCfg any, log *logger.Logger) (Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.InvalidConfig("publisher", err.Error())
	}
	if log == nil {
		log = logger.Nop()
	}

	l := log.WithComponent("publisher").WithFields(map[string]interface{}{logger.FieldBackend: cfg.Provider})

	factoriesMu.RLock()
	f, ok := factories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, apperrors.UnknownProvider("publisher", cfg.Provider)
	}

	l.Info("initializing publisher", map[string]interface{}{"key_prefix": cfg.KeyPrefix})
	return f(cfg, providerCfg, l)
}

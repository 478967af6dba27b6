package inspector

import (
	"sort"
	"sync"

	apperrors "github.com/kbukum/beachhead/errors"
	"github.com/kbukum/beachhead/logger"
)

// Factory creates an Inspector from core config and provider-specific config.
type Factory func(cfg Config, providerCfg any, log *logger.Logger) (Inspector, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory registers an inspector backend under name.
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

// New creates an Inspector for the configured provider.
func New(cfg Config, providerCfg any, log *logger.Logger) (Inspector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.InvalidConfig("inspector", err.Error())
	}
	if log == nil {
		log = logger.Nop()
	}

	l := log.WithComponent("inspector")

	factoriesMu.RLock()
	f, ok := factories[cfg.Provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, apperrors.UnknownProvider("inspector", cfg.Provider)
	}

	l.Info("initializing inspector", map[string]interface{}{
		logger.FieldBackend: cfg.Provider,
		"env_var":           cfg.EnvVar,
	})
	return f(cfg, providerCfg, l)
}

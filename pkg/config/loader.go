package config

import (
	"fmt"
	"log/slog"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoaderOptions configures a Loader. Path is the TOML file; Watch reloads on
// change and reports through OnChange.
type LoaderOptions struct {
	Path     string
	Watch    bool
	OnChange func(*Config) error
}

// Loader reads wastepro.toml into a validated Config.
type Loader struct {
	koanf    *koanf.Koanf
	options  LoaderOptions
	parser   *toml.TOML
	stopChan chan struct{}
}

// NewLoader builds a Loader. The path defaults to Path() when empty.
func NewLoader(opts LoaderOptions) *Loader {
	if opts.Path == "" {
		opts.Path = Path()
	}
	return &Loader{
		koanf:    koanf.New("."),
		options:  opts,
		parser:   toml.Parser(),
		stopChan: make(chan struct{}),
	}
}

// Load parses the file, expands environment references, applies defaults,
// and validates. With Watch set it also starts the reload watcher.
func (l *Loader) Load() (*Config, error) {
	provider := file.Provider(l.options.Path)

	if err := l.koanf.Load(provider, l.parser); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", l.options.Path, err)
	}

	if err := l.expandEnvVarsInKoanf(); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	cfg, err := l.unmarshalAndProcess()
	if err != nil {
		return nil, err
	}

	if l.options.Watch {
		go l.watch(provider)
	}

	return cfg, nil
}

// Watcher is the koanf provider watch capability.
type Watcher interface {
	Watch(cb func(event interface{}, err error)) error
}

func (l *Loader) watch(provider koanf.Provider) {
	watcher, ok := provider.(Watcher)
	if !ok {
		slog.Warn("config provider does not support watching", "path", l.options.Path)
		return
	}

	err := watcher.Watch(func(event interface{}, err error) {
		select {
		case <-l.stopChan:
			return
		default:
		}

		if err != nil {
			slog.Warn("config watch error", "error", err)
			return
		}

		fresh := koanf.New(".")
		if err := fresh.Load(provider, l.parser); err != nil {
			slog.Warn("config reload failed", "error", err)
			return
		}
		l.koanf = fresh

		if err := l.expandEnvVarsInKoanf(); err != nil {
			slog.Warn("config reload env expansion failed", "error", err)
			return
		}

		newCfg, err := l.unmarshalAndProcess()
		if err != nil {
			slog.Warn("reloaded config rejected", "error", err)
			return
		}

		if l.options.OnChange != nil {
			if err := l.options.OnChange(newCfg); err != nil {
				slog.Warn("config change callback failed", "error", err)
			}
		}
	})
	if err != nil {
		slog.Warn("config watcher stopped", "error", err)
	}
}

func (l *Loader) unmarshalAndProcess() (*Config, error) {
	cfg := &Config{}
	if err := l.koanf.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (l *Loader) expandEnvVarsInKoanf() error {
	expanded, ok := ExpandEnvVarsInData(l.koanf.Raw()).(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected type after env var expansion")
	}

	fresh := koanf.New(".")
	if err := fresh.Load(confmap.Provider(expanded, "."), nil); err != nil {
		return fmt.Errorf("failed to load expanded config: %w", err)
	}
	l.koanf = fresh
	return nil
}

// Stop terminates the watch goroutine.
func (l *Loader) Stop() {
	close(l.stopChan)
}

// LoadFile is the one-call form: load, expand, default, validate.
func LoadFile(path string) (*Config, error) {
	return NewLoader(LoaderOptions{Path: path}).Load()
}

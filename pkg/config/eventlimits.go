package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/socketgate/pkg/middleware"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// EventLimit is one throttle policy as written in the limits file
type EventLimit struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// EventLimits is the per-event throttle file:
//
//	default:
//	  max_attempts: 60
//	  window: 1m
//	events:
//	  case:view:
//	    max_attempts: 30
//	    window: 1m
type EventLimits struct {
	Default *EventLimit            `yaml:"default"`
	Events  map[string]*EventLimit `yaml:"events"`
}

// Validate rejects non-positive limits
func (l *EventLimits) Validate() error {
	if l.Default != nil {
		if err := l.Default.validate("default"); err != nil {
			return err
		}
	}
	for name, limit := range l.Events {
		if limit == nil {
			return fmt.Errorf("event %q has no limits", name)
		}
		if err := limit.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (l *EventLimit) validate(name string) error {
	if l.MaxAttempts <= 0 {
		return fmt.Errorf("%s: max_attempts must be positive", name)
	}
	if l.Window <= 0 {
		return fmt.Errorf("%s: window must be positive", name)
	}
	return nil
}

func (l *EventLimit) rateLimit() *middleware.RateLimitConfig {
	return &middleware.RateLimitConfig{MaxAttempts: l.MaxAttempts, Window: l.Window}
}

// Policies converts the file into throttle policies. A nil default means
// middleware.DefaultEventConfig.
func (l *EventLimits) Policies() (*middleware.RateLimitConfig, map[string]*middleware.RateLimitConfig) {
	var def *middleware.RateLimitConfig
	if l.Default != nil {
		def = l.Default.rateLimit()
	}
	events := make(map[string]*middleware.RateLimitConfig, len(l.Events))
	for name, limit := range l.Events {
		events[name] = limit.rateLimit()
	}
	return def, events
}

// LoadEventLimits reads and validates a limits file
func LoadEventLimits(path string) (*EventLimits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event limits: %w", err)
	}

	var limits EventLimits
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return nil, fmt.Errorf("failed to parse event limits %s: %w", path, err)
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event limits %s: %w", path, err)
	}
	return &limits, nil
}

// WatchEventLimits calls apply with the new limits every time path changes,
// until ctx is done. The parent directory is watched so editors that replace
// the file are picked up. Files that fail to load are logged and skipped;
// the previous limits stay in force.
func WatchEventLimits(ctx context.Context, path string, logger *observability.Logger, apply func(*EventLimits)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	logger = logger.WithField("file", abs)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				limits, err := LoadEventLimits(abs)
				if err != nil {
					logger.WithError(err).Warn("Ignoring event limits change")
					continue
				}
				logger.WithField("events", len(limits.Events)).Info("Reloaded event limits")
				apply(limits)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("Event limits watcher error")
			}
		}
	}()
	return nil
}

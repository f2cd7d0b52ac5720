// Package alerts routes contract violations to delivery channels with
// deduplication and per-contract rate limiting.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/models"
)

// Channel delivers violation events to one destination.
// Implementations embed channels.Base for the optional methods.
type Channel interface {
	Name() string
	SendAlert(ctx context.Context, event models.ContractViolationEvent) error
	ValidateConfig() error
}

// closer is the optional shutdown capability of a channel
type closer interface {
	Close() error
}

// ChannelSet is the lookup table of configured channels by name
type ChannelSet struct {
	channels map[string]Channel
}

// NewChannelSet builds the set; channel names must be unique
func NewChannelSet(chs ...Channel) (*ChannelSet, error) {
	set := &ChannelSet{channels: make(map[string]Channel, len(chs))}
	for _, ch := range chs {
		name := ch.Name()
		if name == "" {
			return nil, fmt.Errorf("channel without name")
		}
		if _, dup := set.channels[name]; dup {
			return nil, fmt.Errorf("duplicate channel %q", name)
		}
		set.channels[name] = ch
	}
	return set, nil
}

// Get returns a channel by name
func (s *ChannelSet) Get(name string) (Channel, bool) {
	ch, ok := s.channels[name]
	return ch, ok
}

// Names returns the configured channel names sorted
func (s *ChannelSet) Names() []string {
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every channel's own configuration and that every channel
// referenced by the routing rules of the given configs exists
func (s *ChannelSet) Validate(cfgs ...config.MonitoringConfig) error {
	var errs []error
	for _, name := range s.Names() {
		if err := s.channels[name].ValidateConfig(); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", name, err))
		}
	}
	for _, cfg := range cfgs {
		for _, name := range cfg.ChannelNames() {
			if _, ok := s.channels[name]; !ok {
				errs = append(errs, fmt.Errorf("routing references unknown channel %q", name))
			}
		}
	}
	return errors.Join(errs...)
}

// Close releases channels that hold resources
func (s *ChannelSet) Close() {
	for _, name := range s.Names() {
		if c, ok := s.channels[name].(closer); ok {
			if err := c.Close(); err != nil {
				log.Printf("Warning: AlertRouter: failed to close channel %s: %v", name, err)
			}
		}
	}
}

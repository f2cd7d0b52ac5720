// Package slack resolves Slack channel names for the Slack alert channel.
package slack

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/slack-go/slack"
)

// ConversationLister is the part of *slack.Client the resolver needs
type ConversationLister interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
}

// ChannelResolver resolves channel names to IDs
type ChannelResolver struct {
	client ConversationLister
	cache  map[string]string // name -> id
	mu     sync.RWMutex
}

// NewChannelResolver creates a new channel resolver
func NewChannelResolver(client ConversationLister) *ChannelResolver {
	return &ChannelResolver{
		client: client,
		cache:  make(map[string]string),
	}
}

// ResolveChannel resolves a channel name or ID to a channel ID.
// Accepts a channel ID (C01234567890) or a name with or without '#'.
func (r *ChannelResolver) ResolveChannel(ctx context.Context, nameOrID string) (string, error) {
	if nameOrID == "" {
		return "", fmt.Errorf("channel name/ID is empty")
	}

	if isChannelID(nameOrID) {
		return nameOrID, nil
	}

	channelName := strings.TrimPrefix(nameOrID, "#")

	r.mu.RLock()
	if id, ok := r.cache[channelName]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	id, err := r.lookupChannel(ctx, channelName)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[channelName] = id
	r.mu.Unlock()

	log.Printf("Slack: resolved channel '%s' to '%s'", channelName, id)
	return id, nil
}

// lookupChannel pages through public, then private channels
func (r *ChannelResolver) lookupChannel(ctx context.Context, name string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("channel '%s' not found: no Slack client", name)
	}

	for _, kind := range []string{"public_channel", "private_channel"} {
		cursor := ""
		for {
			channels, next, err := r.client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				ExcludeArchived: true,
				Limit:           1000,
				Types:           []string{kind},
				Cursor:          cursor,
			})
			if err != nil {
				if kind == "private_channel" {
					log.Printf("Warning: Slack: failed to list private channels: %v", err)
					break
				}
				return "", fmt.Errorf("failed to list public channels: %w", err)
			}
			for _, channel := range channels {
				if channel.Name == name {
					return channel.ID, nil
				}
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}

	return "", fmt.Errorf("channel '%s' not found", name)
}

// ClearCache clears the channel name resolution cache
func (r *ChannelResolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]string)
}

// isChannelID checks if a string looks like a Slack channel ID:
// a leading C followed by upper-case alphanumerics
func isChannelID(s string) bool {
	if len(s) < 9 || len(s) > 15 {
		return false
	}
	if !strings.HasPrefix(s, "C") {
		return false
	}
	for _, c := range s[1:] {
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

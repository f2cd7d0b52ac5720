package slack

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/slack-go/slack"
)

type fakeLister struct {
	mu    sync.Mutex
	pages map[string][][]slack.Channel // type -> pages
	err   map[string]error
	calls int
}

func (f *fakeLister) GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	kind := params.Types[0]
	if err := f.err[kind]; err != nil {
		return nil, "", err
	}
	pages := f.pages[kind]
	idx := 0
	if params.Cursor != "" {
		idx = int(params.Cursor[0] - '0')
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = string(rune('0' + idx + 1))
	}
	return pages[idx], next, nil
}

func channel(id, name string) slack.Channel {
	var c slack.Channel
	c.ID = id
	c.Name = name
	return c
}

func TestIsChannelID(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"C01234567890", true},
		{"C01234567", true},
		{"C0ABC123DEF", true},
		{"C012345678901234", false},
		{"", false},
		{"C1234567", false},
		{"D01234567890", false},
		{"C01234abcdef", false},
		{"#alerts", false},
		{"C0123-4567890", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := isChannelID(tt.input); got != tt.want {
				t.Errorf("isChannelID(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolveChannel_IDAndEmpty(t *testing.T) {
	resolver := NewChannelResolver(nil)
	ctx := context.Background()

	got, err := resolver.ResolveChannel(ctx, "C01234567890")
	if err != nil || got != "C01234567890" {
		t.Errorf("expected ID returned as-is, got %q %v", got, err)
	}
	if _, err := resolver.ResolveChannel(ctx, ""); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestResolveChannel_LooksUpAndCaches(t *testing.T) {
	lister := &fakeLister{pages: map[string][][]slack.Channel{
		"public_channel": {
			{channel("C11111111111", "general")},
			{channel("C22222222222", "data-alerts")},
		},
	}}
	resolver := NewChannelResolver(lister)
	ctx := context.Background()

	for _, input := range []string{"#data-alerts", "data-alerts"} {
		got, err := resolver.ResolveChannel(ctx, input)
		if err != nil {
			t.Fatalf("ResolveChannel(%q) failed: %v", input, err)
		}
		if got != "C22222222222" {
			t.Errorf("ResolveChannel(%q) = %q", input, got)
		}
	}
	if lister.calls != 2 {
		t.Errorf("expected 2 API calls (two pages, then cache), got %d", lister.calls)
	}

	resolver.ClearCache()
	if _, err := resolver.ResolveChannel(ctx, "data-alerts"); err != nil {
		t.Fatalf("ResolveChannel after clear failed: %v", err)
	}
	if lister.calls != 4 {
		t.Errorf("expected lookup after clearing cache, got %d calls", lister.calls)
	}
}

func TestResolveChannel_PrivateAndNotFound(t *testing.T) {
	lister := &fakeLister{pages: map[string][][]slack.Channel{
		"private_channel": {{channel("C33333333333", "dq-oncall")}},
	}}
	resolver := NewChannelResolver(lister)

	got, err := resolver.ResolveChannel(context.Background(), "dq-oncall")
	if err != nil || got != "C33333333333" {
		t.Errorf("expected private channel, got %q %v", got, err)
	}
	if _, err := resolver.ResolveChannel(context.Background(), "missing"); err == nil {
		t.Error("expected not found error")
	}
}

func TestResolveChannel_PublicListError(t *testing.T) {
	lister := &fakeLister{err: map[string]error{"public_channel": errors.New("invalid_auth")}}
	resolver := NewChannelResolver(lister)

	if _, err := resolver.ResolveChannel(context.Background(), "alerts"); err == nil {
		t.Error("expected error when public channels cannot be listed")
	}
}

func TestResolveChannel_ConcurrentCacheAccess(t *testing.T) {
	resolver := NewChannelResolver(nil)
	resolver.cache["alerts"] = "C01234567890"

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = resolver.ResolveChannel(context.Background(), "#alerts")
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		resolver.ClearCache()
	}()
	wg.Wait()
}

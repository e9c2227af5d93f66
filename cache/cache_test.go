package cache

import (
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetGet(t *testing.T) {
	c := newTestCache(t)

	key := GenerateKey("openai", "gpt-4o-mini", "prompt", "hello world")
	entry := &Entry{
		Text:      "Hello, world.",
		Usage:     Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		CreatedAt: time.Now(),
	}
	if err := c.Set(key, entry, DefaultTTL); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("Get: entry not found")
	}
	if got.Text != entry.Text {
		t.Errorf("Text = %q, want %q", got.Text, entry.Text)
	}
	if got.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", got.Usage.TotalTokens)
	}
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t)
	if _, ok := c.Get(GenerateKey("nope")); ok {
		t.Fatal("Get on empty cache reported a hit")
	}
}

func TestGenerateKeyDistinguishesParts(t *testing.T) {
	// Joining must not let part boundaries collide.
	a := GenerateKey("ab", "c")
	b := GenerateKey("a", "bc")
	if a == b {
		t.Fatal("GenerateKey collided across different part boundaries")
	}
	if a != GenerateKey("ab", "c") {
		t.Fatal("GenerateKey not stable")
	}
}

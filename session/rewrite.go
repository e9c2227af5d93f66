package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.nanao.dev/voicekey/cache"
	"go.nanao.dev/voicekey/llm"
)

// DefaultRewritePrompt is used when the provider has no custom prompt.
const DefaultRewritePrompt = "You are a dictation post-processor. Fix punctuation, " +
	"capitalization, and obvious transcription errors in the user's text. " +
	"Preserve the meaning and wording as much as possible. " +
	"Reply with the corrected text only, no commentary."

// CachedRewriter runs transcripts through an LLM completer, caching
// results keyed by prompt, model, and input text.
type CachedRewriter struct {
	completer llm.Completer
	cache     *cache.Cache // nil disables caching
	model     string
	prompt    string
}

// NewCachedRewriter creates a rewriter. A nil cache disables caching.
func NewCachedRewriter(completer llm.Completer, c *cache.Cache, model, prompt string) *CachedRewriter {
	if prompt == "" {
		prompt = DefaultRewritePrompt
	}
	return &CachedRewriter{completer: completer, cache: c, model: model, prompt: prompt}
}

// Rewrite returns the post-processed transcript. Cached results are
// returned without a network call.
func (r *CachedRewriter) Rewrite(ctx context.Context, text string) (string, error) {
	key := cache.GenerateKey(r.prompt, r.model, text)

	if r.cache != nil {
		if entry, ok := r.cache.Get(key); ok {
			return entry.Text, nil
		}
	}

	msgs := []llm.Message{
		{Role: "system", Content: r.prompt},
		{Role: "user", Content: text},
	}
	out, usage, err := r.completer.Complete(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("rewrite: %w", err)
	}

	if r.cache != nil {
		entry := &cache.Entry{
			Text:      out,
			CreatedAt: time.Now(),
			Usage: cache.Usage{
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
				TotalTokens:      usage.TotalTokens,
			},
		}
		if err := r.cache.Set(key, entry, cache.DefaultTTL); err != nil {
			slog.Warn("cache rewrite result", "error", err)
		}
	}
	return out, nil
}

package ai

import (
	"context"
	"fmt"
	"strings"
)

// Image is an inline image attached to a vision request.
type Image struct {
	MediaType string
	Data      []byte
}

// Request is one structured-generation call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Images      []Image
	Schema      map[string]any
	Temperature float64
	MaxTokens   int
}

// Response is the raw text a provider returned, expected to be JSON.
type Response struct {
	Text  string
	Usage *TokenUsage
}

// Provider performs a single generation call against one vendor.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ProviderType identifies a model vendor.
type ProviderType string

const (
	ProviderClaude ProviderType = "claude"
	ProviderGemini ProviderType = "gemini"
)

// DetectProvider determines the vendor from a model name. Models may be
// written bare ("claude-sonnet-4-5") or prefixed ("anthropic/claude-...",
// "google/gemini-..."). Unknown names fall back to Gemini.
func DetectProvider(model string) ProviderType {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "claude/"), strings.HasPrefix(m, "anthropic/"), strings.HasPrefix(m, "claude-"):
		return ProviderClaude
	case strings.HasPrefix(m, "gemini/"), strings.HasPrefix(m, "google/"), strings.HasPrefix(m, "gemini-"):
		return ProviderGemini
	}
	return ProviderGemini
}

// NormalizeModel strips a vendor prefix so the name can be sent to the API.
func NormalizeModel(model string) string {
	m := strings.TrimSpace(model)
	for _, prefix := range []string{"claude/", "anthropic/", "gemini/", "google/"} {
		if len(m) > len(prefix) && strings.EqualFold(m[:len(prefix)], prefix) {
			return m[len(prefix):]
		}
	}
	return m
}

// Router dispatches each request to the provider owning its model.
type Router struct {
	providers map[ProviderType]Provider
}

// NewRouter builds a Router. Nil providers are skipped, so a deployment
// with only one API key still routes the models it can serve.
func NewRouter(claude, gemini Provider) *Router {
	r := &Router{providers: make(map[ProviderType]Provider)}
	if claude != nil {
		r.providers[ProviderClaude] = claude
	}
	if gemini != nil {
		r.providers[ProviderGemini] = gemini
	}
	return r
}

func (r *Router) Name() string { return "router" }

// Generate sends req to the provider selected by req.Model.
func (r *Router) Generate(ctx context.Context, req Request) (*Response, error) {
	typ := DetectProvider(req.Model)
	p, ok := r.providers[typ]
	if !ok {
		return nil, &Error{Code: CodeAuthError, Message: fmt.Sprintf("no %s provider configured for model %q", typ, req.Model)}
	}
	req.Model = NormalizeModel(req.Model)
	return p.Generate(ctx, req)
}

// stripCodeFence removes a markdown ```json fence some models wrap output in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

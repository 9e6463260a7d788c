package strategy

import (
	"fmt"

	"github.com/jdziat/recipe-enricher/pkg/video"
)

// Registry maps platforms to strategies. Build one at startup and pass it
// to whatever needs it.
type Registry struct {
	strategies map[Platform]Strategy
	generic    Strategy
}

// NewRegistry creates a registry. generic serves every unmatched host.
func NewRegistry(generic Strategy, strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[Platform]Strategy, len(strategies)), generic: generic}
	for _, s := range strategies {
		if _, dup := r.strategies[s.Platform()]; dup {
			panic(fmt.Sprintf("strategy: %s registered twice", s.Platform()))
		}
		r.strategies[s.Platform()] = s
	}
	return r
}

// Select returns the strategy for rawURL.
func (r *Registry) Select(rawURL string) (Strategy, error) {
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if s, ok := r.strategies[DetectPlatform(u.Hostname())]; ok {
		return s, nil
	}
	return r.generic, nil
}

// Sources are the video adapters a default registry is assembled from.
type Sources struct {
	// YouTube serves youtube links; typically a kkdai client chained to yt-dlp.
	YouTube video.Source
	// Social serves instagram, facebook and tiktok.
	Social video.Source
	// Generic serves everything else.
	Generic video.Source
	// Auth holds per-platform login tokens for gated hosts.
	Auth map[Platform]*video.AuthTokens
}

// Default assembles the standard registry.
func Default(deps Deps, src Sources) *Registry {
	return NewRegistry(
		NewGeneric(src.Generic, deps),
		NewYouTube(src.YouTube, deps),
		NewInstagram(src.Social, src.Auth[PlatformInstagram], deps),
		NewFacebook(src.Social, src.Auth[PlatformFacebook], deps),
		NewTikTok(src.Social, src.Auth[PlatformTikTok], deps),
	)
}

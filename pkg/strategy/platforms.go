package strategy

import "github.com/jdziat/recipe-enricher/pkg/video"

// SocialConfig describes a short-form host. Instagram, Facebook and TikTok
// all run the shared pipeline with their own source and login tokens.
type SocialConfig struct {
	Platform Platform
	Source   video.Source
	Auth     *video.AuthTokens
}

// NewSocial builds the strategy for a short-form host.
func NewSocial(cfg SocialConfig, deps Deps) Strategy {
	return &pipeline{platform: cfg.Platform, source: cfg.Source, auth: cfg.Auth, deps: deps}
}

func instagramConfig(src video.Source, auth *video.AuthTokens) SocialConfig {
	return SocialConfig{Platform: PlatformInstagram, Source: src, Auth: auth}
}

// NewInstagram builds the Instagram strategy.
func NewInstagram(src video.Source, auth *video.AuthTokens, deps Deps) Strategy {
	return NewSocial(instagramConfig(src, auth), deps)
}

// NewFacebook builds the Facebook strategy. Facebook reels and posts are
// handled exactly like Instagram's.
func NewFacebook(src video.Source, auth *video.AuthTokens, deps Deps) Strategy {
	cfg := instagramConfig(src, auth)
	cfg.Platform = PlatformFacebook
	return NewSocial(cfg, deps)
}

// NewTikTok builds the TikTok strategy.
func NewTikTok(src video.Source, auth *video.AuthTokens, deps Deps) Strategy {
	return NewSocial(SocialConfig{Platform: PlatformTikTok, Source: src, Auth: auth}, deps)
}

// NewYouTube builds the YouTube strategy.
func NewYouTube(src video.Source, deps Deps) Strategy {
	return &pipeline{platform: PlatformYouTube, source: src, deps: deps}
}

// NewGeneric builds the fallback strategy for unrecognised hosts.
func NewGeneric(src video.Source, deps Deps) Strategy {
	return &pipeline{platform: PlatformGeneric, source: src, deps: deps}
}

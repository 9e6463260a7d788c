package strategy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned for URLs that are not absolute http(s) links.
var ErrInvalidURL = errors.New("strategy: invalid url")

// Platform identifies a content host family.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformTikTok    Platform = "tiktok"
	PlatformGeneric   Platform = "generic"
)

var platformDomains = map[Platform][]string{
	PlatformYouTube:   {"youtube.com", "youtu.be", "youtube-nocookie.com"},
	PlatformInstagram: {"instagram.com", "instagr.am"},
	PlatformFacebook:  {"facebook.com", "fb.watch", "fb.com"},
	PlatformTikTok:    {"tiktok.com"},
}

// DetectPlatform maps a hostname to its platform. Subdomains match their
// parent domain; anything unknown is generic.
func DetectPlatform(host string) Platform {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	for platform, domains := range platformDomains {
		for _, d := range domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return platform
			}
		}
	}
	return PlatformGeneric
}

// ParseURL validates a user-supplied link.
func ParseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// IsVideoHost reports whether raw points at a known video platform.
func IsVideoHost(raw string) bool {
	u, err := ParseURL(raw)
	if err != nil {
		return false
	}
	return DetectPlatform(u.Hostname()) != PlatformGeneric
}

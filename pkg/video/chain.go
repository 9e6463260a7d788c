package video

import (
	"context"
	"errors"
)

// chain tries each source in order until one succeeds.
type chain []Source

// Chain returns a Source that falls back through sources in order. Errors
// that describe the post itself (unavailable, unsupported, no captions) stop
// the chain, since another tool would see the same post.
func Chain(sources ...Source) Source {
	if len(sources) == 1 {
		return sources[0]
	}
	return chain(sources)
}

func final(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrUnsupportedPlatform) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c chain) GetMetadata(ctx context.Context, url string, auth *AuthTokens) (*Metadata, error) {
	var errs []error
	for _, s := range c {
		meta, err := s.GetMetadata(ctx, url, auth)
		if err == nil {
			return meta, nil
		}
		errs = append(errs, err)
		if final(err) {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (c chain) download(ctx context.Context, fn func(Source) (string, error)) (string, error) {
	var errs []error
	for _, s := range c {
		path, err := fn(s)
		if err == nil {
			return path, nil
		}
		errs = append(errs, err)
		if final(err) || errors.Is(err, ErrNoCaptions) {
			break
		}
	}
	return "", errors.Join(errs...)
}

func (c chain) DownloadCaptions(ctx context.Context, url, dir string) (string, error) {
	return c.download(ctx, func(s Source) (string, error) { return s.DownloadCaptions(ctx, url, dir) })
}

func (c chain) DownloadAudio(ctx context.Context, url, dir string) (string, error) {
	return c.download(ctx, func(s Source) (string, error) { return s.DownloadAudio(ctx, url, dir) })
}

func (c chain) DownloadVideo(ctx context.Context, url, dir string) (string, error) {
	return c.download(ctx, func(s Source) (string, error) { return s.DownloadVideo(ctx, url, dir) })
}

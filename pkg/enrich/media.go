package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxMediaBytes = 500 << 20

// LocalMediaStore keeps media under root/<recipeID>/ and returns paths
// relative to root.
type LocalMediaStore struct {
	root   string
	client *http.Client
}

// NewLocalMediaStore creates the root directory if needed. A nil client gets
// a 60s timeout.
func NewLocalMediaStore(root string, client *http.Client) (*LocalMediaStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("media: create root: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &LocalMediaStore{root: root, client: client}, nil
}

// Root returns the storage directory.
func (s *LocalMediaStore) Root() string { return s.root }

// SaveImage downloads sourceURL as the recipe's image.
func (s *LocalMediaStore) SaveImage(ctx context.Context, recipeID, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("media: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("media: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media: download image: status %d", resp.StatusCode)
	}

	ext := imageExt(resp.Header.Get("Content-Type"), sourceURL)
	return s.write(recipeID, "image"+ext, resp.Body)
}

// SaveVideo copies a downloaded video into the store.
func (s *LocalMediaStore) SaveVideo(ctx context.Context, recipeID, localPath string) (string, error) {
	return s.copy(recipeID, "video", localPath)
}

// SaveUpload copies an uploaded photo into the store.
func (s *LocalMediaStore) SaveUpload(ctx context.Context, recipeID, localPath string) (string, error) {
	return s.copy(recipeID, "image", localPath)
}

// Remove deletes everything stored for a recipe.
func (s *LocalMediaStore) Remove(ctx context.Context, recipeID string) error {
	if !safeRecipeID(recipeID) {
		return fmt.Errorf("media: invalid recipe id %q", recipeID)
	}
	if err := os.RemoveAll(filepath.Join(s.root, recipeID)); err != nil {
		return fmt.Errorf("media: %w", err)
	}
	return nil
}

func safeRecipeID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}

func (s *LocalMediaStore) copy(recipeID, base, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("media: %w", err)
	}
	defer f.Close()
	return s.write(recipeID, base+strings.ToLower(filepath.Ext(localPath)), f)
}

// write streams r to root/recipeID/name through a temp file, so readers
// never see a partial file.
func (s *LocalMediaStore) write(recipeID, name string, r io.Reader) (string, error) {
	if !safeRecipeID(recipeID) {
		return "", fmt.Errorf("media: invalid recipe id %q", recipeID)
	}
	dir := filepath.Join(s.root, recipeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("media: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("media: %w", err)
	}
	n, err := io.Copy(tmp, io.LimitReader(r, maxMediaBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > maxMediaBytes {
		err = errors.New("file too large")
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("media: write %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("media: %w", err)
	}
	return filepath.ToSlash(filepath.Join(recipeID, name)), nil
}

func imageExt(contentType, sourceURL string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "image/png":
			return ".png"
		case "image/webp":
			return ".webp"
		case "image/gif":
			return ".gif"
		case "image/jpeg":
			return ".jpg"
		}
	}
	path := sourceURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png", ".webp", ".gif", ".jpg", ".jpeg":
		return ext
	}
	return ".jpg"
}

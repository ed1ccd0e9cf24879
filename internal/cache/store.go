package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store persists the cache of one target language.
type Store interface {
	Load(ctx context.Context, lang string) (map[string]string, error)
	Save(ctx context.Context, lang string, entries map[string]string) error
}

// FileStore keeps one JSON object per language at <dir>/.translate_cache_<lang>.json.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Path(lang string) string {
	return filepath.Join(s.dir, ".translate_cache_"+fileSafe(lang)+".json")
}

func (s *FileStore) Load(ctx context.Context, lang string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(lang))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	ret := make(map[string]string)
	if len(strings.TrimSpace(string(data))) == 0 {
		return ret, nil
	}
	if err := json.Unmarshal(data, &ret); err != nil {
		return nil, fmt.Errorf("decode cache file %s: %w", s.Path(lang), err)
	}
	return ret, nil
}

func (s *FileStore) Save(ctx context.Context, lang string, entries map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entries == nil {
		entries = map[string]string{}
	}

	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	path := s.Path(lang)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write cache temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

func fileSafe(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return "und"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, lang)
}

// Package output keeps translated documents on disk so they can be listed,
// downloaded and used as the base of incremental runs.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"github.com/fabio-bix/json-transcribe/pkg/file"
	"golang.org/x/text/language"
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrNotFound    = errors.New("file not found")
)

const DefaultPattern = "*.json"

type File struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Language string    `json:"language,omitempty"`
}

// Store is a flat directory of JSON documents.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Path resolves name inside the store. ".json" is appended when missing.
func (s *Store) Path(name string) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, clean), nil
}

// Save writes doc as indented JSON and replaces any file of the same name.
func (s *Store) Save(name string, doc *tree.Node) (File, error) {
	path, err := s.Path(name)
	if err != nil {
		return File{}, err
	}
	data, err := tree.MarshalIndent(doc)
	if err != nil {
		return File{}, fmt.Errorf("encode %s: %w", name, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return File{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return File{}, fmt.Errorf("write %s: %w", name, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	return fileFrom(info), nil
}

// List returns the files matching pattern, newest first. An empty pattern
// lists every JSON file.
func (s *Store) List(pattern string) ([]File, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	ret := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		matched, err := doublestar.Match(pattern, entry.Name())
		if err != nil || !matched {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		ret = append(ret, fileFrom(info))
	}

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Modified.Equal(ret[j].Modified) {
			return ret[i].Name < ret[j].Name
		}
		return ret[i].Modified.After(ret[j].Modified)
	})
	return ret, nil
}

func (s *Store) Stat(name string) (File, error) {
	path, err := s.Path(name)
	if err != nil {
		return File{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return File{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return File{}, err
	}
	return fileFrom(info), nil
}

// Read parses a stored document.
func (s *Store) Read(name string) (*tree.Node, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	doc, err := tree.ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return doc, nil
}

func (s *Store) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return err
	}
	return nil
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".json") {
		name += ".json"
	}
	return name, nil
}

// FileName builds the conventional output name, "en.json" + "es" -> "en_es.json".
func FileName(input, lang string) string {
	base := filepath.Base(input)
	if base == "." || base == string(filepath.Separator) {
		base = "translation"
	}
	return file.ReplaceExt(file.WithSuffix(base, "_"+lang), ".json")
}

var langSuffixRe = regexp.MustCompile(`_([A-Za-z]{2,3}(?:[-_][A-Za-z0-9]{2,8})?)\.json$`)

// LanguageOf reads the language code from a "<name>_<lang>.json" file name.
func LanguageOf(name string) string {
	m := langSuffixRe.FindStringSubmatch(name)
	if m == nil {
		return ""
	}
	tag, err := language.Parse(strings.ReplaceAll(m[1], "_", "-"))
	if err != nil {
		return ""
	}
	return tag.String()
}

func fileFrom(info os.FileInfo) File {
	return File{
		Name:     info.Name(),
		Size:     info.Size(),
		Modified: info.ModTime(),
		Language: LanguageOf(info.Name()),
	}
}

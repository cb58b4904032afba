package store

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// FileSystem implements the store interface on top of a directory in the
// local file system. The keys are used as file names, so keys must not
// contain a forward slash, whitespace, or control characters.
//
// Writes go to a scratch subdirectory first and are renamed into place, so
// readers never observe a partially written value.
type FileSystem struct {
	root string
}

const (
	// the subdir files are written into before being moved into place
	scratchdir = "scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}

	// ErrKeyContainsSlash means the key provided contains a forward slash '/'
	ErrKeyContainsSlash = errors.New("key contains forward slash")

	// ErrKeyContainsNonUnicode means the key provided contains a non-unicode rune
	ErrKeyContainsNonUnicode = errors.New("key contains non-unicode character")

	// ErrKeyContainsWhiteSpace means the key provided contains whitespace
	ErrKeyContainsWhiteSpace = errors.New("key contains whitespace")

	// ErrKeyContainsControlChar means the key provided contains control characters
	ErrKeyContainsControlChar = errors.New("key contains control characters")
)

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	os.MkdirAll(filepath.Join(root, scratchdir), 0755)
	return &FileSystem{root: root}
}

func checkKey(key string) error {
	if !utf8.ValidString(key) {
		return ErrKeyContainsNonUnicode
	}
	if strings.ContainsRune(key, '/') {
		return ErrKeyContainsSlash
	}
	for _, r := range key {
		if unicode.IsSpace(r) {
			return ErrKeyContainsWhiteSpace
		}
		if unicode.IsControl(r) {
			return ErrKeyContainsControlChar
		}
	}
	return nil
}

// Get returns the contents of the file named by key.
func (s *FileSystem) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := ioutil.ReadFile(filepath.Join(s.root, key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

// Put writes data into the scratch directory and then renames it into place.
func (s *FileSystem) Put(ctx context.Context, key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	target := filepath.Join(s.root, key)
	if _, err := os.Stat(target); err == nil {
		return ErrKeyExists
	}
	scratch := filepath.Join(s.root, scratchdir, key)
	if err := ioutil.WriteFile(scratch, data, 0644); err != nil {
		return errors.Wrap(err, "filesystem store put")
	}
	return os.Rename(scratch, target)
}

// Delete removes the file named by key, if it exists.
func (s *FileSystem) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListPrefix returns all the keys beginning with prefix.
func (s *FileSystem) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	entries, err := ioutil.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		if strings.HasPrefix(fi.Name(), prefix) {
			result = append(result, fi.Name())
		}
	}
	return result, nil
}

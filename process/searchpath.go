package process

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"git.sr.ht/~mango/osh/errors"
	"golang.org/x/sys/unix"
)

// LookupError is returned when a command cannot be run.  Its status is 127
// when nothing was found and 126 when only unexecutable files were.
type LookupError struct {
	Name   string
	Status int
}

func (err *LookupError) Error() string {
	if err.Status == errors.CodeNotExecutable {
		return "‘" + err.Name + "’: Permission denied"
	}
	return "‘" + err.Name + "’ not found"
}

func (err *LookupError) Code() int {
	return err.Status
}

// SearchPath resolves command names with $PATH and remembers the results,
// which ‘hash’ lists and resets.
type SearchPath struct {
	mu    sync.Mutex
	cache map[string]string
}

func NewSearchPath() *SearchPath {
	return &SearchPath{cache: make(map[string]string)}
}

func executable(path string) (found, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		return false, false
	}
	if info.IsDir() {
		return true, false
	}
	return true, unix.Access(path, unix.X_OK) == nil
}

// Lookup returns the absolute path of the program name refers to.  Names
// containing a slash are taken relative to dir; others are searched for in
// path, where an empty entry also means dir.
func (sp *SearchPath) Lookup(name, path, dir string) (string, error) {
	if strings.ContainsRune(name, '/') {
		full := name
		if !filepath.IsAbs(full) {
			full = filepath.Join(dir, full)
		}
		switch found, ok := executable(full); {
		case ok:
			return full, nil
		case found:
			return "", &LookupError{name, errors.CodeNotExecutable}
		}
		return "", &LookupError{name, errors.CodeNotFound}
	}

	sp.mu.Lock()
	cached, ok := sp.cache[name]
	sp.mu.Unlock()
	if ok {
		return cached, nil
	}

	status := errors.CodeNotFound
	for _, d := range filepath.SplitList(path) {
		if d == "" || d == "." {
			d = dir
		} else if !filepath.IsAbs(d) {
			d = filepath.Join(dir, d)
		}
		full := filepath.Join(d, name)
		found, ok := executable(full)
		if ok {
			sp.mu.Lock()
			sp.cache[name] = full
			sp.mu.Unlock()
			return full, nil
		}
		if found {
			status = errors.CodeNotExecutable
		}
	}
	return "", &LookupError{name, status}
}

// Remember resolves and caches name, for ‘hash name’.
func (sp *SearchPath) Remember(name, path, dir string) error {
	sp.Forget(name)
	_, err := sp.Lookup(name, path, dir)
	return err
}

func (sp *SearchPath) Forget(name string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	delete(sp.cache, name)
}

// Reset empties the cache, as ‘hash -r’ does and assigning PATH must.
func (sp *SearchPath) Reset() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	clear(sp.cache)
}

// Remembered returns the cached names in order with their paths.
func (sp *SearchPath) Remembered() ([]string, map[string]string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	names := make([]string, 0, len(sp.cache))
	for name := range sp.cache {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, maps.Clone(sp.cache)
}

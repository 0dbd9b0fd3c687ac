// Package session persists the crawling session between runs and decides
// whether a stored session is still usable.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"vic_tracker/internal/browser"
)

const (
	CookiesFile = "cookies.json"
	StorageFile = "storage.json"
)

// ErrMissingSessionCookie is returned when an imported cookie set has no
// session token.
var ErrMissingSessionCookie = eris.New("cookie set has no " + SessionCookie + " cookie")

type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Origin struct {
	Origin       string      `json:"origin"`
	LocalStorage []NameValue `json:"localStorage"`
}

// StorageState is the full browser storage snapshot.
type StorageState struct {
	Cookies []browser.Cookie `json:"cookies"`
	Origins []Origin         `json:"origins"`
}

// Bundle is everything needed to resume a session.
type Bundle struct {
	Cookies []browser.Cookie
	Storage StorageState
	SavedAt time.Time
}

// Store keeps the session snapshot as two JSON files in one directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) cookiesPath() string { return filepath.Join(s.dir, CookiesFile) }
func (s *Store) storagePath() string { return filepath.Join(s.dir, StorageFile) }

// HasStoredSession is true only when both snapshot files exist.
func (s *Store) HasStoredSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fileExists(s.cookiesPath()) && fileExists(s.storagePath())
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// Load returns the stored bundle, or nil when none is stored.
func (s *Store) Load() (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*Bundle, error) {
	if !fileExists(s.cookiesPath()) || !fileExists(s.storagePath()) {
		return nil, nil
	}

	b := &Bundle{}
	if err := readJSON(s.cookiesPath(), &b.Cookies); err != nil {
		return nil, err
	}
	if err := readJSON(s.storagePath(), &b.Storage); err != nil {
		return nil, err
	}
	if st, err := os.Stat(s.cookiesPath()); err == nil {
		b.SavedAt = st.ModTime()
	}
	return b, nil
}

// Save writes both snapshot files. Each file is replaced atomically.
func (s *Store) Save(b Bundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(b)
}

func (s *Store) save(b Bundle) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return eris.Wrapf(err, "create session dir %s", s.dir)
	}
	if b.Cookies == nil {
		b.Cookies = []browser.Cookie{}
	}
	if b.Storage.Origins == nil {
		b.Storage.Origins = []Origin{}
	}
	b.Storage.Cookies = b.Cookies

	if err := writeJSONAtomic(s.cookiesPath(), b.Cookies); err != nil {
		return err
	}
	return writeJSONAtomic(s.storagePath(), b.Storage)
}

// SaveCookies replaces the stored cookies and keeps stored origins.
func (s *Store) SaveCookies(cookies []browser.Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := Bundle{Cookies: cookies}
	if prev, err := s.load(); err == nil && prev != nil {
		b.Storage.Origins = prev.Storage.Origins
	}
	return s.save(b)
}

// Replace installs a manually exported cookie set. It must carry the
// session token.
func (s *Store) Replace(cookies []browser.Cookie) error {
	found := false
	for _, c := range cookies {
		if c.Name == SessionCookie && c.Value != "" {
			found = true
			break
		}
	}
	if !found {
		return ErrMissingSessionCookie
	}
	return s.SaveCookies(cookies)
}

// Health computes the stored session's health at now.
func (s *Store) Health(now time.Time) (Health, error) {
	b, err := s.Load()
	if err != nil {
		return Health{}, err
	}
	return ComputeHealth(b, now), nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "decode %s", path)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "encode %s", path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "create temp for %s", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "close %s", tmpName)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return eris.Wrapf(err, "chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrapf(err, "rename %s", tmpName)
	}
	return nil
}

// ParseCookies reads a cookie export: either a bare JSON array of cookies or
// a storage-state object with a cookies field.
func ParseCookies(data []byte) ([]browser.Cookie, error) {
	var list []browser.Cookie
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var state StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, eris.Wrap(err, "parse cookie export")
	}
	if len(state.Cookies) == 0 {
		return nil, eris.New("cookie export has no cookies")
	}
	return state.Cookies, nil
}

// Package location implements path/URL resolution and an alias/source
// registry with a directory-listing cache, the lookup layer that sits in
// front of scifio's source handles.
package location

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/RayPlante/scifio/source"
)

// Kind distinguishes a local filesystem Location from a URL Location.
type Kind int

const (
	KindFile Kind = iota
	KindURL
)

// Location is a resolved reference to a file or URL.
type Location struct {
	Kind         Kind
	Path         string // canonical absolute path, or the URL string
	IsDir        bool
	Length       int64
	LastModified time.Time
}

// Equal reports whether two Locations refer to the same absolute path.
func (l Location) Equal(other Location) bool { return l.Path == other.Path }

func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// Resolve builds a Location for path, stat-ing local files or HEAD-ing URLs.
func Resolve(path string) (Location, error) {
	if isURL(path) {
		loc := Location{Kind: KindURL, Path: path}
		resp, err := http.Head(path)
		if err == nil {
			defer resp.Body.Close()
			loc.Length = resp.ContentLength
			if lm := resp.Header.Get("Last-Modified"); lm != "" {
				if t, err := http.ParseTime(lm); err == nil {
					loc.LastModified = t
				}
			}
		}
		return loc, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Location{}, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return Location{}, err
	}
	return Location{
		Kind:         KindFile,
		Path:         abs,
		IsDir:        fi.IsDir(),
		Length:       fi.Size(),
		LastModified: fi.ModTime(),
	}, nil
}

// DefaultListingCacheSize bounds the directory-listing LRU cache: entries
// are otherwise invalidated only explicitly, so an LRU eviction policy with
// a generous size is a safety net against unbounded growth across a
// long-running process.
const DefaultListingCacheSize = 4096

type listKey struct {
	path          string
	includeHidden bool
}

// Registry holds an alias map, an in-memory source map, and a
// directory-listing cache, all protected by a single mutex.
type Registry struct {
	mu      sync.Mutex
	aliases map[string]string
	sources map[string]source.Handle
	listing *lru.Cache[listKey, []string]
	client  *http.Client
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	c, _ := lru.New[listKey, []string](DefaultListingCacheSize)
	return &Registry{
		aliases: make(map[string]string),
		sources: make(map[string]source.Handle),
		listing: c,
	}
}

// SetHTTPClient overrides the client used for URL directory listings.
func (r *Registry) SetHTTPClient(c *http.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.client = c
}

// MapAlias registers alias -> canonical, a rename/redirect entry.
func (r *Registry) MapAlias(alias, canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = canonical
}

// GetMappedID returns the alias target if registered, else path unchanged.
func (r *Registry) GetMappedID(path string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if canonical, ok := r.aliases[path]; ok {
		return canonical
	}
	return path
}

// MapSource registers an in-memory source to be served for path, for
// feeding synthetic data (e.g. in tests).
func (r *Registry) MapSource(path string, h source.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[path] = h
}

// GetMappedSource returns the in-memory source registered for path, or nil.
func (r *Registry) GetMappedSource(path string) source.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[path]
}

// List enumerates the children of path: local directories are listed via
// os.ReadDir (excluding dot-entries unless includeHidden), URLs via the
// HTML directory-index convention common to static file servers (scanning
// <a href="..."> entries). Results are cached under (path, includeHidden).
func (r *Registry) List(path string, includeHidden bool) ([]string, error) {
	key := listKey{path: path, includeHidden: includeHidden}

	r.mu.Lock()
	if names, ok := r.listing.Get(key); ok {
		r.mu.Unlock()
		return names, nil
	}
	client := r.client
	r.mu.Unlock()

	var names []string
	var err error
	if isURL(path) {
		names, err = source.ListURLDirectory(client, path)
	} else {
		names, err = listLocalDir(path, includeHidden)
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.listing.Add(key, names)
	r.mu.Unlock()
	return names, nil
}

func listLocalDir(path string, includeHidden bool) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !includeHidden && strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate drops every cached listing for path (both includeHidden
// variants), a scoped alternative to clearing the whole registry.
func (r *Registry) Invalidate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listing.Remove(listKey{path: path, includeHidden: true})
	r.listing.Remove(listKey{path: path, includeHidden: false})
}

// Clear resets the registry to empty, for process teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases = make(map[string]string)
	r.sources = make(map[string]source.Handle)
	r.listing.Purge()
}

var (
	defaultOnce     sync.Once
	defaultInstance *Registry
)

// Default returns the process-wide singleton registry, lazily constructed.
// Prefer a dependency-injected Registry in tests; Default exists for
// callers who want the process-global behavior.
func Default() *Registry {
	defaultOnce.Do(func() { defaultInstance = NewRegistry() })
	return defaultInstance
}

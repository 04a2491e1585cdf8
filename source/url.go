package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"

	"github.com/pkg/errors"
)

// DefaultSlidingWindowSize is the amount of data fetched per range request
// beyond what was strictly asked for, amortizing many small sequential
// reads into fewer round trips.
const DefaultSlidingWindowSize = 64 * 1024

// URLHandle is a read-only SourceHandle backed by an HTTP(S) URL: a bounded
// redirect-following client plus Range-request random access over a sliding
// buffer window.
type URLHandle struct {
	mu       sync.Mutex
	client   *http.Client
	url      string
	length   int64
	haveLen  bool
	pos      int64
	order    binary.ByteOrder
	window   []byte
	winStart int64
	closed   bool
}

// NewURLHandle constructs a URLHandle. If client is nil, a client bounding
// redirects to 10 hops is used.
func NewURLHandle(url string, client *http.Client, order binary.ByteOrder) (*URLHandle, error) {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errors.New("source: stopped after 10 redirects")
				}
				return nil
			},
		}
	}
	h := &URLHandle{client: client, url: url, order: order}
	if err := h.probeLength(); err != nil {
		return nil, err
	}
	return h, nil
}

func (u *URLHandle) probeLength() error {
	resp, err := u.client.Head(u.url)
	if err != nil {
		// Some servers don't support HEAD; length stays 0 (Length returns
		// the HTTP Content-Length, or 0 if unavailable).
		return nil
	}
	defer resp.Body.Close()
	if resp.ContentLength >= 0 {
		u.length = resp.ContentLength
		u.haveLen = true
	}
	return nil
}

func (u *URLHandle) Length() (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.length, nil
}

func (u *URLHandle) Position() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pos
}

func (u *URLHandle) Seek(pos int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrCancelled
	}
	u.pos = pos
	return nil
}

// Read fetches via an HTTP Range request, refilling a sliding window buffer
// so that sequential reads within the window don't each issue a new
// request.
func (u *URLHandle) Read(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, ErrCancelled
	}
	need := int64(len(p))
	if u.window == nil || u.pos < u.winStart || u.pos+need > u.winStart+int64(len(u.window)) {
		if err := u.refillLocked(u.pos, need); err != nil {
			return 0, err
		}
	}
	start := u.pos - u.winStart
	if start < 0 || start >= int64(len(u.window)) {
		return 0, ErrUnexpectedEnd
	}
	if start+need > int64(len(u.window)) {
		return copy(p, u.window[start:]), ErrUnexpectedEnd
	}
	n := copy(p, u.window[start:start+need])
	u.pos += int64(n)
	return n, nil
}

func (u *URLHandle) refillLocked(from int64, minSize int64) error {
	size := minSize
	if size < DefaultSlidingWindowSize {
		size = DefaultSlidingWindowSize
	}
	req, err := http.NewRequest(http.MethodGet, u.url, nil)
	if err != nil {
		return wrapIO("building range request", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", from, from+size-1))
	resp, err := u.client.Do(req)
	if err != nil {
		return wrapIO("range request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return &IOError{Msg: fmt.Sprintf("range request returned status %s", resp.Status)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapIO("reading range response", err)
	}
	if len(data) < int(minSize) {
		// Server returned less than requested (e.g. near EOF); accept it,
		// later bounds checks in Read will surface ErrUnexpectedEnd if a
		// caller actually needed more bytes than exist.
	}
	u.window = data
	u.winStart = from
	return nil
}

func (u *URLHandle) Write(p []byte) (int, error) { return 0, ErrReadOnly }

func (u *URLHandle) Order() binary.ByteOrder { u.mu.Lock(); defer u.mu.Unlock(); return u.order }

func (u *URLHandle) SetOrder(o binary.ByteOrder) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.order = o
}

func (u *URLHandle) Writable() bool { return false }

func (u *URLHandle) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

var anchorHrefRE = regexp.MustCompile(`(?i)<a\s+[^>]*href\s*=\s*"([^"]+)"`)

// ListURLDirectory implements the common HTML directory-index convention:
// fetch the URL as text, scan for <a href="..."> entries. Redirects (such as
// a static file server's "dir" to "dir/") are followed according to the
// client's own redirect policy; no redirect handling is added here.
func ListURLDirectory(client *http.Client, url string) ([]string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(url)
	if err != nil {
		return nil, wrapIO("listing directory", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &IOError{Msg: fmt.Sprintf("directory listing returned status %s", resp.Status)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapIO("reading directory listing", err)
	}
	matches := anchorHrefRE.FindAllStringSubmatch(string(body), -1)
	var names []string
	seen := make(map[string]bool)
	for _, m := range matches {
		href := m[1]
		if href == "" || href == "../" || href == "/" {
			continue
		}
		if !seen[href] {
			seen[href] = true
			names = append(names, href)
		}
	}
	return names, nil
}

package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDiskCacheMB  = 100
	defaultDiskCacheTTL = 30 * time.Minute
	// status(2) created(8) url length(2)
	entryHeaderLen = 12
)

var errShortEntry = errors.New("short cache entry")

// DiskCacheOptions configures a DiskCache.
type DiskCacheOptions struct {
	Dir string
	// MaxMB bounds the total size; the least recently read entries go first.
	MaxMB  int
	TTL    time.Duration
	Clock  func() time.Time
	Logger *zap.Logger
}

// DiskCache stores fetched pages on disk, keyed by target URL.
type DiskCache struct {
	dir    string
	max    int64
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
	mu     sync.Mutex
}

// NewDiskCache creates the cache directory if needed.
func NewDiskCache(opts DiskCacheOptions) (*DiskCache, error) {
	if opts.Dir == "" {
		return nil, errors.New("disk cache: empty directory")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk cache: %w", err)
	}
	if opts.MaxMB <= 0 {
		opts.MaxMB = defaultDiskCacheMB
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultDiskCacheTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &DiskCache{
		dir:    opts.Dir,
		max:    int64(opts.MaxMB) * 1024 * 1024,
		ttl:    opts.TTL,
		now:    opts.Clock,
		logger: opts.Logger,
	}, nil
}

func (c *DiskCache) path(target string) (string, string) {
	h := sha1.Sum([]byte(target))
	name := hex.EncodeToString(h[:])
	dir := filepath.Join(c.dir, name[:1], name[1:2])
	return dir, filepath.Join(dir, name+".bin")
}

// Get returns a stored page that has not outlived the TTL.
func (c *DiskCache) Get(target string) (*Page, bool) {
	_, path := c.path(target)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	page, created, err := decodeEntry(data)
	if err != nil {
		c.logger.Warn("dropping corrupt cache entry", zap.String("path", path), zap.Error(err))
		_ = os.Remove(path)
		return nil, false
	}
	if c.now().Sub(created) > c.ttl {
		_ = os.Remove(path)
		return nil, false
	}
	now := c.now()
	_ = os.Chtimes(path, now, now)
	return page, true
}

// Put stores page under target and prunes the cache down to its size bound.
func (c *DiskCache) Put(target string, page *Page) {
	if page == nil {
		return
	}
	if len(page.URL) > math.MaxUint16 {
		c.logger.Warn("url too long to cache", zap.String("target", target), zap.Int("len", len(page.URL)))
		return
	}
	dir, path := c.path(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encodeEntry(page, c.now()), 0o644); err != nil {
		c.logger.Warn("cache write failed", zap.String("target", target), zap.Error(err))
		return
	}
	_ = os.Rename(tmp, path)
	c.prune()
}

func encodeEntry(p *Page, created time.Time) []byte {
	buf := make([]byte, entryHeaderLen, entryHeaderLen+len(p.URL)+len(p.Body))
	binary.BigEndian.PutUint16(buf[0:2], uint16(p.Status))
	binary.BigEndian.PutUint64(buf[2:10], uint64(created.Unix()))
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(p.URL)))
	buf = append(buf, p.URL...)
	return append(buf, p.Body...)
}

func decodeEntry(b []byte) (*Page, time.Time, error) {
	if len(b) < entryHeaderLen {
		return nil, time.Time{}, errShortEntry
	}
	status := int(binary.BigEndian.Uint16(b[0:2]))
	created := time.Unix(int64(binary.BigEndian.Uint64(b[2:10])), 0)
	n := int(binary.BigEndian.Uint16(b[10:12]))
	if len(b) < entryHeaderLen+n {
		return nil, time.Time{}, errShortEntry
	}
	return &Page{
		URL:    string(b[entryHeaderLen : entryHeaderLen+n]),
		Status: status,
		Body:   string(b[entryHeaderLen+n:]),
	}, created, nil
}

func (c *DiskCache) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	type file struct {
		p  string
		sz int64
		mt time.Time
	}
	var files []file
	var total int64
	filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".bin") {
			return nil
		}
		if info, e := d.Info(); e == nil {
			files = append(files, file{p, info.Size(), info.ModTime()})
			total += info.Size()
		}
		return nil
	})
	if total <= c.max {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mt.Before(files[j].mt) })
	for _, f := range files {
		if total <= c.max {
			break
		}
		_ = os.Remove(f.p)
		total -= f.sz
	}
}

type cachedFetcher struct {
	next  Fetcher
	cache *DiskCache
	scope string
}

// Cached serves pages from cache when present and stores every successful
// fetch of next. Entries are keyed by scope and target, so fetchers carrying
// different sessions never see each other's pages. A nil cache returns next
// unchanged.
func Cached(next Fetcher, cache *DiskCache, scope string) Fetcher {
	if cache == nil {
		return next
	}
	return &cachedFetcher{next: next, cache: cache, scope: scope}
}

func (f *cachedFetcher) key(target string) string {
	if f.scope == "" {
		return target
	}
	return f.scope + "\x00" + target
}

func (f *cachedFetcher) Fetch(ctx context.Context, target string) (*Page, error) {
	key := f.key(target)
	if p, ok := f.cache.Get(key); ok {
		return p, nil
	}
	p, err := f.next.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	f.cache.Put(key, p)
	return p, nil
}

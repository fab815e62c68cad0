package reader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const windowBucketName = "windows"

// Cache provides persistent caching of anchor-window byte reads using
// BoltDB. Self-cleaning: every run opens a fresh write database and
// only entries actually looked up this run (hits copied forward,
// misses stored once read) survive into the next run's read
// database. The cached value is the window's raw bytes rather than a
// hash, because the fingerprinter itself owns hashing and k-gramming
// of those bytes.
type Cache struct {
	readDB  *bolt.DB
	writeDB *bolt.DB
	path    string
	enabled bool
}

// OpenCache opens the existing cache at path for reading and creates a
// fresh one for writing. Returns a disabled (no-op) cache if path is
// empty.
func OpenCache(path string) (*Cache, error) {
	if path == "" {
		return &Cache{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{path: path, enabled: true}

	if _, statErr := os.Stat(path); statErr == nil {
		readDB, err := bolt.Open(path, 0o600, &bolt.Options{
			ReadOnly: true,
			Timeout:  1 * time.Second,
		})
		if err == nil {
			c.readDB = readDB
		}
	}

	newPath := path + ".new"
	writeDB, err := bolt.Open(newPath, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create new window cache (locked by another instance?): %w", err)
	}
	c.writeDB = writeDB

	if err := c.writeDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(windowBucketName))
		return err
	}); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes both databases and atomically replaces the old cache
// file with the new one, but only if the write database closed
// cleanly.
func (c *Cache) Close() error {
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.writeDB != nil {
		if err := c.writeDB.Close(); err != nil {
			errs = append(errs, err)
		} else if err := os.Rename(c.path+".new", c.path); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

const keyVersion byte = 1

// WindowKey identifies a cached file-byte-range read: any change to
// path, size, inode, mtime, or the requested window is a cache miss.
type WindowKey struct {
	Path        string
	Size        int64
	Ino         uint64
	ModTimeUnix int64
	Start       int64
	Length      int64
}

func makeWindowKey(k WindowKey) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	buf.WriteString(k.Path)
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, k.Size)
	_ = binary.Write(buf, binary.BigEndian, k.Ino)
	_ = binary.Write(buf, binary.BigEndian, k.ModTimeUnix)
	_ = binary.Write(buf, binary.BigEndian, k.Start)
	_ = binary.Write(buf, binary.BigEndian, k.Length)
	return buf.Bytes()
}

// Lookup retrieves a cached window's bytes. On a hit, the entry is
// copied forward into the write database (self-cleaning). Returns
// (nil, false, nil) on a miss.
func (c *Cache) Lookup(k WindowKey) ([]byte, bool, error) {
	if !c.enabled || c.readDB == nil {
		return nil, false, nil
	}

	key := makeWindowKey(k)
	var data []byte

	err := c.readDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(windowBucketName))
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("window cache lookup: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}

	_ = c.Store(k, data)
	return data, true, nil
}

// Store saves a window's bytes into the write database.
func (c *Cache) Store(k WindowKey, data []byte) error {
	if !c.enabled || c.writeDB == nil {
		return nil
	}
	err := c.writeDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(windowBucketName))
		return b.Put(makeWindowKey(k), data)
	})
	if err != nil {
		return fmt.Errorf("window cache store: %w", err)
	}
	return nil
}

// CachedFileReader wraps a FileReader with a Cache, reading through
// the cache on every call and populating it on a miss.
type CachedFileReader struct {
	inner *BufferedFileReader
	cache *Cache
	stat  func(path string) (size int64, ino uint64, modTimeUnix int64, err error)
}

// NewCachedFileReader builds a FileReader that checks cache before
// falling through to disk. statFn resolves the (size, inode, mtime)
// triple the cache keys on; the CLI supplies one backed by
// syscall.Stat_t on platforms where inode numbers are meaningful.
func NewCachedFileReader(cache *Cache, statFn func(path string) (int64, uint64, int64, error)) *CachedFileReader {
	return &CachedFileReader{inner: NewBufferedFileReader(), cache: cache, stat: statFn}
}

func (r *CachedFileReader) ReadWindow(path string, offset, length int64) ([]byte, error) {
	size, ino, modTimeUnix, statErr := r.stat(path)
	if statErr != nil {
		return r.inner.ReadWindow(path, offset, length)
	}

	key := WindowKey{Path: path, Size: size, Ino: ino, ModTimeUnix: modTimeUnix, Start: offset, Length: length}
	if data, hit, err := r.cache.Lookup(key); err == nil && hit {
		return data, nil
	}

	data, err := r.inner.ReadWindow(path, offset, length)
	if err != nil {
		return nil, err
	}
	_ = r.cache.Store(key, data)
	return data, nil
}

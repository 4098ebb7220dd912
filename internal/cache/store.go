package cache

import (
	"richter/internal/failure"
	appLog "richter/internal/log"
)

// Store reads and writes a Cache through a Blob.
type Store struct {
	blob Blob
}

func NewStore(b Blob) *Store {
	return &Store{blob: b}
}

// Read loads the persisted cache. It returns (nil, nil) when the blob is
// empty. I/O failures are failure.KindStorage; undecodable blobs are
// failure.KindCacheParse.
func (s *Store) Read() (*Cache, error) {
	data, err := s.blob.Read()
	if err != nil {
		return nil, failure.Wrap(failure.KindStorage, "", "Reading cache file", err)
	}
	c, err := Load(data)
	if err != nil {
		return nil, err
	}
	if c != nil {
		appLog.Debug("cache read", "bytes", len(data), "schools", len(c.Schools), "buckets", len(c.Entries))
	}
	return c, nil
}

// Save persists c, replacing whatever was stored before.
func (s *Store) Save(c *Cache) error {
	data, err := Dump(c)
	if err != nil {
		return err
	}
	if err := s.blob.Write(data); err != nil {
		return failure.Wrap(failure.KindStorage, "", "Writing cache file", err)
	}
	appLog.Debug("cache written", "bytes", len(data))
	return nil
}

// Discard deletes the persisted cache.
func (s *Store) Discard() error {
	if err := s.blob.Remove(); err != nil {
		return failure.Wrap(failure.KindStorage, "", "Deleting corrupted cache", err)
	}
	return nil
}

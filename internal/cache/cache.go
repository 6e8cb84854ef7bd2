package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"novelarr/internal/domain"
	"novelarr/internal/logger"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Store records fetched content keyed by (provider, content id, kind).
// Lookups re-hash the stored bytes; anything that fails validation is
// logged and treated as a miss, never silently served.
type Store struct {
	db    *sql.DB
	log   logger.Logger
	group singleflight.Group
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:  db,
		log: log,
	}
}

func key(provider, contentID string, kind domain.CacheKind) string {
	return provider + "\x00" + contentID + "\x00" + string(kind)
}

// Lookup returns the cached content and its record, or ErrNotFound on a
// miss. A corrupted record is removed before the miss is reported.
func (s *Store) Lookup(provider, contentID string, kind domain.CacheKind) ([]byte, *domain.CacheRecord, error) {
	row := s.db.QueryRow(`SELECT hash, size, fetched_at, content FROM cache_records WHERE provider = ? AND content_id = ? AND kind = ?`,
		provider, contentID, string(kind))

	var (
		hash      string
		size      int64
		fetchedAt int64
		content   []byte
	)

	if err := row.Scan(&hash, &size, &fetchedAt, &content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, domain.ErrNotFound
		}
		return nil, nil, errors.Wrap(err, "failed to read cache record")
	}

	if got := hashBytes(content); got != hash || int64(len(content)) != size {
		s.log.Error().Str("provider", provider).Str("content_id", contentID).Str("kind", string(kind)).
			Msg("cache record failed validation, treating as miss")

		if _, err := s.db.Exec(`DELETE FROM cache_records WHERE provider = ? AND content_id = ? AND kind = ?`,
			provider, contentID, string(kind)); err != nil {
			return nil, nil, errors.Wrap(err, "failed to drop corrupt cache record")
		}

		return nil, nil, fmt.Errorf("%w: %w", domain.ErrCacheCorrupt, domain.ErrNotFound)
	}

	rec := &domain.CacheRecord{
		Provider:  provider,
		ContentID: contentID,
		Kind:      kind,
		Hash:      hash,
		Size:      size,
		FetchedAt: time.Unix(fetchedAt, 0),
	}

	return content, rec, nil
}

// Record stores fetched content. A changed hash supersedes the previous
// record for the key.
func (s *Store) Record(provider, contentID string, kind domain.CacheKind, content []byte) (*domain.CacheRecord, error) {
	rec := &domain.CacheRecord{
		Provider:  provider,
		ContentID: contentID,
		Kind:      kind,
		Hash:      hashBytes(content),
		Size:      int64(len(content)),
		FetchedAt: time.Now(),
	}

	_, err := s.db.Exec(`INSERT INTO cache_records (provider, content_id, kind, hash, size, fetched_at, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, content_id, kind) DO UPDATE SET
			hash = excluded.hash,
			size = excluded.size,
			fetched_at = excluded.fetched_at,
			content = excluded.content`,
		provider, contentID, string(kind), rec.Hash, rec.Size, rec.FetchedAt.Unix(), content)
	if err != nil {
		return nil, errors.Wrap(err, "failed to write cache record")
	}

	return rec, nil
}

// GetOrFetch returns cached content for the key or runs fetch and
// records its result. Concurrent calls for the same key collapse into a
// single fetch; every caller gets the same bytes.
func (s *Store) GetOrFetch(ctx context.Context, provider, contentID string, kind domain.CacheKind, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	v, err, _ := s.group.Do(key(provider, contentID, kind), func() (interface{}, error) {
		content, _, err := s.Lookup(provider, contentID, kind)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		content, err = fetch(ctx)
		if err != nil {
			return nil, err
		}

		if _, err := s.Record(provider, contentID, kind, content); err != nil {
			return nil, err
		}

		return content, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

func hashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

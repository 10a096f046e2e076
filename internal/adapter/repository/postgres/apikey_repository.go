package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/V4T54L/siem-forwarder/internal/adapter/metrics"
)

// maxCachedKeys bounds the cache; expired entries are swept when it is reached.
const maxCachedKeys = 10000

const validKeyQuery = `SELECT EXISTS(
	SELECT 1 FROM producer_api_keys
	WHERE key_hash = $1 AND is_active = true AND (expires_at IS NULL OR expires_at > NOW())
)`

type cacheEntry struct {
	isValid   bool
	expiresAt time.Time
}

// APIKeyRepository implements domain.APIKeyRepository for producer services
// using PostgreSQL as the source of truth and an in-memory, time-based cache.
// Keys are stored as hex-encoded SHA-256 digests.
type APIKeyRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	cache    map[string]cacheEntry
	mu       sync.RWMutex
	cacheTTL time.Duration
	metrics  *metrics.IngestMetrics

	lookup func(ctx context.Context, keyHash string) (bool, error)
	now    func() time.Time
}

// NewAPIKeyRepository creates a new instance of the PostgreSQL API key repository.
func NewAPIKeyRepository(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, m *metrics.IngestMetrics) *APIKeyRepository {
	r := &APIKeyRepository{
		db:       db,
		logger:   logger.With("component", "apikey_repository"),
		cache:    make(map[string]cacheEntry),
		cacheTTL: cacheTTL,
		metrics:  m,
		now:      time.Now,
	}
	r.lookup = r.queryDB
	return r
}

// HashKey returns the digest stored in producer_api_keys.key_hash for key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// IsValid checks if an API key is valid. It first checks a local cache and falls
// back to the database if the key is not found or the cache entry has expired.
func (r *APIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	keyHash := HashKey(key)

	r.mu.RLock()
	entry, found := r.cache[keyHash]
	r.mu.RUnlock()

	if found && r.now().Before(entry.expiresAt) {
		if r.metrics != nil {
			r.metrics.APIKeyCacheHits.Inc()
		}
		return entry.isValid, nil
	}

	if r.metrics != nil {
		r.metrics.APIKeyCacheMisses.Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have populated the entry while we waited.
	entry, found = r.cache[keyHash]
	if found && r.now().Before(entry.expiresAt) {
		return entry.isValid, nil
	}

	isValid, err := r.lookup(ctx, keyHash)
	if err != nil {
		r.logger.Error("failed to validate API key in database", "error", err)
		// Errors are not cached so the next request retries.
		return false, err
	}

	if len(r.cache) >= maxCachedKeys {
		r.sweepLocked()
	}
	r.cache[keyHash] = cacheEntry{
		isValid:   isValid,
		expiresAt: r.now().Add(r.cacheTTL),
	}

	return isValid, nil
}

func (r *APIKeyRepository) queryDB(ctx context.Context, keyHash string) (bool, error) {
	var isValid bool
	err := r.db.QueryRowContext(ctx, validKeyQuery, keyHash).Scan(&isValid)
	return isValid, err
}

func (r *APIKeyRepository) sweepLocked() {
	now := r.now()
	for k, e := range r.cache {
		if !now.Before(e.expiresAt) {
			delete(r.cache, k)
		}
	}
	if len(r.cache) >= maxCachedKeys {
		r.cache = make(map[string]cacheEntry)
	}
}

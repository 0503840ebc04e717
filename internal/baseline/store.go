// File: internal/baseline/store.go
// Description: Keyed persistence of reference fingerprints per repository.
// Differential scans read the set to decide which findings are new; baseline
// scans replace it wholesale.
package baseline

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StoreError wraps a baseline transport failure. The orchestrator degrades a
// failed read to an empty baseline in PR mode but fails the job in baseline
// mode, so the type matters.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("baseline %s failed: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// Store holds fingerprint sets in redis, one SET per repository.
type Store struct {
	client redis.UniversalClient
	log    *zap.Logger
}

// New builds a baseline store over an existing redis client.
func New(client redis.UniversalClient, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		log:    logger.Named("baseline"),
	}
}

// Key derives the storage key for a repository.
func Key(owner, repo string) string {
	return fmt.Sprintf("%s:%s", owner, repo)
}

// Read returns the stored fingerprint set; an absent key is an empty
// baseline. Transport errors propagate as *StoreError.
func (s *Store) Read(ctx context.Context, owner, repo string) (map[string]struct{}, error) {
	key := Key(owner, repo)
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, &StoreError{Op: "read", Err: err}
	}

	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	if len(set) == 0 {
		s.log.Info("No baseline stored; using an empty set.", zap.String("key", key))
	} else {
		s.log.Info("Loaded baseline.", zap.String("key", key), zap.Int("fingerprints", len(set)))
	}
	return set, nil
}

// Write replaces the stored set with the given fingerprints. The delete and
// repopulate run in one pipeline so readers never observe a half-written
// baseline from this writer.
func (s *Store) Write(ctx context.Context, owner, repo string, fingerprints []string) error {
	key := Key(owner, repo)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(fingerprints) > 0 {
		members := make([]interface{}, len(fingerprints))
		for i, fp := range fingerprints {
			members[i] = fp
		}
		pipe.SAdd(ctx, key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &StoreError{Op: "write", Err: err}
	}

	s.log.Info("Saved baseline.", zap.String("key", key), zap.Int("fingerprints", len(fingerprints)))
	return nil
}

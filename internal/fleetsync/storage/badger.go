package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/pkg/options"
)

const (
	sessionKeyPrefix = "session:"

	// defaultRetain bounds how many historical sessions are kept as validation candidates.
	defaultRetain = 10
)

var _ core.SessionRepository = (*BadgerSessionRepository)(nil)

// OpenBadger opens the session database described by opts.
func OpenBadger(opts *options.BadgerOptions) (*badger.DB, error) {
	bo := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	}
	bo = bo.WithLogger(nil)

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", opts.Dir, err)
	}
	return db, nil
}

// BadgerSessionRepository stores provider sessions keyed by creation time so
// that a reverse scan yields the most recent first. Entries expire with the session.
type BadgerSessionRepository struct {
	db     *badger.DB
	clock  clock.PassiveClock
	retain int
}

// NewBadgerSessionRepository stamps and expires sessions against clk, or the
// wall clock when clk is nil.
func NewBadgerSessionRepository(db *badger.DB, clk clock.PassiveClock) *BadgerSessionRepository {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &BadgerSessionRepository{db: db, clock: clk, retain: defaultRetain}
}

func sessionKey(s model.Session) []byte {
	return []byte(fmt.Sprintf("%s%020d", sessionKeyPrefix, s.CreatedAt.UnixNano()))
}

func (r *BadgerSessionRepository) Latest(ctx context.Context) (*model.Session, error) {
	list, err := r.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (r *BadgerSessionRepository) List(ctx context.Context, limit int) ([]model.Session, error) {
	var sessions []model.Session
	prefix := []byte(sessionKeyPrefix)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(sessions) >= limit {
				break
			}

			var s model.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return fmt.Errorf("decode session %s: %w", it.Item().Key(), err)
			}
			sessions = append(sessions, s)
		}
		return nil
	})
	if err != nil {
		return nil, core.NewError(core.KindDatastore, "list sessions", err)
	}

	return sessions, nil
}

func (r *BadgerSessionRepository) Put(ctx context.Context, s model.Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.clock.Now()
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(sessionKey(s), data)
		if ttl := s.ExpiresAt.Sub(r.clock.Now()); ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return core.NewError(core.KindDatastore, "put session", err)
	}

	return r.prune()
}

// prune drops everything older than the retain most recent sessions.
func (r *BadgerSessionRepository) prune() error {
	prefix := []byte(sessionKeyPrefix)

	err := r.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		n := 0
		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			n++
			if n > r.retain {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}

		for _, k := range stale {
			if err := txn.Delete(k); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return core.NewError(core.KindDatastore, "prune sessions", err)
	}
	return nil
}

func (r *BadgerSessionRepository) Clear(ctx context.Context) error {
	if err := r.db.DropPrefix([]byte(sessionKeyPrefix)); err != nil {
		return core.NewError(core.KindDatastore, "clear sessions", err)
	}
	return nil
}

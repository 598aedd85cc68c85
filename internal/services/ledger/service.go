package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/killallgit/episode-harvester/internal/database"
	"github.com/killallgit/episode-harvester/internal/models"
	"github.com/killallgit/episode-harvester/pkg/config"
)

type service struct {
	store Store
	keys  *keyedMutex
	lock  *lockFile
	db    *database.DB
	ro    bool
	now   func() time.Time
	log   *slog.Logger
}

// NewService wraps store with the merge policy and per-identity locking
func NewService(store Store) Service {
	return &service{
		store: store,
		keys:  newKeyedMutex(),
		now:   time.Now,
		log:   slog.Default(),
	}
}

// Options selects and locates a ledger backend
type Options struct {
	Backend string // csv or sqlite
	Path    string
	Verbose bool // sqlite query logging

	// ReadOnly skips the lock file so status queries work during a run. The
	// ledger file is never created or migrated and reads follow a writer in
	// another process. Upserts on a read-only ledger fail with ErrReadOnly.
	ReadOnly bool
}

// Open takes the ledger lock file and opens the configured backend. It
// fails with ErrLedgerLocked if another process is using the same ledger.
func Open(opts Options) (Service, error) {
	var (
		lock  *lockFile
		store Store
		db    *database.DB
		err   error
	)
	if !opts.ReadOnly {
		if lock, err = acquireLock(opts.Path); err != nil {
			return nil, err
		}
	}

	switch opts.Backend {
	case "", config.BackendCSV:
		if opts.ReadOnly {
			store, err = OpenCSVStoreReadOnly(opts.Path)
		} else {
			store, err = NewCSVStore(opts.Path)
		}
	case config.BackendSQLite:
		db, err = database.Open(opts.Path, database.Options{Verbose: opts.Verbose, ReadOnly: opts.ReadOnly})
		if err == nil {
			store = NewGormStore(db.DB)
		}
	default:
		err = fmt.Errorf("unknown ledger backend %q", opts.Backend)
	}
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		_ = lock.release()
		return nil, err
	}

	svc := NewService(store).(*service)
	svc.lock = lock
	svc.db = db
	svc.ro = opts.ReadOnly
	return svc, nil
}

func (s *service) Upsert(ctx context.Context, identity string, status models.Status, opts ...UpsertOption) (*models.LedgerEntry, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if s.ro {
		return nil, ErrReadOnly
	}

	cfg := &upsertConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	incoming := cfg.patch
	incoming.Identity = identity
	incoming.Status = status

	unlock := s.keys.Lock(identity)
	defer unlock()

	existing, err := s.store.Get(ctx, identity)
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		return nil, err
	}

	merged, changed := Merge(existing, incoming, cfg.reattempt)
	if !changed {
		if existing != nil && existing.Status != status {
			s.log.Debug("ledger write ignored", "identity", identity, "stored", existing.Status, "incoming", status)
		}
		return &merged, nil
	}

	merged.UpdatedAt = s.now().UTC()
	if err := s.store.Put(ctx, &merged); err != nil {
		return nil, err
	}

	s.log.Debug("ledger updated", "identity", identity, "status", merged.Status, "attempts", merged.Attempts)
	return &merged, nil
}

func (s *service) Get(ctx context.Context, identity string) (*models.LedgerEntry, error) {
	return s.store.Get(ctx, identity)
}

func (s *service) ListByStatus(ctx context.Context, status models.Status) ([]models.LedgerEntry, error) {
	return s.store.List(ctx, status)
}

func (s *service) List(ctx context.Context) ([]models.LedgerEntry, error) {
	return s.store.List(ctx)
}

func (s *service) Summary(ctx context.Context) (Counts, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(Counts, len(models.AllStatuses))
	for _, status := range models.AllStatuses {
		counts[status] = 0
	}
	for _, entry := range entries {
		counts[entry.Status]++
	}
	return counts, nil
}

func (s *service) Close() error {
	var errs []error
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.lock.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

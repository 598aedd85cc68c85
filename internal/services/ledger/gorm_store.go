package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/killallgit/episode-harvester/internal/models"
)

// GormStore keeps the ledger in a SQL table with one row per identity
type GormStore struct {
	db *gorm.DB
}

// Ensure GormStore implements Store
var _ Store = (*GormStore)(nil)

// NewGormStore returns a store over db. The ledger table must already
// exist; database.Open creates it.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Get(ctx context.Context, identity string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := s.db.WithContext(ctx).Where("identity = ?", identity).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("getting ledger entry: %w", err)
	}
	return &entry, nil
}

func (s *GormStore) Put(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.Identity == "" {
		return errors.New("ledger entry has no identity")
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity"}},
			UpdateAll: true,
		}).
		Create(entry).Error
	if err != nil {
		return fmt.Errorf("upserting ledger entry: %w", err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, statuses ...models.Status) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	query := s.db.WithContext(ctx).Order("identity ASC")
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, status := range statuses {
			values[i] = string(status)
		}
		query = query.Where("status IN ?", values)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	return entries, nil
}

// Close is a no-op; the connection belongs to whoever opened it
func (s *GormStore) Close() error {
	return nil
}

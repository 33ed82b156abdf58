package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// assetRecord is the gorm model behind the sqlite store.
type assetRecord struct {
	ID            string `gorm:"primaryKey;size:64"`
	Folder        string `gorm:"index;size:255"`
	FileName      string
	OriginalName  string
	StoragePath   string `gorm:"uniqueIndex"`
	URL           string
	MimeType      string `gorm:"size:64"`
	ByteSize      int64
	OriginalBytes int64
	Width         int
	Height        int
	Quality       float64
	CreatedAt     time.Time `gorm:"index"`
}

func (assetRecord) TableName() string {
	return "assets"
}

func recordFromAsset(a Asset) assetRecord {
	return assetRecord(a)
}

func (r assetRecord) asset() Asset {
	return Asset(r)
}

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLite builds a SQLite-backed store and migrates its schema.
func NewSQLite(ctx context.Context, db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	if err := db.WithContext(ctx).AutoMigrate(&assetRecord{}); err != nil {
		return nil, fmt.Errorf("migrate assets table: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Save(ctx context.Context, asset Asset) error {
	rec := recordFromAsset(asset)
	return s.db.WithContext(ctx).Save(&rec).Error
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Asset, error) {
	var rec assetRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Asset{}, err
	}
	return rec.asset(), nil
}

func (s *sqliteStore) List(ctx context.Context, folder string) ([]Asset, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id ASC")
	if folder != "" {
		q = q.Where("folder = ?", folder)
	}
	var recs []assetRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Asset, len(recs))
	for i, r := range recs {
		out[i] = r.asset()
	}
	return out, nil
}

func (s *sqliteStore) Remove(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&assetRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *sqliteStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

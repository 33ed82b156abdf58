// Package catalog keeps a record of every uploaded asset so it can be listed
// and deleted later. Exactly one backend is active at a time.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when an asset id is unknown.
var ErrNotFound = errors.New("asset not found")

// Asset is the catalog entry for one uploaded image.
type Asset struct {
	ID            string    `json:"id"`
	Folder        string    `json:"folder"`
	FileName      string    `json:"fileName"`
	OriginalName  string    `json:"originalName"`
	StoragePath   string    `json:"storagePath"`
	URL           string    `json:"url"`
	MimeType      string    `json:"mimeType"`
	ByteSize      int64     `json:"byteSize"`
	OriginalBytes int64     `json:"originalBytes"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Quality       float64   `json:"quality"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store persists assets.
type Store interface {
	Save(ctx context.Context, asset Asset) error
	Get(ctx context.Context, id string) (Asset, error)
	// List returns the assets in folder, newest first. An empty folder lists everything.
	List(ctx context.Context, folder string) ([]Asset, error)
	Remove(ctx context.Context, id string) error
	Close(ctx context.Context) error
}

// Driver identifiers supported by New.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config describes the catalog backend.
type Config struct {
	Driver string       `mapstructure:"driver" json:"driver" validate:"omitempty,oneof=memory sqlite redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite" json:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis" json:"redis"`
}

// SQLiteConfig locates the database file.
type SQLiteConfig struct {
	DSN string `mapstructure:"dsn" json:"dsn"`
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Username string `mapstructure:"username" json:"-"`
	Password string `mapstructure:"password" json:"-"`
	DB       int    `mapstructure:"db" json:"db"`
	Prefix   string `mapstructure:"prefix" json:"prefix"`
}

// New creates a catalog store based on the provided configuration.
func New(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if cfg.SQLite.DSN == "" {
			return nil, fmt.Errorf("sqlite driver requires a dsn")
		}
		db, err := gorm.Open(sqlite.Open(cfg.SQLite.DSN), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLite.DSN, err)
		}
		return NewSQLite(ctx, db)
	case DriverRedis:
		return NewRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported catalog driver: %s", driver)
	}
}

func sortNewestFirst(assets []Asset) {
	sort.SliceStable(assets, func(i, j int) bool {
		if assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].ID < assets[j].ID
		}
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})
}

package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"

	defaultListLimit = 100
)

// Store keeps received windows.
type Store interface {
	Save(ctx context.Context, w *Window) error
	// List returns the latest windows, newest first. An empty name matches all.
	List(ctx context.Context, name string, limit int) ([]Window, error)
	Close() error
}

// NewStore opens a store of the given kind. dsn is the sqlite file (":memory:"
// when empty) or the mysql data source name.
func NewStore(kind, dsn string) (Store, error) {
	var dialector gorm.Dialector
	switch kind {
	case "", StoreMemory:
		return NewMemoryStore(), nil
	case StoreSQLite:
		if dsn == "" {
			dsn = ":memory:"
		}
		dialector = sqlite.Open(dsn)
	case StoreMySQL:
		if dsn == "" {
			return nil, fmt.Errorf("mysql store needs a dsn")
		}
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store: %s", kind)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if kind == StoreSQLite {
		// every connection to ":memory:" is a new database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewGormStore(db)
}

type MemoryStore struct {
	mu      sync.RWMutex
	windows []Window
	nextID  uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, w *Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	w.ID = s.nextID
	s.windows = append(s.windows, *w)
	return nil
}

func (s *MemoryStore) List(_ context.Context, name string, limit int) ([]Window, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Window, 0, limit)
	for i := len(s.windows) - 1; i >= 0 && len(out) < limit; i-- {
		if name == "" || s.windows[i].Name == name {
			out = append(out, s.windows[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the windows table on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Window{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Save(ctx context.Context, w *Window) error {
	return s.db.WithContext(ctx).Create(w).Error
}

func (s *GormStore) List(ctx context.Context, name string, limit int) ([]Window, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var windows []Window
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if name != "" {
		q = q.Where("name = ?", name)
	}
	if err := q.Find(&windows).Error; err != nil {
		return nil, err
	}
	return windows, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store persists the session id of each scope.
type Store interface {
	Lookup(scope string) (id string, ok bool, err error)
	Save(scope, id string) error
	Clear(scope string) error
}

// Resolve returns the session id to use for scope. For a persistent scope a
// stored id is reused (resumed is true); otherwise a fresh id is generated
// and, for persistent scopes only, saved.
func Resolve(store Store, scope string, persistent bool) (id string, resumed bool, err error) {
	if persistent && store != nil {
		stored, ok, err := store.Lookup(scope)
		if err != nil {
			return "", false, fmt.Errorf("failed to look up session for %s: %w", scope, err)
		}
		if ok {
			return stored, true, nil
		}
	}

	id = uuid.NewString()
	if persistent && store != nil {
		if err := store.Save(scope, id); err != nil {
			return "", false, fmt.Errorf("failed to save session for %s: %w", scope, err)
		}
	}
	return id, false, nil
}

// SessionRecord is a row of the sessions table.
type SessionRecord struct {
	Scope     string `gorm:"primarykey"`
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// SQLStore keeps session ids in a sqlite database.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(dbFilePath string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dbFilePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening session database: %w", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, fmt.Errorf("error migrating session database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Lookup(scope string) (string, bool, error) {
	var records []SessionRecord
	result := s.db.Where("scope = ?", scope).Limit(1).Find(&records)
	if result.Error != nil {
		return "", false, result.Error
	}
	if len(records) == 0 {
		return "", false, nil
	}
	return records[0].SessionID, true, nil
}

func (s *SQLStore) Save(scope, id string) error {
	record := SessionRecord{Scope: scope, SessionID: id}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{"session_id", "updated_at"}),
	}).Create(&record).Error
}

func (s *SQLStore) Clear(scope string) error {
	return s.db.Where("scope = ?", scope).Delete(&SessionRecord{}).Error
}

// Scopes lists every scope with a stored session, most recently saved first.
func (s *SQLStore) Scopes() ([]SessionRecord, error) {
	var records []SessionRecord
	result := s.db.Order("updated_at desc").Find(&records)
	return records, result.Error
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	mu  sync.Mutex
	ids map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]string)}
}

func (m *MemoryStore) Lookup(scope string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ids[scope]
	return id, ok, nil
}

func (m *MemoryStore) Save(scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[scope] = id
	return nil
}

func (m *MemoryStore) Clear(scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, scope)
	return nil
}

// Package docstoretest provides document stores for tests.
package docstoretest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore"
)

var counter atomic.Int64

// NewSQLiteDB opens a private in-memory sqlite database with the documents table.
func NewSQLiteDB(t testing.TB) *gorm.DB {
	t.Helper()
	uniqueDBIdentifier := fmt.Sprintf("file:memdb%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), counter.Add(1))
	db, err := gorm.Open(sqlite.Open(uniqueDBIdentifier), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// One connection keeps concurrent writers from hitting shared-cache table locks.
	sqlDB.SetMaxOpenConns(1)
	if err := docstore.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// NewStore returns a GORM-backed store over a fresh in-memory database.
func NewStore(t testing.TB) *docstore.GormStore {
	t.Helper()
	store, err := docstore.NewGormStore(NewSQLiteDB(t))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

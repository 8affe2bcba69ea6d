package repository

import (
	"testing"

	"github.com/nimasrn/anchor-platform/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a private in-memory sqlite database with the schema migrated.
func NewTestDB(t testing.TB) *pg.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every new connection to :memory: is a fresh database
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&TransactionEntity{}))
	t.Cleanup(func() { _ = sqlDB.Close() })

	return pg.FromGorm(db, db)
}

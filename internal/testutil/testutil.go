// Package testutil provides shared helpers for package tests.
package testutil

import (
	"testing"

	"github.com/zulandar/dropline/internal/db"
	"github.com/zulandar/dropline/internal/models"
	"gorm.io/gorm"
)

// NewDB returns a migrated in-memory sqlite database scoped to the test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// SeedContacts inserts contacts with indices 0..n-1 in the given order.
func SeedContacts(t *testing.T, gdb *gorm.DB, contacts ...models.Contact) []models.Contact {
	t.Helper()
	for i := range contacts {
		contacts[i].Index = i
		if err := gdb.Create(&contacts[i]).Error; err != nil {
			t.Fatalf("seed contact %d: %v", i, err)
		}
	}
	return contacts
}

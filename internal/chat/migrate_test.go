package chat

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestMigrate_FreshDatabase(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	m := db.Migrator()
	if !m.HasTable(&Chat{}) || !m.HasTable(&Message{}) {
		t.Fatal("expected chats and messages tables")
	}
	if !m.HasColumn(&Chat{}, "send_full_history") {
		t.Fatal("expected send_full_history column")
	}
	if !m.HasIndex(&Message{}, "idx_messages_chat_timestamp") {
		t.Fatal("expected composite message index")
	}

	var marker schemaVersion
	if err := db.First(&marker, 1).Error; err != nil {
		t.Fatalf("read version marker: %v", err)
	}
	if want := migrations[len(migrations)-1].version; marker.Version != want {
		t.Fatalf("expected version %d, got %d", want, marker.Version)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := Migrate(db); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
}

// A database stuck at version 1 gains the new column with a default applied
// to its existing rows, without losing them.
func TestMigrate_UpgradesV1Data(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := db.AutoMigrate(&schemaVersion{}); err != nil {
		t.Fatalf("init marker: %v", err)
	}
	if err := migrations[0].apply(db); err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	if err := db.Create(&schemaVersion{ID: 1, Version: 1}).Error; err != nil {
		t.Fatalf("record v1: %v", err)
	}

	old := chatV1{ID: "legacy", Title: "old chat", Model: "m", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := db.Create(&old).Error; err != nil {
		t.Fatalf("seed legacy chat: %v", err)
	}

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var got Chat
	if err := db.First(&got, "id = ?", "legacy").Error; err != nil {
		t.Fatalf("read legacy chat: %v", err)
	}
	if got.Title != "old chat" {
		t.Fatalf("data lost in migration: %+v", got)
	}
	if !got.SendFullHistory {
		t.Fatal("expected backfilled sendFullHistory = true")
	}
}

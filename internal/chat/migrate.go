package chat

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// schemaVersion is the single-row marker recording how far the schema has
// been migrated.
type schemaVersion struct {
	ID        int `gorm:"primaryKey"`
	Version   int `gorm:"not null"`
	UpdatedAt time.Time
}

func (schemaVersion) TableName() string { return "schema_migrations" }

// chatV1 is the chats table as it existed before send_full_history.
type chatV1 struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	Title     string `gorm:"type:text;not null"`
	Model     string `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (chatV1) TableName() string { return "chats" }

// messageV1 is the messages table before the composite lookup index.
type messageV1 struct {
	ID        string    `gorm:"primaryKey;type:varchar(26)"`
	ChatID    string    `gorm:"type:varchar(36);not null"`
	Role      string    `gorm:"type:varchar(16);not null"`
	Content   string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"not null"`
}

func (messageV1) TableName() string { return "messages" }

type migration struct {
	version int
	name    string
	apply   func(*gorm.DB) error
}

// Each step is guarded so that re-applying (after a crash between the step
// and the version bump) is harmless.
var migrations = []migration{
	{
		version: 1,
		name:    "create chats and messages",
		apply: func(db *gorm.DB) error {
			m := db.Migrator()
			if !m.HasTable(&chatV1{}) {
				if err := m.CreateTable(&chatV1{}); err != nil {
					return err
				}
			}
			if !m.HasTable(&messageV1{}) {
				if err := m.CreateTable(&messageV1{}); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		version: 2,
		name:    "add send_full_history to chats",
		apply: func(db *gorm.DB) error {
			m := db.Migrator()
			if !m.HasColumn(&Chat{}, "send_full_history") {
				if err := m.AddColumn(&Chat{}, "SendFullHistory"); err != nil {
					return err
				}
			}
			// Existing rows get the default explicitly; the column default
			// only covers rows written after the ALTER.
			return db.Exec("UPDATE chats SET send_full_history = ? WHERE send_full_history IS NULL", true).Error
		},
	},
	{
		version: 3,
		name:    "index messages by (chat_id, timestamp)",
		apply: func(db *gorm.DB) error {
			m := db.Migrator()
			if m.HasIndex(&Message{}, "idx_messages_chat_timestamp") {
				return nil
			}
			return m.CreateIndex(&Message{}, "idx_messages_chat_timestamp")
		},
	},
}

// Migrate brings the database to the current schema version. It is safe to
// run on every startup; steps already recorded in schema_migrations are
// skipped.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&schemaVersion{}); err != nil {
		return fmt.Errorf("chat: init schema_migrations: %w", err)
	}

	var marker schemaVersion
	if err := db.FirstOrCreate(&marker, schemaVersion{ID: 1}).Error; err != nil {
		return fmt.Errorf("chat: read schema version: %w", err)
	}

	for _, step := range migrations {
		if step.version <= marker.Version {
			continue
		}
		if err := step.apply(db); err != nil {
			return fmt.Errorf("chat: migration %d (%s): %w", step.version, step.name, err)
		}
		marker.Version = step.version
		if err := db.Save(&marker).Error; err != nil {
			return fmt.Errorf("chat: record migration %d: %w", step.version, err)
		}
	}
	return nil
}

package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ErrNotFound reports a lookup miss on a chat id.
var ErrNotFound = errors.New("chat: not found")

// Repo is durable storage for chats and their messages. A chat owns its
// messages: writes touching both are wrapped in one transaction so no reader
// observes an intermediate state.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateChat(ctx context.Context, title, model string) (*Chat, error) {
	now := time.Now().UTC()
	c := &Chat{
		ID:              uuid.NewString(),
		Title:           title,
		Model:           model,
		SendFullHistory: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// ListChats returns all chats, most recently active first.
func (r *Repo) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *Repo) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// AddMessage persists a message and bumps the parent chat's updated_at in a
// single transaction.
func (r *Repo) AddMessage(ctx context.Context, chatID, content, role string) (*Message, error) {
	now := time.Now().UTC()
	m := &Message{
		ID:        ulid.Make().String(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Chat{}).Where("id = ?", chatID).Update("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(m).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessages returns a chat's messages oldest first. ULID ids preserve
// insertion order when timestamps collide.
func (r *Repo) GetMessages(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// DeleteChat removes the chat and every message it owns as one atomic unit.
func (r *Repo) DeleteChat(ctx context.Context, chatID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&Message{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", chatID).Delete(&Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *Repo) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	return r.partialUpdate(ctx, chatID, map[string]any{"title": title})
}

func (r *Repo) UpdateChatSettings(ctx context.Context, chatID string, sendFullHistory bool) error {
	return r.partialUpdate(ctx, chatID, map[string]any{"send_full_history": sendFullHistory})
}

func (r *Repo) partialUpdate(ctx context.Context, chatID string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&Chat{}).Where("id = ?", chatID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repo) CountMessages(ctx context.Context, chatID string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Where("chat_id = ?", chatID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// SearchChats matches chats whose title starts with the query,
// case-insensitively.
func (r *Repo) SearchChats(ctx context.Context, query string) ([]Chat, error) {
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Where("LOWER(title) LIKE ?", strings.ToLower(query)+"%").
		Order("updated_at DESC").
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

// ClearAll wipes both tables transactionally.
func (r *Repo) ClearAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&Chat{}).Error
	})
}

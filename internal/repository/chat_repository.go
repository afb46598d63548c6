package repository

import (
	"context"
	"errors"
	"time"

	"persona/backend/internal/models"
	apperrors "persona/backend/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChatRepository interface {
	Create(ctx context.Context, chat *models.Chat) error
	ListByUser(ctx context.Context, userID string) ([]models.Chat, error)
	Get(ctx context.Context, userID string, chatID uuid.UUID) (*models.Chat, error)
	Rename(ctx context.Context, userID string, chatID uuid.UUID, title string) (*models.Chat, error)
	Delete(ctx context.Context, userID string, chatID uuid.UUID) error

	ListMessages(ctx context.Context, userID string, chatID uuid.UUID) ([]models.Message, error)
	AppendMessage(ctx context.Context, userID string, msg *models.Message) error
	DeleteMessage(ctx context.Context, userID string, chatID, messageID uuid.UUID) error
}

type GormChatRepository struct {
	db *gorm.DB
}

func NewGormChatRepository(db *gorm.DB) *GormChatRepository {
	return &GormChatRepository{db: db}
}

func (r *GormChatRepository) Create(ctx context.Context, chat *models.Chat) error {
	return r.db.WithContext(ctx).Create(chat).Error
}

func (r *GormChatRepository) ListByUser(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&chats).Error
	return chats, err
}

func (r *GormChatRepository) Get(ctx context.Context, userID string, chatID uuid.UUID) (*models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", chatID, userID).First(&chat).Error
	if err != nil {
		return nil, notFound(err, "chat %s", chatID)
	}
	return &chat, nil
}

func (r *GormChatRepository) Rename(ctx context.Context, userID string, chatID uuid.UUID, title string) (*models.Chat, error) {
	var chat models.Chat
	res := r.db.WithContext(ctx).Model(&chat).
		Clauses(clause.Returning{}).
		Where("id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]any{"title": title, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.NotFoundf("chat %s", chatID)
	}
	return &chat, nil
}

// Delete removes the chat; its messages go with it through the cascading key
func (r *GormChatRepository) Delete(ctx context.Context, userID string, chatID uuid.UUID) error {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", chatID, userID).Delete(&models.Chat{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFoundf("chat %s", chatID)
	}
	return nil
}

func (r *GormChatRepository) ListMessages(ctx context.Context, userID string, chatID uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Joins("JOIN chats ON chats.id = messages.chat_id AND chats.user_id = ?", userID).
		Where("messages.chat_id = ?", chatID).
		Order("messages.created_at ASC, messages.id ASC").
		Find(&messages).Error
	return messages, err
}

// AppendMessage inserts msg after checking that the chat belongs to userID
// and that the parent, if any, is a message of the same chat
func (r *GormChatRepository) AppendMessage(ctx context.Context, userID string, msg *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Chat{}).
			Where("id = ? AND user_id = ?", msg.ChatID, userID).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFoundf("chat %s", msg.ChatID)
		}

		if msg.ParentID != nil {
			var parent models.Message
			err := tx.Select("id").Where("id = ? AND chat_id = ?", *msg.ParentID, msg.ChatID).First(&parent).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.Validationf("parent message %s is not part of chat %s", *msg.ParentID, msg.ChatID)
			}
			if err != nil {
				return err
			}
		}

		return tx.Create(msg).Error
	})
}

// DeleteMessage removes a message and, through the cascading key, its
// descendants. Like AppendMessage it bumps the chat's updated_at in the same
// transaction.
func (r *GormChatRepository) DeleteMessage(ctx context.Context, userID string, chatID, messageID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Chat{}).
			Where("id = ? AND user_id = ?", chatID, userID).
			Update("updated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFoundf("message %s", messageID)
		}

		res = tx.Where("id = ? AND chat_id = ?", messageID, chatID).Delete(&models.Message{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFoundf("message %s", messageID)
		}
		return nil
	})
}

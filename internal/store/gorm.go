package store

import (
	"context"
	"errors"

	"personachat/internal/models"

	"gorm.io/gorm"
)

// GormStore 是 Gateway 的 gorm 实现，postgres 与 sqlite 通用。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if !msg.HasSingleAuthor() {
		return ErrInvalidMessage
	}
	return s.db.WithContext(ctx).Omit("User", "Persona", "Attachments").Create(msg).Error
}

func (s *GormStore) CreateMessageWithAttachment(ctx context.Context, msg *models.Message, att *models.Attachment) error {
	if !msg.HasSingleAuthor() {
		return ErrInvalidMessage
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("User", "Persona", "Attachments").Create(msg).Error; err != nil {
			return err
		}
		att.MessageID = msg.ID
		if err := tx.Create(att).Error; err != nil {
			return err
		}
		msg.Attachments = []models.Attachment{*att}
		return nil
	})
}

func (s *GormStore) withAuthors(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("User").
		Preload("Persona").
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") })
}

func (s *GormStore) MessagesByRoom(ctx context.Context, roomID uint, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var msgs []models.Message
	if err := s.withAuthors(ctx).Where("room_id = ?", roomID).Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *GormStore) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	if err := s.withAuthors(ctx).First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

func (s *GormStore) CreateAttachment(ctx context.Context, att *models.Attachment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Message{}).Where("id = ?", att.MessageID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrMessageNotFound
		}
		return tx.Create(att).Error
	})
}

func (s *GormStore) StarMessage(ctx context.Context, id uint, starred bool) (*models.Message, error) {
	// 值未变化时部分驱动 RowsAffected 为 0，因此以重新读取判断是否存在
	if err := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Update("starred", starred).Error; err != nil {
		return nil, err
	}
	return s.GetMessage(ctx, id)
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *GormStore) AllUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("id asc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *GormStore) GetPersona(ctx context.Context, id uint) (*models.Persona, error) {
	var p models.Persona
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPersonaNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) GetRoom(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.WithContext(ctx).First(&room, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// Package store 定义实时核心消费的持久化网关接口，并提供基于 gorm 的实现。
package store

import (
	"context"
	"errors"

	"personachat/internal/models"
)

var (
	ErrInvalidMessage  = errors.New("message must have exactly one author")
	ErrMessageNotFound = errors.New("message not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrPersonaNotFound = errors.New("persona not found")
	ErrRoomNotFound    = errors.New("room not found")
)

// MessageStore 负责消息与附件的持久化，消息 id 的分配顺序即房间内的消息顺序。
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	// CreateMessageWithAttachment 在同一事务中创建消息及其附件。
	CreateMessageWithAttachment(ctx context.Context, msg *models.Message, att *models.Attachment) error
	// MessagesByRoom 返回房间最近 limit 条消息，按 id 升序，附带作者与附件。
	MessagesByRoom(ctx context.Context, roomID uint, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	CreateAttachment(ctx context.Context, att *models.Attachment) error
	StarMessage(ctx context.Context, id uint, starred bool) (*models.Message, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	AllUsers(ctx context.Context) ([]models.User, error)
}

type PersonaStore interface {
	GetPersona(ctx context.Context, id uint) (*models.Persona, error)
}

type RoomStore interface {
	GetRoom(ctx context.Context, id uint) (*models.Room, error)
}

// Gateway 聚合实时核心用到的全部存储能力。
type Gateway interface {
	MessageStore
	UserStore
	PersonaStore
	RoomStore
}

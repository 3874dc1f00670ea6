package service

import (
	"context"
	"errors"

	"personachat/internal/models"
	"personachat/internal/store"
	"personachat/internal/ws"

	"gorm.io/gorm"
)

// Broadcaster 把事件推送给房间内的连接，由 ws.Hub 实现。
type Broadcaster interface {
	Broadcast(roomID uint, evt ws.Event)
}

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	db       *gorm.DB
	messages store.MessageStore
	hub      Broadcaster
}

func NewMessageService(db *gorm.DB, messages store.MessageStore, hub Broadcaster) *MessageService {
	return &MessageService{db: db, messages: messages, hub: hub}
}

// ListByRoom 分页查询指定房间的消息，按 id 升序返回，作者与附件一并带出。
func (s *MessageService) ListByRoom(ctx context.Context, roomID uint, limit int, beforeID uint) ([]ws.MessageView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := s.db.WithContext(ctx).
		Preload("User").
		Preload("Persona").
		Preload("Attachments").
		Where("room_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	out := make([]ws.MessageView, len(msgs))
	// 反转为升序
	for i := range msgs {
		out[len(msgs)-1-i] = ws.ViewOf(&msgs[i])
	}
	return out, nil
}

// Star 设置消息的收藏状态并通知所在房间；starred 为 nil 时取反当前状态。
func (s *MessageService) Star(ctx context.Context, id uint, starred *bool) (*ws.MessageView, error) {
	want := true
	if starred != nil {
		want = *starred
	} else {
		cur, err := s.messages.GetMessage(ctx, id)
		if err != nil {
			return nil, mapMessageErr(err)
		}
		want = !cur.Starred
	}
	msg, err := s.messages.StarMessage(ctx, id, want)
	if err != nil {
		return nil, mapMessageErr(err)
	}
	s.hub.Broadcast(msg.RoomID, ws.MessageStarredEvent(msg))
	view := ws.ViewOf(msg)
	return &view, nil
}

func mapMessageErr(err error) error {
	if errors.Is(err, store.ErrMessageNotFound) {
		return ErrMessageNotFound
	}
	return err
}

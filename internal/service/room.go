package service

import (
	"context"
	"errors"

	"personachat/internal/models"

	"gorm.io/gorm"
)

const (
	defaultRoomPage = 100
	maxRoomPage     = 200
)

// OnlineCounter 提供房间在线人数，由 ws.Hub 实现。
type OnlineCounter interface {
	Online(roomID uint) int
}

// RoomService 封装房间相关的业务逻辑。
type RoomService struct {
	db       *gorm.DB
	presence OnlineCounter
}

func NewRoomService(db *gorm.DB, presence OnlineCounter) *RoomService {
	return &RoomService{db: db, presence: presence}
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Online int    `json:"online"`
}

// Create 创建房间，房间名唯一。
func (s *RoomService) Create(ctx context.Context, name string, ownerID uint) (*RoomDTO, error) {
	db := s.db.WithContext(ctx)
	taken, err := columnTaken(db, &models.Room{}, "name", name)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrRoomNameTaken
	}
	room := models.Room{Name: name, OwnerID: ownerID}
	if err := db.Create(&room).Error; err != nil {
		return nil, err
	}
	return &RoomDTO{ID: room.ID, Name: room.Name}, nil
}

// List 返回最新创建的 limit 个房间，Online 取自实时在线表。
func (s *RoomService) List(ctx context.Context, limit int) ([]RoomDTO, error) {
	if limit <= 0 || limit > maxRoomPage {
		limit = defaultRoomPage
	}
	var rooms []models.Room
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&rooms).Error; err != nil {
		return nil, err
	}
	out := make([]RoomDTO, len(rooms))
	for i, r := range rooms {
		out[i] = RoomDTO{ID: r.ID, Name: r.Name, Online: s.presence.Online(r.ID)}
	}
	return out, nil
}

// Exists 返回房间记录，不存在时为 ErrRoomNotFound。
func (s *RoomService) Exists(ctx context.Context, roomID uint) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).Take(&room, roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

package service

import (
	"errors"

	"gorm.io/gorm"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomNameTaken      = errors.New("room name taken")
	ErrMessageNotFound    = errors.New("message not found")
	ErrPersonaNotFound    = errors.New("persona not found")
	ErrForbidden          = errors.New("forbidden")
)

// columnTaken 判断 model 表中 column 是否已有值 value。
func columnTaken(db *gorm.DB, model any, column, value string) (bool, error) {
	var n int64
	if err := db.Model(model).Where(column+" = ?", value).Limit(1).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

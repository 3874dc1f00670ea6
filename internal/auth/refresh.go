package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"personachat/internal/models"

	"gorm.io/gorm"
)

// ErrRefreshTokenInvalid 表示 refresh token 不存在、已吊销或已过期。
var ErrRefreshTokenInvalid = errors.New("refresh token invalid")

const refreshTokenBytes = 32

// GenerateRefreshToken 返回 64 位十六进制的随机串。
func GenerateRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func SaveRefreshToken(ctx context.Context, db *gorm.DB, userID uint, token string, expiresAt time.Time) error {
	return db.WithContext(ctx).Create(&models.RefreshToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
	}).Error
}

// ValidateRefreshToken 查找仍可用的 refresh token。
func ValidateRefreshToken(ctx context.Context, db *gorm.DB, token string) (*models.RefreshToken, error) {
	var rec models.RefreshToken
	err := db.WithContext(ctx).
		Where("token = ?", token).
		Where("revoked_at IS NULL").
		Where("expires_at > ?", time.Now()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRefreshTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// RevokeRefreshToken 标记吊销时间，重复吊销无副作用。
func RevokeRefreshToken(ctx context.Context, db *gorm.DB, token string) error {
	return db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", time.Now()).Error
}

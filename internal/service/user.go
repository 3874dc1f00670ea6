package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"personachat/internal/auth"
	"personachat/internal/config"
	"personachat/internal/models"
	"personachat/internal/store"

	"gorm.io/gorm"
)

// UserService 封装用户相关的业务逻辑。
type UserService struct {
	db    *gorm.DB
	users store.UserStore
	cfg   config.Config
}

func NewUserService(db *gorm.DB, users store.UserStore, cfg config.Config) *UserService {
	return &UserService{db: db, users: users, cfg: cfg}
}

// UserDTO 是对外输出的用户数据。
type UserDTO struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func userDTO(u models.User) UserDTO {
	return UserDTO{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}

// Register 注册新用户，用户名唯一。
func (s *UserService) Register(ctx context.Context, username, password string) (*UserDTO, error) {
	db := s.db.WithContext(ctx)
	taken, err := columnTaken(db, &models.User{}, "username", username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{Username: username, PasswordHash: hash}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	dto := userDTO(user)
	return &dto, nil
}

// TokenPair 是登录或刷新后签发的 token 对。
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	TokenPair
	User UserDTO `json:"user"`
}

// Login 校验用户名密码并签发 token 对；用户不存在与密码错误返回同一个错误。
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	case !auth.VerifyPassword(user.PasswordHash, password):
		return nil, ErrInvalidCredentials
	}
	pair, err := s.issue(ctx, s.db, user.ID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{TokenPair: *pair, User: userDTO(user)}, nil
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(ctx context.Context, oldRT string) (*TokenPair, error) {
	var pair *TokenPair
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(ctx, tx, oldRT)
		if err != nil {
			return err
		}
		if err := auth.RevokeRefreshToken(ctx, tx, oldRT); err != nil {
			return err
		}
		pair, err = s.issue(ctx, tx, rec.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *UserService) issue(ctx context.Context, db *gorm.DB, userID uint) (*TokenPair, error) {
	at, err := auth.GenerateAccessToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(ctx, db, userID, rt, exp); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: at, RefreshToken: rt}, nil
}

// List 返回全部用户，按 id 升序。
func (s *UserService) List(ctx context.Context) ([]UserDTO, error) {
	users, err := s.users.AllUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, userDTO(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"personachat/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken 覆盖签名错误、过期、算法不符以及缺少用户 id。
var ErrInvalidToken = errors.New("invalid token")

// ctxUserID 是 Middleware 写入 gin.Context 的 key。
const ctxUserID = "userID"

// Claims 是 access token 的载荷。
type Claims struct {
	UserID uint `json:"uid"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyPassword(hash, pw string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	return err == nil
}

// GenerateAccessToken 签发 HS256 access token，有效期 ttlMinutes 分钟。
func GenerateAccessToken(userID uint, secret string, ttlMinutes int) (string, error) {
	issued := time.Now()
	expires := issued.Add(time.Duration(ttlMinutes) * time.Minute)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	return tok.SignedString([]byte(secret))
}

// ParseAccessToken 只接受 HS256 签名且未过期的 token。
func ParseAccessToken(raw, secret string) (*Claims, error) {
	claims := &Claims{}
	keyFunc := func(*jwt.Token) (any, error) { return []byte(secret), nil }
	tok, err := jwt.ParseWithClaims(raw, claims, keyFunc, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken 取请求携带的 token：?token= 优先（浏览器 WebSocket 无法设置请求头），否则读 Authorization。
func BearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// Middleware 要求合法的 Bearer token 且用户仍然存在，然后把用户 id 写入上下文。
func Middleware(secret string, users store.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := BearerToken(c.Request)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := ParseAccessToken(raw, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		user, err := users.GetUser(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.Set(ctxUserID, user.ID)
		c.Next()
	}
}

// GetUserID 返回 Middleware 认证过的用户 id，未认证时为 0。
func GetUserID(c *gin.Context) uint {
	id, _ := c.Value(ctxUserID).(uint)
	return id
}

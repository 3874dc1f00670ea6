package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"personachat/internal/auth"
	"personachat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageSize = 50
	roomListLimit   = 100
	maxNameLen      = 128
)

// Handler 聚合 REST 接口，业务逻辑全部在 service 层。
type Handler struct {
	users    *service.UserService
	rooms    *service.RoomService
	messages *service.MessageService
	personas *service.PersonaService
}

func NewHandler(users *service.UserService, rooms *service.RoomService, messages *service.MessageService, personas *service.PersonaService) *Handler {
	return &Handler{users: users, rooms: rooms, messages: messages, personas: personas}
}

// clientErrors 把 service 层的哨兵错误映射为 HTTP 状态码与对外文案。
var clientErrors = []struct {
	err    error
	status int
	text   string
}{
	{service.ErrUsernameTaken, http.StatusConflict, "username taken"},
	{service.ErrRoomNameTaken, http.StatusConflict, "room name taken"},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials"},
	{service.ErrRoomNotFound, http.StatusNotFound, "room not found"},
	{service.ErrMessageNotFound, http.StatusNotFound, "message not found"},
	{service.ErrPersonaNotFound, http.StatusNotFound, "persona not found"},
	{service.ErrForbidden, http.StatusForbidden, "forbidden"},
}

func abort(c *gin.Context, status int, text string) {
	c.AbortWithStatusJSON(status, gin.H{"error": text})
}

// fail 输出 err 对应的响应；未知错误记日志并以 fallback 文案返回 500。
func fail(c *gin.Context, err error, fallback string) {
	for _, ce := range clientErrors {
		if errors.Is(err, ce.err) {
			abort(c, ce.status, ce.text)
			return
		}
	}
	log.Error().Err(err).Str("route", c.FullPath()).Uint("user_id", auth.GetUserID(c)).Msg(fallback)
	abort(c, http.StatusInternalServerError, fallback)
}

// idParam 解析路径中的 :id，非法时直接写 400。
func idParam(c *gin.Context, what string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		abort(c, http.StatusBadRequest, "invalid "+what+" id")
		return 0, false
	}
	return uint(id), true
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func bindCredentials(c *gin.Context) (credentials, bool) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid payload")
		return req, false
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		abort(c, http.StatusBadRequest, "invalid payload")
		return req, false
	}
	return req, true
}

// Register 创建账号。用户名 2~64 字节，密码 4~128 字节。
func (h *Handler) Register(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}
	switch {
	case len(req.Username) < 2 || len(req.Username) > 64:
		abort(c, http.StatusBadRequest, "invalid username")
		return
	case len(req.Password) < 4 || len(req.Password) > 128:
		abort(c, http.StatusBadRequest, "invalid password")
		return
	}
	user, err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err, "failed to create user")
		return
	}
	c.JSON(http.StatusOK, user)
}

// Login 校验口令并签发 access / refresh token。
func (h *Handler) Login(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}
	res, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err, "login failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// RefreshToken 轮换 refresh token；旧 token 立即作废。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		abort(c, http.StatusBadRequest, "invalid payload")
		return
	}
	pair, err := h.users.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token rejected")
		abort(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		fail(c, err, "failed to list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid payload")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > maxNameLen {
		abort(c, http.StatusBadRequest, "invalid room name")
		return
	}
	room, err := h.rooms.Create(c.Request.Context(), name, auth.GetUserID(c))
	if err != nil {
		fail(c, err, "failed to create room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// ListRooms 返回房间列表，online 为当前在线人数。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.List(c.Request.Context(), roomListLimit)
	if err != nil {
		fail(c, err, "failed to list rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// ListMessages 分页读取房间消息：?limit=N&before_id=M 取 id<M 的最近 N 条，按时间正序。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID, ok := idParam(c, "room")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.rooms.Exists(ctx, roomID); err != nil {
		fail(c, err, "failed to list messages")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil {
		limit = defaultPageSize
	}
	var before uint
	if v, err := strconv.ParseUint(c.Query("before_id"), 10, 64); err == nil {
		before = uint(v)
	}
	msgs, err := h.messages.ListByRoom(ctx, roomID, limit, before)
	if err != nil {
		fail(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// StarMessage 设置收藏状态；请求体为空时切换。
func (h *Handler) StarMessage(c *gin.Context) {
	id, ok := idParam(c, "message")
	if !ok {
		return
	}
	var req struct {
		Starred *bool `json:"starred"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "invalid payload")
			return
		}
	}
	msg, err := h.messages.Star(c.Request.Context(), id, req.Starred)
	if err != nil {
		fail(c, err, "failed to star message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) ListPersonas(c *gin.Context) {
	personas, err := h.personas.List(c.Request.Context())
	if err != nil {
		fail(c, err, "failed to list personas")
		return
	}
	c.JSON(http.StatusOK, gin.H{"personas": personas})
}

func (h *Handler) GetPersona(c *gin.Context) {
	id, ok := idParam(c, "persona")
	if !ok {
		return
	}
	p, err := h.personas.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err, "failed to load persona")
		return
	}
	c.JSON(http.StatusOK, gin.H{"persona": p})
}

func (h *Handler) CreatePersona(c *gin.Context) {
	var req struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		SamplePrompt string `json:"samplePrompt"`
		AvatarURL    string `json:"avatarUrl"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid payload")
		return
	}
	in := service.PersonaInput{
		Name:         strings.TrimSpace(req.Name),
		Description:  strings.TrimSpace(req.Description),
		SamplePrompt: strings.TrimSpace(req.SamplePrompt),
		AvatarURL:    strings.TrimSpace(req.AvatarURL),
	}
	if in.Name == "" || len(in.Name) > maxNameLen {
		abort(c, http.StatusBadRequest, "invalid persona name")
		return
	}
	p, err := h.personas.Create(c.Request.Context(), in, auth.GetUserID(c))
	if err != nil {
		fail(c, err, "failed to create persona")
		return
	}
	c.JSON(http.StatusOK, gin.H{"persona": p})
}

// DeletePersona 只允许创建者删除自己的非内置人设。
func (h *Handler) DeletePersona(c *gin.Context) {
	id, ok := idParam(c, "persona")
	if !ok {
		return
	}
	if err := h.personas.Delete(c.Request.Context(), id, auth.GetUserID(c)); err != nil {
		fail(c, err, "failed to delete persona")
		return
	}
	c.Status(http.StatusNoContent)
}

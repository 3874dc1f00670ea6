package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"personachat/internal/ai"
	"personachat/internal/metrics"
	"personachat/internal/models"
	"personachat/internal/store"

	"github.com/rs/zerolog/log"
)

// FallbackReply 是生成失败时以人设身份发出的固定台词。
const FallbackReply = "I'm having trouble accessing my knowledge. Please try again later."

const (
	// contextPriorMessages 是触发消息之外带入上下文的历史条数。
	contextPriorMessages = 3
	aiErrorMessage       = "Failed to generate AI response"
)

// Stage 是一次人设回复流程所处的阶段。
type Stage int

const (
	StageIdle Stage = iota
	StagePersisting
	StageTyping
	StageGenerating
	StageCompleting
	StageDegrading
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StagePersisting:
		return "persisting"
	case StageTyping:
		return "typing"
	case StageGenerating:
		return "generating"
	case StageCompleting:
		return "completing"
	case StageDegrading:
		return "degrading"
	case StageFailed:
		return "failed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Outcome 是一次流程的终态。Message 为实际广播的消息（回复或兜底台词），
// Err 记录导致降级或失败的原因。
type Outcome struct {
	Stage   Stage
	Message *models.Message
	Err     error
}

// Orchestrator 负责消息落库后广播，以及人设回复的完整流程。
type Orchestrator struct {
	hub      *Hub
	messages store.MessageStore
	personas store.PersonaStore
	gen      ai.Generator
	timeout  time.Duration
}

func NewOrchestrator(hub *Hub, messages store.MessageStore, personas store.PersonaStore, gen ai.Generator, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{hub: hub, messages: messages, personas: personas, gen: gen, timeout: timeout}
}

// Post 持久化一条人类消息并广播 new_message；广播一定发生在落库完成之后。
func (o *Orchestrator) Post(ctx context.Context, author *models.User, msg *models.Message) error {
	if err := o.messages.CreateMessage(ctx, msg); err != nil {
		return &PersistenceError{Op: "send message", Err: err}
	}
	msg.User = author
	metrics.MessagesPersisted.WithLabelValues("user").Inc()
	o.hub.Broadcast(msg.RoomID, newMessageEvent(msg))
	return nil
}

// PostWithAttachment 在同一事务中创建消息与附件后广播。
func (o *Orchestrator) PostWithAttachment(ctx context.Context, author *models.User, msg *models.Message, att *models.Attachment) error {
	if err := o.messages.CreateMessageWithAttachment(ctx, msg, att); err != nil {
		return &PersistenceError{Op: "send attachment", Err: err}
	}
	msg.User = author
	metrics.MessagesPersisted.WithLabelValues("user").Inc()
	o.hub.Broadcast(msg.RoomID, newMessageEvent(msg))
	return nil
}

// Respond 对已落库并广播的 trigger 执行一次人设回复：
// Typing → Generating → Completing，或 Degrading（兜底台词）→ Failed（ai_error）。
// 不重试：至多一次生成、至多一次兜底。ctx 不应随请求连接取消。
func (o *Orchestrator) Respond(ctx context.Context, trigger *models.Message, personaID uint) Outcome {
	roomID := trigger.RoomID
	logger := log.With().Uint("room_id", roomID).Uint("persona_id", personaID).Uint("trigger_id", trigger.ID).Logger()

	o.hub.Broadcast(roomID, personaTypingEvent(personaID, roomID))

	persona, err := o.personas.GetPersona(ctx, personaID)
	if err != nil {
		if errors.Is(err, store.ErrPersonaNotFound) {
			metrics.GenerationTotal.WithLabelValues("persona_not_found").Inc()
			return Outcome{Stage: StageTyping, Err: ErrPersonaNotFound}
		}
		logger.Error().Err(err).Msg("load persona")
		return Outcome{Stage: StageTyping, Err: &PersistenceError{Op: "load persona", Err: err}}
	}

	reply, cause := o.generate(ctx, *persona, o.contextWindow(ctx, trigger))
	if cause == nil {
		msg := &models.Message{RoomID: roomID, PersonaID: &persona.ID, Content: reply}
		err := o.postPersona(ctx, persona, msg)
		if err == nil {
			metrics.GenerationTotal.WithLabelValues("completed").Inc()
			return Outcome{Stage: StageCompleting, Message: msg}
		}
		cause = &PersistenceError{Op: "save reply", Err: err}
	}

	logger.Warn().Err(cause).Msg("persona reply degraded to fallback")
	fallback := &models.Message{RoomID: roomID, PersonaID: &persona.ID, Content: FallbackReply}
	if err := o.postPersona(ctx, persona, fallback); err != nil {
		logger.Error().Err(err).Msg("fallback message not saved")
		o.hub.Broadcast(roomID, aiErrorEvent(persona.ID, aiErrorMessage))
		metrics.GenerationTotal.WithLabelValues("failed").Inc()
		return Outcome{Stage: StageFailed, Err: &PersistenceError{Op: "save fallback", Err: err}}
	}
	metrics.GenerationTotal.WithLabelValues("fallback").Inc()
	return Outcome{Stage: StageDegrading, Message: fallback, Err: cause}
}

// generate 只对生成调用本身施加超时，后续落库使用原始 ctx。
func (o *Orchestrator) generate(ctx context.Context, persona models.Persona, window []models.Message) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	reply, err := o.gen.GenerateReply(genCtx, persona, window)
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, ai.ErrGeneration) {
			err = fmt.Errorf("%w: %v", ai.ErrGeneration, err)
		}
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", ai.ErrGeneration)
	}
	return reply, nil
}

// contextWindow 把触发消息放在首位，其后是至多 3 条更早的房间消息（新的在前）。
func (o *Orchestrator) contextWindow(ctx context.Context, trigger *models.Message) []models.Message {
	window := make([]models.Message, 0, contextPriorMessages+1)
	window = append(window, *trigger)

	recent, err := o.messages.MessagesByRoom(ctx, trigger.RoomID, contextPriorMessages*3)
	if err != nil {
		log.Warn().Err(err).Uint("room_id", trigger.RoomID).Msg("load context messages")
		return window
	}
	for i := len(recent) - 1; i >= 0 && len(window) <= contextPriorMessages; i-- {
		if recent[i].ID >= trigger.ID {
			continue
		}
		window = append(window, recent[i])
	}
	return window
}

func (o *Orchestrator) postPersona(ctx context.Context, persona *models.Persona, msg *models.Message) error {
	if err := o.messages.CreateMessage(ctx, msg); err != nil {
		return err
	}
	msg.Persona = persona
	metrics.MessagesPersisted.WithLabelValues("persona").Inc()
	o.hub.Broadcast(msg.RoomID, newMessageEvent(msg))
	return nil
}

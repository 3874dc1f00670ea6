// Package ai wraps the text-generation backend used for persona replies.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"personachat/internal/models"
)

// ErrGeneration marks every failure of the generation capability: transport
// errors, timeouts, non-2xx responses and malformed or empty output.
var ErrGeneration = errors.New("generation failed")

// Generator produces an in-character reply. contextMessages[0] is the message
// being answered; the rest are prior room messages, most recent first.
type Generator interface {
	GenerateReply(ctx context.Context, persona models.Persona, contextMessages []models.Message) (string, error)
}

func generationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGeneration, fmt.Sprintf(format, args...))
}

// SystemPrompt describes the persona to the model.
func SystemPrompt(p models.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Stay in character and reply in a single chat message.", p.Name)
	if d := strings.TrimSpace(p.Description); d != "" {
		fmt.Fprintf(&b, "\nAbout you: %s", d)
	}
	if s := strings.TrimSpace(p.SamplePrompt); s != "" {
		fmt.Fprintf(&b, "\nExample of your voice: %q", s)
	}
	return b.String()
}

// Turn is one chat-completion message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript converts the context window into chronological turns. Messages
// written by the persona itself become assistant turns.
func Transcript(persona models.Persona, contextMessages []models.Message) []Turn {
	turns := make([]Turn, 0, len(contextMessages)+1)
	turns = append(turns, Turn{Role: "system", Content: SystemPrompt(persona)})
	if len(contextMessages) == 0 {
		return turns
	}
	// prior messages arrive newest first; replay them oldest first and finish
	// with the message being answered
	for i := len(contextMessages) - 1; i >= 1; i-- {
		turns = append(turns, turnFor(persona, contextMessages[i]))
	}
	return append(turns, turnFor(persona, contextMessages[0]))
}

func turnFor(persona models.Persona, m models.Message) Turn {
	if m.PersonaID != nil && *m.PersonaID == persona.ID {
		return Turn{Role: "assistant", Content: m.Content}
	}
	speaker := "someone"
	switch {
	case m.User != nil:
		speaker = m.User.Username
	case m.Persona != nil:
		speaker = m.Persona.Name
	}
	return Turn{Role: "user", Content: speaker + ": " + m.Content}
}

// Static always answers with a canned line; used when no backend is configured.
type Static struct {
	Reply string
}

func (s Static) GenerateReply(_ context.Context, persona models.Persona, _ []models.Message) (string, error) {
	if s.Reply != "" {
		return s.Reply, nil
	}
	if persona.SamplePrompt != "" {
		return persona.SamplePrompt, nil
	}
	return "", generationError("no generation backend configured")
}

// Package prompt builds the instruction text sent to the model. Build is
// pure: identical inputs always produce identical prompt text.
package prompt

import (
	"fmt"
	"strings"

	"github.com/sodafloatlab/homebiyori-chat/internal/conversation"
	"github.com/sodafloatlab/homebiyori-chat/internal/persona"
	"github.com/sodafloatlab/homebiyori-chat/internal/plan"
)

// GroupReply identifies an earlier same-round reply by another persona.
// Only the gist travels in the prompt to keep its size bounded.
type GroupReply struct {
	PersonaID string `json:"persona_id"`
	Gist      string `json:"gist"`
}

// Input carries everything Build composes from.
type Input struct {
	Persona      persona.Spec
	Mood         persona.Mood
	Tier         plan.Tier
	Window       *conversation.Window
	UserMessage  string
	PriorReplies []GroupReply
}

// Build composes the prompt in fixed order: persona and mood instructions,
// tier constraints, running summary, buffered turns in chronological order,
// group-round avoidance instruction, then the current user message.
func Build(in Input) string {
	var b strings.Builder

	b.WriteString(strings.TrimSpace(in.Persona.Style))
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(in.Persona.MoodInstruction(in.Mood)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "返答は%d文字程度にまとめてください。", in.Tier.ReplyTargetChars())
	b.WriteString("医療・発達に関する診断や断定はせず、必要なら専門家への相談をすすめてください。\n")

	if in.Window != nil && strings.TrimSpace(in.Window.Summary) != "" {
		b.WriteString("\nこれまでの会話の要約(背景情報):\n")
		b.WriteString(strings.TrimSpace(in.Window.Summary))
		b.WriteString("\n")
	}

	if in.Window != nil && len(in.Window.Turns) > 0 {
		b.WriteString("\n直近の会話:\n")
		for _, turn := range in.Window.Turns {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
		}
	}

	if len(in.PriorReplies) > 0 {
		b.WriteString("\nこのメッセージには他のキャラクターがすでに返答しています。同じ切り口の励ましを繰り返さず、別の視点から返答してください。すでにされた返答:\n")
		for _, prior := range in.PriorReplies {
			fmt.Fprintf(&b, "- %s: %s\n", prior.PersonaID, prior.Gist)
		}
	}

	b.WriteString("\nuser: ")
	b.WriteString(strings.TrimSpace(in.UserMessage))
	b.WriteString("\n")

	return b.String()
}

// gistMaxRunes bounds how much of a reply is carried into later prompts of
// the same group round.
const gistMaxRunes = 60

// Gist condenses a reply into a short single-line extract.
func Gist(text string) string {
	fields := strings.Fields(text)
	collapsed := strings.Join(fields, " ")
	runes := []rune(collapsed)
	if len(runes) <= gistMaxRunes {
		return collapsed
	}
	return string(runes[:gistMaxRunes]) + "…"
}

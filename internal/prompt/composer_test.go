package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/sodafloatlab/homebiyori-chat/internal/conversation"
	"github.com/sodafloatlab/homebiyori-chat/internal/history"
	"github.com/sodafloatlab/homebiyori-chat/internal/persona"
	"github.com/sodafloatlab/homebiyori-chat/internal/plan"
)

func testSpec() persona.Spec {
	return persona.Spec{
		ID:          "tama",
		DisplayName: "たまさん",
		Style:       "あなたは穏やかなおばあちゃんです。",
		Moods: map[string]string{
			"praise": "相手を褒めてください。",
			"listen": "聞き役に徹してください。",
		},
		FallbackReplies: []string{"今日もお疲れさま。"},
	}
}

func testWindow() *conversation.Window {
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	return &conversation.Window{
		ConversationKey: "u1:tama",
		Summary:         "保育園の送り迎えで疲れている。",
		Turns: []history.Turn{
			{Role: history.RoleUser, Text: "昨日は夜泣きがひどくて", CreatedAt: at},
			{Role: history.RoleAssistant, Text: "それは大変でしたね", CreatedAt: at.Add(time.Second)},
		},
		TokenBudget: 1024,
	}
}

func baseInput() Input {
	return Input{
		Persona:     testSpec(),
		Mood:        persona.MoodPraise,
		Tier:        plan.TierFree,
		Window:      testWindow(),
		UserMessage: "今日は疲れました",
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	in := baseInput()
	first := Build(in)
	second := Build(in)
	if first != second {
		t.Fatal("Build() produced different text for identical inputs")
	}
	if first == "" {
		t.Fatal("Build() produced empty prompt")
	}
}

func TestBuildCompositionOrder(t *testing.T) {
	out := Build(baseInput())

	idx := func(sub string) int {
		i := strings.Index(out, sub)
		if i < 0 {
			t.Fatalf("prompt missing %q\nprompt:\n%s", sub, out)
		}
		return i
	}

	style := idx("穏やかなおばあちゃん")
	mood := idx("褒めてください")
	constraint := idx("150文字程度")
	summary := idx("保育園の送り迎え")
	turns := idx("user: 昨日は夜泣きがひどくて")
	message := idx("user: 今日は疲れました")

	order := []int{style, mood, constraint, summary, turns, message}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Fatalf("composition out of order at position %d: %v", i, order)
		}
	}
}

func TestBuildTierConstraints(t *testing.T) {
	in := baseInput()
	in.Tier = plan.TierPremium
	out := Build(in)
	if !strings.Contains(out, "400文字程度") {
		t.Fatalf("premium prompt missing length target:\n%s", out)
	}
	if !strings.Contains(out, "診断や断定はせず") {
		t.Fatal("prompt missing prohibited-claims constraint")
	}
}

func TestBuildGroupRoundAvoidance(t *testing.T) {
	in := baseInput()
	in.PriorReplies = []GroupReply{
		{PersonaID: "madoka", Gist: "頑張りを明るく称えた"},
		{PersonaID: "hide", Gist: "静かに労った"},
	}
	out := Build(in)
	if !strings.Contains(out, "同じ切り口の励ましを繰り返さず") {
		t.Fatal("group prompt missing avoidance instruction")
	}
	if !strings.Contains(out, "madoka: 頑張りを明るく称えた") || !strings.Contains(out, "hide: 静かに労った") {
		t.Fatalf("group prompt missing prior gists:\n%s", out)
	}

	in.PriorReplies = nil
	out = Build(in)
	if strings.Contains(out, "同じ切り口") {
		t.Fatal("solo prompt must not carry the avoidance instruction")
	}
}

func TestBuildEmptyWindow(t *testing.T) {
	in := baseInput()
	in.Window = &conversation.Window{ConversationKey: "u1:tama", TokenBudget: 1024}
	out := Build(in)
	if strings.Contains(out, "これまでの会話の要約") {
		t.Fatal("prompt must omit the summary block when there is no summary")
	}
	if strings.Contains(out, "直近の会話") {
		t.Fatal("prompt must omit the history block when there are no turns")
	}
	if !strings.Contains(out, "user: 今日は疲れました") {
		t.Fatal("prompt missing current user message")
	}
}

func TestGist(t *testing.T) {
	if got := Gist("  短い   返事  "); got != "短い 返事" {
		t.Fatalf("Gist() = %q, want collapsed whitespace", got)
	}
	long := strings.Repeat("あ", 100)
	got := Gist(long)
	if len([]rune(got)) != 61 || !strings.HasSuffix(got, "…") {
		t.Fatalf("Gist(long) = %q, want 60 runes plus ellipsis", got)
	}
}

package persona

import "testing"

func TestLoadRegistryEmbeddedSpecs(t *testing.T) {
	r, err := LoadRegistry()
	if err != nil {
		t.Fatalf("LoadRegistry() error = %v", err)
	}
	if r.Version() == "" {
		t.Fatal("registry version is empty")
	}

	for _, id := range []string{"tama", "madoka", "hide"} {
		spec, ok := r.Get(id)
		if !ok {
			t.Fatalf("Get(%q) = false, want persona present", id)
		}
		if spec.DisplayName == "" || spec.Style == "" {
			t.Fatalf("persona %q has empty display name or style", id)
		}
		if len(spec.FallbackReplies) < 2 {
			t.Fatalf("persona %q has %d fallback replies, want at least 2 for rotation", id, len(spec.FallbackReplies))
		}
		if spec.MoodInstruction(MoodPraise) == "" || spec.MoodInstruction(MoodListen) == "" {
			t.Fatalf("persona %q missing mood instructions", id)
		}
	}

	if _, ok := r.Get("clippy"); ok {
		t.Fatal("Get(clippy) = true, want unknown persona rejected")
	}
}

func TestLoadRegistryRejectsInvalidSpecs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no version", "personas:\n  - id: a\n    style: s\n"},
		{"no personas", "version: \"1\"\n"},
		{"empty id", "version: \"1\"\npersonas:\n  - id: \"\"\n    style: s\n"},
		{"no fallbacks", "version: \"1\"\npersonas:\n  - id: a\n    style: s\n    moods: {praise: p, listen: l}\n"},
		{"missing mood", "version: \"1\"\npersonas:\n  - id: a\n    style: s\n    moods: {praise: p}\n    fallback_replies: [x]\n"},
		{"duplicate id", "version: \"1\"\npersonas:\n  - {id: a, style: s, moods: {praise: p, listen: l}, fallback_replies: [x]}\n  - {id: a, style: s, moods: {praise: p, listen: l}, fallback_replies: [x]}\n"},
	}
	for _, tc := range cases {
		if _, err := loadRegistry([]byte(tc.yaml)); err == nil {
			t.Errorf("loadRegistry(%s) expected error", tc.name)
		}
	}
}

func TestParseMood(t *testing.T) {
	if m, err := ParseMood(""); err != nil || m != MoodPraise {
		t.Fatalf("ParseMood(\"\") = (%q, %v), want default praise", m, err)
	}
	if m, err := ParseMood("LISTEN"); err != nil || m != MoodListen {
		t.Fatalf("ParseMood(LISTEN) = (%q, %v), want listen", m, err)
	}
	if _, err := ParseMood("angry"); err == nil {
		t.Fatal("ParseMood(angry) expected error")
	}
}

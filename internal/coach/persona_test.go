package coach_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/MrWong99/introcoach/internal/coach"
)

func ids(ps []coach.Persona) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestPresets(t *testing.T) {
	t.Parallel()
	want := []string{"team-member", "company-event", "external-engineer", "client-meeting-pl", "job-interviewer"}
	got := ids(coach.Presets())
	if len(got) != len(want) {
		t.Fatalf("presets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("presets[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, p := range coach.Presets() {
		if p.Kind != coach.KindPreset || p.Validate() != nil || p.Description == "" {
			t.Errorf("preset %q malformed: %+v", p.ID, p)
		}
	}

	// Callers cannot mutate the built-ins.
	ps := coach.Presets()
	ps[0].Name = "changed"
	if coach.Presets()[0].Name == "changed" {
		t.Error("Presets returned shared storage")
	}
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	c := coach.NewCatalog(
		coach.Persona{ID: "team-member", Name: "隣の席の先輩", Prompt: "先輩として評価"},
		coach.Persona{ID: "meetup", Kind: coach.KindCustom, Name: "勉強会の参加者", Prompt: "勉強会で評価"},
		coach.Persona{ID: "", Name: "no id", Prompt: "x"},
		coach.Persona{ID: "broken", Name: "", Prompt: "x"},
	)

	got := ids(c.List())
	want := []string{"team-member", "company-event", "external-engineer", "client-meeting-pl", "job-interviewer", "meetup"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	tm, ok := c.Get("team-member")
	if !ok || tm.Name != "隣の席の先輩" || tm.Kind != coach.KindPreset {
		t.Errorf("override = %+v, %v", tm, ok)
	}
	if m, _ := c.Get("meetup"); m.Kind != coach.KindCustom {
		t.Errorf("meetup kind = %q", m.Kind)
	}
	if _, ok := c.Get("broken"); ok {
		t.Error("invalid persona was added")
	}

	c.Replace(nil)
	if len(c.List()) != 5 {
		t.Errorf("after Replace(nil) List = %v", ids(c.List()))
	}
	if tm, _ := c.Get("team-member"); tm.Name != "チームメンバー" {
		t.Errorf("override survived Replace: %+v", tm)
	}
}

func TestCustom(t *testing.T) {
	t.Parallel()

	p, err := coach.Custom("  ハッカソンの審査員 ", "", "アイデアと実装力で評価")
	if err != nil {
		t.Fatalf("Custom: %v", err)
	}
	if _, err := uuid.Parse(p.ID); err != nil {
		t.Errorf("ID %q is not a uuid: %v", p.ID, err)
	}
	if p.Kind != coach.KindCustom || p.Name != "ハッカソンの審査員" || p.Description != "カスタム評価者" {
		t.Errorf("got %+v", p)
	}

	q, _ := coach.Custom("a", "b", "c")
	if q.ID == p.ID {
		t.Error("custom personas share an ID")
	}

	for _, tc := range []struct{ name, prompt string }{{"", "x"}, {"x", "  "}} {
		if _, err := coach.Custom(tc.name, "", tc.prompt); !errors.Is(err, coach.ErrInvalidPersona) {
			t.Errorf("Custom(%q, %q) err = %v", tc.name, tc.prompt, err)
		}
	}
}

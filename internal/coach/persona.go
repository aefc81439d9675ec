package coach

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Kind tells preset personas from user-defined ones.
type Kind string

const (
	KindPreset Kind = "preset"
	KindCustom Kind = "custom"
)

// defaultCustomDescription is used for custom personas created without a
// description.
const defaultCustomDescription = "カスタム評価者"

// Persona is the evaluator perspective passed into the evaluation prompt.
type Persona struct {
	ID          string `json:"id" yaml:"id"`
	Kind        Kind   `json:"type" yaml:"type"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Prompt      string `json:"prompt" yaml:"prompt"`
}

// Validate checks that p has a name and a prompt.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Prompt) == "" {
		return ErrInvalidPersona
	}
	return nil
}

// Custom builds a validated custom persona with a fresh ID.
func Custom(name, description, prompt string) (Persona, error) {
	p := Persona{
		ID:          uuid.NewString(),
		Kind:        KindCustom,
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Prompt:      strings.TrimSpace(prompt),
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	if p.Description == "" {
		p.Description = defaultCustomDescription
	}
	return p, nil
}

var presets = []Persona{
	{
		ID:          "team-member",
		Kind:        KindPreset,
		Name:        "チームメンバー",
		Description: "日常的な協働を重視、親しみやすさとコミュニケーション能力を評価",
		Prompt:      "同じチームで毎日一緒に働くメンバーの立場で評価してください。親しみやすさ、相談のしやすさ、協調性を重視し、チームの中で良い関係を築けそうかという視点でお願いします。",
	},
	{
		ID:          "company-event",
		Kind:        KindPreset,
		Name:        "社内イベントの懇親会",
		Description: "カジュアルな雰囲気での人柄や趣味、親近感を重視",
		Prompt:      "社内懇親会に参加している社員の立場で評価してください。カジュアルな場での人柄、趣味や関心の共有しやすさ、親近感を重視し、気軽に話しかけたくなる人かという視点でお願いします。",
	},
	{
		ID:          "external-engineer",
		Kind:        KindPreset,
		Name:        "社外のエンジニア",
		Description: "技術的な知識や経験の共有、プロフェッショナルな印象を評価",
		Prompt:      "社外のエンジニアの立場で評価してください。技術的な知識と経験の深さ、プロフェッショナルとしての印象を重視し、技術的な議論を通じてお互いに学び合えそうかという視点でお願いします。",
	},
	{
		ID:          "client-meeting-pl",
		Kind:        KindPreset,
		Name:        "客先面談のPL",
		Description: "ビジネス的な信頼性、技術力の説得力、プロジェクト推進力を評価",
		Prompt:      "客先面談に同席するプロジェクトリーダーの立場で評価してください。ビジネス上の信頼性、技術力の説得力、プロジェクトを前に進める力を重視し、クライアントが安心して任せられる人材かという視点でお願いします。",
	},
	{
		ID:          "job-interviewer",
		Kind:        KindPreset,
		Name:        "転職の面接官",
		Description: "総合的なスキル、経験、企業適性、将来性を厳格に評価",
		Prompt:      "転職面接の面接官の立場で厳格に評価してください。技術スキル、これまでの経験、組織への適性、将来の成長性を総合的に見て、即戦力として長く貢献できる人材かという視点でお願いします。",
	},
}

// Presets returns a copy of the built-in personas in display order.
func Presets() []Persona {
	return slices.Clone(presets)
}

// Catalog is the set of personas a user can pick from: the presets plus any
// configured additions, where a configured persona with a preset's ID
// replaces it. It is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Persona
}

// NewCatalog returns a catalog of the presets merged with extra.
func NewCatalog(extra ...Persona) *Catalog {
	c := &Catalog{}
	c.Replace(extra)
	return c
}

// Replace rebuilds the catalog from the presets and extra. Entries in extra
// without an ID or failing validation are skipped. Config hot reload calls
// it.
func (c *Catalog) Replace(extra []Persona) {
	order := make([]string, 0, len(presets)+len(extra))
	byID := make(map[string]Persona, len(presets)+len(extra))
	add := func(p Persona) {
		if _, ok := byID[p.ID]; !ok {
			order = append(order, p.ID)
		}
		byID[p.ID] = p
	}
	for _, p := range presets {
		add(p)
	}
	for _, p := range extra {
		if p.ID == "" || p.Validate() != nil {
			continue
		}
		if p.Kind == "" {
			p.Kind = KindPreset
		}
		add(p)
	}

	c.mu.Lock()
	c.order, c.byID = order, byID
	c.mu.Unlock()
}

// List returns every persona in display order.
func (c *Catalog) List() []Persona {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Persona, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Get looks a persona up by ID.
func (c *Catalog) Get(id string) (Persona, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

package navigator

import "github.com/paper-theater/kamishibai/internal/scenario"

// PageView is the merged, read-only view of the current position: page-level
// values take precedence, absent ones fall back to scene-level, then to the
// engine-wide defaults. Views are value copies; holding one cannot observe
// later navigation.
type PageView struct {
	SceneID          string
	PageID           string
	SceneDescription string
	Mood             string
	OpeningMessage   string
	ScenePrompt      string
	PagePrompt       string
	Background       string
	AllowedMoods     []string
	Transitions      []scenario.Transition
}

// Ref returns the view's qualified scene:page reference.
func (v PageView) Ref() string {
	return scenario.QualifyTarget(v.SceneID, v.PageID)
}

func mergeView(g *scenario.Graph, scene *scenario.Scene, page *scenario.Page, defaultMood string) PageView {
	v := PageView{
		SceneID:          scene.ID,
		PageID:           page.ID,
		SceneDescription: scene.Description,
		Mood:             page.DefaultMood,
		OpeningMessage:   page.OpeningMessage,
		ScenePrompt:      scene.Prompt,
		PagePrompt:       page.Prompt,
		Background:       page.Background,
		AllowedMoods:     page.AllowedMoods,
	}
	if v.Mood == "" {
		v.Mood = scene.DefaultMood
	}
	if v.Mood == "" {
		v.Mood = defaultMood
	}
	if v.OpeningMessage == "" {
		v.OpeningMessage = scene.OpeningMessage
	}
	if v.Background == "" {
		v.Background = scene.Background
	}
	v.Background = g.BackgroundRef(v.Background)
	if v.AllowedMoods == nil {
		v.AllowedMoods = scene.AllowedMoods
	}
	if len(page.Transitions) > 0 {
		v.Transitions = make([]scenario.Transition, len(page.Transitions))
		copy(v.Transitions, page.Transitions)
	}
	return v
}

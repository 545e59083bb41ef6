package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadError reports every schema problem found in a scenario file at once,
// so authors can fix a file in one pass.
type LoadError struct {
	Path     string
	Problems []string
}

func (e *LoadError) Error() string {
	where := "scenario"
	if e.Path != "" {
		where = fmt.Sprintf("scenario %s", e.Path)
	}
	return fmt.Sprintf("invalid %s: %s", where, strings.Join(e.Problems, "; "))
}

// Raw document shapes. Legacy key aliases are accepted here and normalized
// into Graph fields; nothing outside the loader ever sees an alias.
type document struct {
	Version       int           `yaml:"version"`
	Base          baseDoc       `yaml:"base"`
	Scenes        []sceneDoc    `yaml:"scenes"`
	Configuration configuration `yaml:"configuration"`
}

type baseDoc struct {
	StartScene string `yaml:"start_scene"`
	BasePrompt string `yaml:"base_prompt"`
}

type configuration struct {
	MoodImages       map[string]string `yaml:"mood_images"`
	BackgroundImages map[string]string `yaml:"background_images"`
}

type sceneDoc struct {
	SceneID          string    `yaml:"scene_id"`
	Description      string    `yaml:"description"`
	StartPage        string    `yaml:"start_page"`
	ScenePrompt      string    `yaml:"scene_prompt"`
	AdditionalPrompt string    `yaml:"additional_prompt"` // legacy alias
	DefaultMood      string    `yaml:"default_mood"`
	DefaultImage     string    `yaml:"default_image"` // legacy alias
	OpeningMessage   string    `yaml:"opening_message"`
	OpeningSpeech    string    `yaml:"opening_speech"` // legacy alias
	BackgroundImage  string    `yaml:"background_image"`
	Image            string    `yaml:"image"` // legacy alias
	AllowedMoods     []string  `yaml:"allowed_moods"`
	AllowedImages    []string  `yaml:"allowed_images"` // legacy alias
	Pages            []pageDoc `yaml:"pages"`
}

type pageDoc struct {
	PageID           string    `yaml:"page_id"`
	DefaultMood      string    `yaml:"default_mood"`
	DefaultImage     string    `yaml:"default_image"` // legacy alias
	OpeningMessage   string    `yaml:"opening_message"`
	OpeningSpeech    string    `yaml:"opening_speech"` // legacy alias
	PagePrompt       string    `yaml:"page_prompt"`
	AdditionalPrompt string    `yaml:"additional_prompt"` // legacy alias
	BackgroundImage  string    `yaml:"background_image"`
	Image            string    `yaml:"image"` // legacy alias
	AllowedMoods     []string  `yaml:"allowed_moods"`
	AllowedImages    []string  `yaml:"allowed_images"` // legacy alias
	Transitions      yaml.Node `yaml:"transitions"`
}

// legacy list form: transitions: [{target: ..., condition: ...}]
type transitionDoc struct {
	Target    string `yaml:"target"`
	Condition string `yaml:"condition"`
}

// LoadFile loads a scenario graph from a YAML file.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return g, nil
}

// Parse parses and validates scenario YAML, returning the normalized graph.
func Parse(data []byte) (*Graph, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}

	var problems []string
	if doc.Version > 1 {
		problems = append(problems, fmt.Sprintf("unsupported scenario version: %d", doc.Version))
	}
	if doc.Base.StartScene == "" {
		problems = append(problems, "missing required base.start_scene")
	}
	if len(doc.Scenes) == 0 {
		problems = append(problems, "scenes must be a non-empty list")
	}

	g := &Graph{
		Version:     doc.Version,
		StartScene:  doc.Base.StartScene,
		BasePrompt:  doc.Base.BasePrompt,
		MoodImages:  doc.Configuration.MoodImages,
		Backgrounds: doc.Configuration.BackgroundImages,
	}

	seenScenes := make(map[string]bool)
	for i, sd := range doc.Scenes {
		if sd.SceneID == "" {
			problems = append(problems, fmt.Sprintf("scene %d: missing scene_id", i))
			continue
		}
		if seenScenes[sd.SceneID] {
			problems = append(problems, fmt.Sprintf("duplicate scene id %q", sd.SceneID))
			continue
		}
		seenScenes[sd.SceneID] = true

		scene := Scene{
			ID:             sd.SceneID,
			Description:    sd.Description,
			StartPage:      sd.StartPage,
			Prompt:         firstNonEmpty(sd.ScenePrompt, sd.AdditionalPrompt),
			DefaultMood:    firstNonEmpty(sd.DefaultMood, sd.DefaultImage),
			OpeningMessage: firstNonEmpty(sd.OpeningMessage, sd.OpeningSpeech),
			Background:     firstNonEmpty(sd.BackgroundImage, sd.Image),
			AllowedMoods:   firstNonNil(sd.AllowedMoods, sd.AllowedImages),
		}
		if sd.StartPage == "" {
			problems = append(problems, fmt.Sprintf("scene %q: missing start_page", sd.SceneID))
		}
		if len(sd.Pages) == 0 {
			problems = append(problems, fmt.Sprintf("scene %q: pages must be a non-empty list", sd.SceneID))
		}

		seenPages := make(map[string]bool)
		for j, pd := range sd.Pages {
			if pd.PageID == "" {
				problems = append(problems, fmt.Sprintf("scene %q page %d: missing page_id", sd.SceneID, j))
				continue
			}
			if seenPages[pd.PageID] {
				problems = append(problems, fmt.Sprintf("scene %q: duplicate page id %q", sd.SceneID, pd.PageID))
				continue
			}
			seenPages[pd.PageID] = true

			transitions, err := decodeTransitions(&pd.Transitions)
			if err != nil {
				problems = append(problems, fmt.Sprintf("scene %q page %q: %v", sd.SceneID, pd.PageID, err))
			}
			for _, tr := range transitions {
				if tr.Target == "" {
					problems = append(problems, fmt.Sprintf("scene %q page %q: transition with empty target", sd.SceneID, pd.PageID))
				}
			}

			scene.Pages = append(scene.Pages, Page{
				ID:             pd.PageID,
				DefaultMood:    firstNonEmpty(pd.DefaultMood, pd.DefaultImage),
				OpeningMessage: firstNonEmpty(pd.OpeningMessage, pd.OpeningSpeech),
				Prompt:         firstNonEmpty(pd.PagePrompt, pd.AdditionalPrompt),
				Background:     firstNonEmpty(pd.BackgroundImage, pd.Image),
				AllowedMoods:   firstNonNil(pd.AllowedMoods, pd.AllowedImages),
				Transitions:    transitions,
			})
		}

		if sd.StartPage != "" && !seenPages[sd.StartPage] {
			problems = append(problems, fmt.Sprintf("scene %q: start_page %q not found in pages", sd.SceneID, sd.StartPage))
		}

		g.Scenes = append(g.Scenes, scene)
	}

	if doc.Base.StartScene != "" && len(doc.Scenes) > 0 && !seenScenes[doc.Base.StartScene] {
		problems = append(problems, fmt.Sprintf("base.start_scene %q not found in scenes", doc.Base.StartScene))
	}

	if len(problems) > 0 {
		return nil, &LoadError{Problems: problems}
	}

	g.buildIndex()
	return g, nil
}

// decodeTransitions accepts both the map form {target: condition}, preserving
// document order, and the legacy list form [{target, condition}].
func decodeTransitions(n *yaml.Node) ([]Transition, error) {
	switch n.Kind {
	case 0: // absent
		return nil, nil
	case yaml.MappingNode:
		var transitions []Transition
		for i := 0; i+1 < len(n.Content); i += 2 {
			transitions = append(transitions, Transition{
				Target:    n.Content[i].Value,
				Condition: n.Content[i+1].Value,
			})
		}
		return transitions, nil
	case yaml.SequenceNode:
		var docs []transitionDoc
		if err := n.Decode(&docs); err != nil {
			return nil, fmt.Errorf("malformed transitions list: %w", err)
		}
		transitions := make([]Transition, 0, len(docs))
		for _, d := range docs {
			transitions = append(transitions, Transition{Target: d.Target, Condition: d.Condition})
		}
		return transitions, nil
	default:
		return nil, fmt.Errorf("transitions must be a map or a list")
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstNonNil(a, b []string) []string {
	if a != nil {
		return a
	}
	return b
}

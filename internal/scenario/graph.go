// Package scenario defines the immutable scene/page graph the engine walks
// and the YAML loader that builds it.
package scenario

import "strings"

// TargetDelimiter separates scene and page in a qualified transition target.
const TargetDelimiter = ":"

// Graph is the top-level container built by the loader. It is read-only
// after load; all mutation happens in session state, never here.
type Graph struct {
	Version     int
	StartScene  string
	BasePrompt  string
	Scenes      []Scene
	MoodImages  map[string]string
	Backgrounds map[string]string

	sceneIndex map[string]int
}

// Scene is a container of pages. Scenes are not positions themselves; the
// engine always stands on a page.
type Scene struct {
	ID             string
	Description    string
	StartPage      string
	Prompt         string
	DefaultMood    string
	OpeningMessage string
	Background     string
	AllowedMoods   []string
	Pages          []Page

	pageIndex map[string]int
}

// Page is a single position in the graph.
type Page struct {
	ID             string
	DefaultMood    string
	OpeningMessage string
	Prompt         string
	Background     string
	AllowedMoods   []string
	Transitions    []Transition
}

// Transition is advisory guidance to the LLM: it is executed only when a
// matching target id comes back in a reply or an operator command.
type Transition struct {
	// Target is a bare page id (same scene) or a qualified scene:page ref.
	Target string
	// Condition describes, in natural language, when to take this transition.
	Condition string
}

// Scene returns the scene with the given id, or nil.
func (g *Graph) Scene(id string) *Scene {
	i, ok := g.sceneIndex[id]
	if !ok {
		return nil
	}
	return &g.Scenes[i]
}

// Page returns the page with the given id, or nil.
func (s *Scene) Page(id string) *Page {
	i, ok := s.pageIndex[id]
	if !ok {
		return nil
	}
	return &s.Pages[i]
}

// FindPage resolves a qualified scene/page pair, or nil if either is missing.
func (g *Graph) FindPage(sceneID, pageID string) *Page {
	scene := g.Scene(sceneID)
	if scene == nil {
		return nil
	}
	return scene.Page(pageID)
}

// BackgroundRef resolves a background value: a short name from the
// configuration's background_images map yields its mapped ref, anything else
// is taken as a direct resource ref.
func (g *Graph) BackgroundRef(v string) string {
	if ref, ok := g.Backgrounds[v]; ok {
		return ref
	}
	return v
}

// ScenesWithPage returns the ids of all scenes containing a page with the
// given id, in scene declaration order. Used for cross-scene target
// resolution, where only an unambiguous single match may win.
func (g *Graph) ScenesWithPage(pageID string) []string {
	var ids []string
	for i := range g.Scenes {
		if g.Scenes[i].Page(pageID) != nil {
			ids = append(ids, g.Scenes[i].ID)
		}
	}
	return ids
}

// DanglingTargets returns every transition target that does not resolve to a
// page in the graph, as "scene/page -> target" strings. Dangling targets are
// tolerated at load (they fail at apply time) but are worth surfacing.
func (g *Graph) DanglingTargets() []string {
	var dangling []string
	for si := range g.Scenes {
		scene := &g.Scenes[si]
		for pi := range scene.Pages {
			page := &scene.Pages[pi]
			for _, tr := range page.Transitions {
				tgtScene, tgtPage := ParseTarget(tr.Target)
				if tgtScene == "" {
					tgtScene = scene.ID
				}
				if g.FindPage(tgtScene, tgtPage) == nil {
					dangling = append(dangling,
						scene.ID+"/"+page.ID+" -> "+tr.Target)
				}
			}
		}
	}
	return dangling
}

// ParseTarget splits a transition target into scene and page parts. A bare
// target yields an empty scene id; callers interpret that as "current scene".
func ParseTarget(target string) (sceneID, pageID string) {
	if i := strings.Index(target, TargetDelimiter); i >= 0 {
		return target[:i], target[i+len(TargetDelimiter):]
	}
	return "", target
}

// QualifyTarget joins a scene and page id into a qualified target ref.
func QualifyTarget(sceneID, pageID string) string {
	return sceneID + TargetDelimiter + pageID
}

// buildIndex populates the lookup maps. Called once by the loader.
func (g *Graph) buildIndex() {
	g.sceneIndex = make(map[string]int, len(g.Scenes))
	for i := range g.Scenes {
		g.sceneIndex[g.Scenes[i].ID] = i
		s := &g.Scenes[i]
		s.pageIndex = make(map[string]int, len(s.Pages))
		for j := range s.Pages {
			s.pageIndex[s.Pages[j].ID] = j
		}
	}
}

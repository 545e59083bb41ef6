// Package navigator owns the conversation's position in the scenario graph:
// starting, resolving transition targets, applying transitions, and the
// single-level undo checkpoint.
package navigator

import (
	"fmt"

	"github.com/paper-theater/kamishibai/internal/scenario"
)

// Position is the current scene/page pair.
type Position struct {
	SceneID string
	PageID  string
}

// Navigator walks an immutable scenario graph. It is not safe for concurrent
// use; the owning session serializes all calls.
type Navigator struct {
	graph       *scenario.Graph
	defaultMood string

	pos        *Position
	checkpoint *Position
}

// New creates a navigator over the given graph. defaultMood is the
// engine-wide fallback used when neither page nor scene declares one.
func New(graph *scenario.Graph, defaultMood string) *Navigator {
	return &Navigator{graph: graph, defaultMood: defaultMood}
}

// Start sets the position to the given scene's start page, or to the graph's
// configured start scene when sceneID is empty. Any undo checkpoint from a
// previous run is dropped.
func (n *Navigator) Start(sceneID string) (PageView, error) {
	if sceneID == "" {
		sceneID = n.graph.StartScene
	}
	if sceneID == "" {
		return PageView{}, &ConfigurationError{Reason: "no start scene configured"}
	}

	scene := n.graph.Scene(sceneID)
	if scene == nil {
		return PageView{}, &ConfigurationError{Reason: fmt.Sprintf("start scene %q not found", sceneID)}
	}
	page := scene.Page(scene.StartPage)
	if page == nil {
		return PageView{}, &ConfigurationError{Reason: fmt.Sprintf("start page %q not found in scene %q", scene.StartPage, scene.ID)}
	}

	n.pos = &Position{SceneID: scene.ID, PageID: page.ID}
	n.checkpoint = nil
	return mergeView(n.graph, scene, page, n.defaultMood), nil
}

// Current returns the merged view of the current position.
func (n *Navigator) Current() (PageView, error) {
	if n.pos == nil {
		return PageView{}, ErrNotStarted
	}
	scene := n.graph.Scene(n.pos.SceneID)
	return mergeView(n.graph, scene, scene.Page(n.pos.PageID), n.defaultMood), nil
}

// ResolveTarget disambiguates a raw target string into a qualified
// scene:page reference, or "" when it cannot be resolved unambiguously.
// Precedence: a qualified ref is taken verbatim; a bare id matching a page
// in the current scene wins; otherwise a bare id matching exactly one page
// across all scenes wins. Zero or multiple cross-scene matches resolve to ""
// rather than guessing.
func (n *Navigator) ResolveTarget(raw string) string {
	if raw == "" {
		return ""
	}
	if sceneID, _ := scenario.ParseTarget(raw); sceneID != "" {
		return raw
	}

	if n.pos != nil {
		if scene := n.graph.Scene(n.pos.SceneID); scene != nil && scene.Page(raw) != nil {
			return scenario.QualifyTarget(scene.ID, raw)
		}
	}

	if matches := n.graph.ScenesWithPage(raw); len(matches) == 1 {
		return scenario.QualifyTarget(matches[0], raw)
	}
	return ""
}

// Apply moves to the target page. A bare page id is interpreted within the
// current scene. The prior position is snapshotted into the undo checkpoint
// only once the destination is known to exist: a failed apply leaves both
// position and checkpoint untouched.
func (n *Navigator) Apply(target string) (PageView, error) {
	if n.pos == nil {
		return PageView{}, ErrNotStarted
	}

	sceneID, pageID := scenario.ParseTarget(target)
	if sceneID == "" {
		sceneID = n.pos.SceneID
	}
	scene := n.graph.Scene(sceneID)
	if scene == nil {
		return PageView{}, &UnknownTargetError{Target: target}
	}
	page := scene.Page(pageID)
	if page == nil {
		return PageView{}, &UnknownTargetError{Target: target}
	}

	prior := *n.pos
	n.checkpoint = &prior
	n.pos = &Position{SceneID: scene.ID, PageID: page.ID}
	return mergeView(n.graph, scene, page, n.defaultMood), nil
}

// Undo restores the checkpointed position, consuming the checkpoint. With no
// checkpoint it reports false and changes nothing. Single level only: two
// undos in a row never travel two steps back.
func (n *Navigator) Undo() (PageView, bool) {
	if n.checkpoint == nil {
		return PageView{}, false
	}
	n.pos = n.checkpoint
	n.checkpoint = nil
	scene := n.graph.Scene(n.pos.SceneID)
	return mergeView(n.graph, scene, scene.Page(n.pos.PageID), n.defaultMood), true
}

// Reset returns the navigator to its pre-start condition.
func (n *Navigator) Reset() {
	n.pos = nil
	n.checkpoint = nil
}

// Position returns the current position, if started.
func (n *Navigator) Position() (Position, bool) {
	if n.pos == nil {
		return Position{}, false
	}
	return *n.pos, true
}

// Started reports whether Start has been called since the last Reset.
func (n *Navigator) Started() bool {
	return n.pos != nil
}

package navigator

import (
	"errors"
	"testing"

	"github.com/paper-theater/kamishibai/internal/scenario"
)

const testGraphYAML = `
base:
  start_scene: town_start
scenes:
  - scene_id: town_start
    description: 街はずれの道路
    start_page: driving
    scene_prompt: 郊外の道を走っています。
    pages:
      - page_id: driving
        default_mood: 運転
        opening_message: 出発します
        page_prompt: 運転中の雑談をします。
        transitions:
          gas_station:refueling: ガソリンが少なくなったとき
          rest_area: 休憩したいとき
      - page_id: rest_area
        default_mood: カフェ
        opening_message: ひとやすみしましょう
      - page_id: shared
        default_mood: 基本スタイル
  - scene_id: gas_station
    description: ガソリンスタンド
    start_page: refueling
    default_mood: 給油
    opening_message: スタンドに到着しました
    background_image: images/gas.png
    pages:
      - page_id: refueling
        opening_message: 給油します
      - page_id: shared
        default_mood: 基本スタイル
      - page_id: quiet
  - scene_id: cafe
    description: 喫茶店
    start_page: espresso
    pages:
      - page_id: espresso
        default_mood: カフェ
        background_image: cafe_interior
      - page_id: quiet
      - page_id: blank
configuration:
  background_images:
    cafe_interior: images/cafe.png
`

func testNavigator(t *testing.T) *Navigator {
	t.Helper()
	g, err := scenario.Parse([]byte(testGraphYAML))
	if err != nil {
		t.Fatalf("failed to parse test graph: %v", err)
	}
	return New(g, "基本スタイル")
}

func TestStartDefaultScene(t *testing.T) {
	nav := testNavigator(t)

	view, err := nav.Start("")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if view.SceneID != "town_start" || view.PageID != "driving" {
		t.Errorf("expected town_start/driving, got %s/%s", view.SceneID, view.PageID)
	}
	if view.OpeningMessage != "出発します" {
		t.Errorf("expected opening 出発します, got %q", view.OpeningMessage)
	}
	if view.Mood != "運転" {
		t.Errorf("expected mood 運転, got %q", view.Mood)
	}
	if !nav.Started() {
		t.Error("expected navigator to report started")
	}
}

func TestStartNamedScene(t *testing.T) {
	nav := testNavigator(t)

	view, err := nav.Start("gas_station")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if view.SceneID != "gas_station" || view.PageID != "refueling" {
		t.Errorf("expected gas_station/refueling, got %s/%s", view.SceneID, view.PageID)
	}
}

func TestStartUnknownScene(t *testing.T) {
	nav := testNavigator(t)

	_, err := nav.Start("nowhere")
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestStartWithoutConfiguredScene(t *testing.T) {
	g, err := scenario.Parse([]byte(testGraphYAML))
	if err != nil {
		t.Fatalf("failed to parse test graph: %v", err)
	}
	g.StartScene = ""
	nav := New(g, "基本スタイル")

	_, err = nav.Start("")
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestCurrentBeforeStart(t *testing.T) {
	nav := testNavigator(t)

	_, err := nav.Current()
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestApplyBeforeStart(t *testing.T) {
	nav := testNavigator(t)

	_, err := nav.Apply("driving")
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
}

func TestApplyBareTargetStaysInScene(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	view, err := nav.Apply("rest_area")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if view.SceneID != "town_start" || view.PageID != "rest_area" {
		t.Errorf("expected town_start/rest_area, got %s/%s", view.SceneID, view.PageID)
	}
}

func TestApplyQualifiedTargetCrossesScenes(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	view, err := nav.Apply("gas_station:refueling")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if view.SceneID != "gas_station" || view.PageID != "refueling" {
		t.Errorf("expected gas_station/refueling, got %s/%s", view.SceneID, view.PageID)
	}
	// Page has no default_mood; the scene-level one applies.
	if view.Mood != "給油" {
		t.Errorf("expected scene fallback mood 給油, got %q", view.Mood)
	}
	if view.Background != "images/gas.png" {
		t.Errorf("expected scene fallback background, got %q", view.Background)
	}
}

func TestApplyUnknownTargetLeavesStateUntouched(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")
	if _, err := nav.Apply("rest_area"); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	_, err := nav.Apply("nowhere:gone")
	var ute *UnknownTargetError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnknownTargetError, got %v", err)
	}
	if ute.Target != "nowhere:gone" {
		t.Errorf("expected target in error, got %q", ute.Target)
	}

	pos, _ := nav.Position()
	if pos.SceneID != "town_start" || pos.PageID != "rest_area" {
		t.Errorf("position changed on failed apply: %+v", pos)
	}

	// The checkpoint from the successful apply must survive the failure.
	view, ok := nav.Undo()
	if !ok {
		t.Fatal("expected checkpoint to survive failed apply")
	}
	if view.PageID != "driving" {
		t.Errorf("expected undo to driving, got %s", view.PageID)
	}
}

func TestApplyUnknownBareTarget(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	if _, err := nav.Apply("missing_page"); err == nil {
		t.Fatal("expected error for unknown bare target")
	}
	if _, ok := nav.Undo(); ok {
		t.Error("expected no checkpoint after failed apply")
	}
}

func TestUndoSingleLevel(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("") // A: driving

	if _, err := nav.Apply("rest_area"); err != nil { // B
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := nav.Apply("gas_station:refueling"); err != nil { // C
		t.Fatalf("apply failed: %v", err)
	}

	view, ok := nav.Undo()
	if !ok {
		t.Fatal("expected undo to restore a position")
	}
	if view.SceneID != "town_start" || view.PageID != "rest_area" {
		t.Errorf("expected undo to restore B (rest_area), got %s/%s", view.SceneID, view.PageID)
	}

	if _, ok := nav.Undo(); ok {
		t.Error("expected second undo to be a no-op")
	}

	pos, _ := nav.Position()
	if pos.PageID != "rest_area" {
		t.Errorf("position moved on no-op undo: %+v", pos)
	}
}

func TestUndoWithoutCheckpoint(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	if _, ok := nav.Undo(); ok {
		t.Error("expected no checkpoint right after start")
	}
}

func TestResolveCurrentSceneWins(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	// "shared" exists in town_start (current) and gas_station.
	if got := nav.ResolveTarget("shared"); got != "town_start:shared" {
		t.Errorf("expected current-scene match, got %q", got)
	}
}

func TestResolveAmbiguousReturnsEmpty(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	// "quiet" exists in gas_station and cafe, not in the current scene.
	if got := nav.ResolveTarget("quiet"); got != "" {
		t.Errorf("expected ambiguous target to resolve empty, got %q", got)
	}
}

func TestResolveUniqueCrossScene(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	if got := nav.ResolveTarget("espresso"); got != "cafe:espresso" {
		t.Errorf("expected cafe:espresso, got %q", got)
	}
}

func TestResolveQualifiedVerbatim(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	if got := nav.ResolveTarget("gas_station:refueling"); got != "gas_station:refueling" {
		t.Errorf("expected verbatim qualified ref, got %q", got)
	}
	// Existence is not resolution's business; apply reports unknown targets.
	if got := nav.ResolveTarget("bogus:page"); got != "bogus:page" {
		t.Errorf("expected verbatim ref even when unknown, got %q", got)
	}
}

func TestResolveUnknownAndEmpty(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	if got := nav.ResolveTarget("missing_everywhere"); got != "" {
		t.Errorf("expected empty resolution, got %q", got)
	}
	if got := nav.ResolveTarget(""); got != "" {
		t.Errorf("expected empty resolution for empty target, got %q", got)
	}
}

func TestSelfTransitionIsLegal(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	view, err := nav.Apply("driving")
	if err != nil {
		t.Fatalf("self transition failed: %v", err)
	}
	if view.PageID != "driving" {
		t.Errorf("expected to stay on driving, got %s", view.PageID)
	}

	// Self transitions checkpoint like any other.
	if _, ok := nav.Undo(); !ok {
		t.Error("expected checkpoint after self transition")
	}
}

func TestViewEngineDefaultMood(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("cafe")

	view, err := nav.Apply("blank")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	// Neither page nor scene declares a mood.
	if view.Mood != "基本スタイル" {
		t.Errorf("expected engine default mood, got %q", view.Mood)
	}
}

func TestViewBackgroundNameMapping(t *testing.T) {
	nav := testNavigator(t)

	view, err := nav.Start("cafe")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// espresso names its background through the configuration map.
	if view.Background != "images/cafe.png" {
		t.Errorf("expected mapped background, got %q", view.Background)
	}
}

func TestViewSceneOpeningFallback(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")

	view, err := nav.Apply("gas_station:shared")
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if view.OpeningMessage != "スタンドに到着しました" {
		t.Errorf("expected scene opening fallback, got %q", view.OpeningMessage)
	}
}

func TestReset(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")
	nav.Apply("rest_area")

	nav.Reset()

	if nav.Started() {
		t.Error("expected navigator to report not started after reset")
	}
	if _, err := nav.Current(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted after reset, got %v", err)
	}
	if _, ok := nav.Undo(); ok {
		t.Error("expected checkpoint cleared by reset")
	}
}

func TestStartClearsCheckpoint(t *testing.T) {
	nav := testNavigator(t)
	nav.Start("")
	nav.Apply("rest_area")

	if _, err := nav.Start(""); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if _, ok := nav.Undo(); ok {
		t.Error("expected checkpoint cleared by restart")
	}
}

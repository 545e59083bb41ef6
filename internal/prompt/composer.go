// Package prompt composes the system prompt sent to the LLM for each turn:
// base template, scene/page identity, prompt fragments, mood constraints, and
// the transition menu. Everything here is a pure function of its inputs.
package prompt

import (
	"fmt"
	"strings"

	"github.com/paper-theater/kamishibai/internal/navigator"
	"github.com/paper-theater/kamishibai/internal/scenario"
)

// MoodGuidePlaceholder marks where the palette's mood-usage description is
// substituted into the base template. The legacy spelling is honored too so
// existing prompt files keep working.
const (
	MoodGuidePlaceholder       = "{MOOD_GUIDE}"
	legacyMoodGuidePlaceholder = "{RENDERER_MOOD_DESCRIPTION}"
)

// DefaultBaseTemplate is used when neither the engine config nor the scenario
// provides a base prompt. It carries the response envelope rules; per-page
// sections are appended by Compose.
const DefaultBaseTemplate = `あなたはシナリオに沿って会話するキャラクターです。ユーザーと自然な日本語で会話してください。

応答は必ず次のJSON形式のみで返してください:
{"text": "発話内容", "mood": "ムード名", "transition": "遷移先ID または null"}

- text: ユーザーへの返答
- mood: 下記のムード一覧から状況に最も合うものを1つ選ぶ
- transition: 「利用可能な遷移」の条件に該当する場合のみ遷移先IDを指定し、それ以外は null

` + MoodGuidePlaceholder

// BuildBase assembles the per-session base prompt: the template, the
// scenario's own base prompt appended when present, and the mood guide
// substituted for the placeholder.
func BuildBase(template, scenarioBase, moodGuide string) string {
	base := template
	if base == "" {
		base = DefaultBaseTemplate
	}
	if scenarioBase != "" {
		base = base + "\n\n" + scenarioBase
	}
	base = strings.ReplaceAll(base, MoodGuidePlaceholder, moodGuide)
	base = strings.ReplaceAll(base, legacyMoodGuidePlaceholder, moodGuide)
	return base
}

// Compose builds the full system prompt for the current page view. The base
// is expected to have its mood guide already substituted (BuildBase).
func Compose(view navigator.PageView, base string) string {
	background := view.Background
	if background == "" {
		background = "なし"
	}

	return fmt.Sprintf(`%s

---
## 現在のシーン/ページ情報
シーン: %s
ページ: %s
現在のムード: %s
背景: %s

## シーンプロンプト
%s

## ページプロンプト
%s

## ムード使用制約
%s

## 利用可能な遷移
%s

注意: 上記の追加指示は基本ルールに追加されるものです。基本的な応答形式（JSON形式、ムードの使い分けなど）は引き続き守ってください。
`,
		base,
		view.SceneID,
		view.PageID,
		view.Mood,
		background,
		view.ScenePrompt,
		view.PagePrompt,
		MoodConstraint(view.AllowedMoods),
		TransitionMenu(view.Transitions),
	)
}

// DefaultVoicePersona opens the voice instruction block when the engine
// config does not override it.
const DefaultVoicePersona = "あなたはシナリオに沿って会話するキャラクターです。\n簡潔に日本語で応答してください。"

// ComposeVoice builds the instruction block for a voice turn. Voice models
// speak their output, so the envelope rules of the base template are left
// out; only the persona and the scenario context go in.
func ComposeVoice(view navigator.PageView, persona string) string {
	if persona == "" {
		persona = DefaultVoicePersona
	}
	return fmt.Sprintf(`%s

現在のシーン: %s
現在のページ: %s

%s

%s
`, persona, view.SceneID, view.PageID, view.ScenePrompt, view.PagePrompt)
}

// MoodConstraint renders the allowed-mood clause: the whitelist verbatim when
// present, otherwise a statement that every mood is usable.
func MoodConstraint(allowed []string) string {
	if len(allowed) == 0 {
		return "すべてのムードを使用可能"
	}
	return "このページでは以下のムードのみ使用可能: " + strings.Join(allowed, ", ")
}

// TransitionMenu renders the numbered transition menu shown to the LLM, or an
// explicit stay-on-this-page statement when the page has no transitions.
func TransitionMenu(transitions []scenario.Transition) string {
	if len(transitions) == 0 {
		return "遷移なし（このページに留まります）"
	}

	lines := []string{"以下の条件に該当する場合、対応する遷移先IDを\"transition\"フィールドに指定してください:\n"}
	for i, tr := range transitions {
		lines = append(lines, fmt.Sprintf("%d. %q", i+1, tr.Target))
		if tr.Condition != "" {
			lines = append(lines, "   "+tr.Condition+"\n")
		}
	}
	lines = append(lines, "上記に該当しない場合は \"transition\": null を使用してください。")
	return strings.Join(lines, "\n")
}

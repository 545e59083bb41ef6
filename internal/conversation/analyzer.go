package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/paper-theater/kamishibai/internal/interpret"
	"github.com/paper-theater/kamishibai/internal/llm"
	"github.com/paper-theater/kamishibai/internal/navigator"
	"github.com/paper-theater/kamishibai/internal/prompt"
	"github.com/paper-theater/kamishibai/internal/scenario"
)

const analysisPromptFormat = `
以下の音声会話の内容を分析し、適切なムードと遷移を判定してください。

## 現在のページ情報
シーン: %s
ページ: %s

## ムード使用制約
%s

## 利用可能な遷移
%s

## 会話内容
ユーザー: %s
アシスタント: %s

## 判定指示
1. アシスタントの応答内容から、最も適切なムード（表情）を選択してください
2. 会話の流れから、ページ遷移が必要かどうかを判断してください
3. 遷移が不要な場合は transition に null を設定してください

## 出力形式
以下のJSON形式で応答してください（JSONのみ、説明不要）：
{
  "mood": "ムード名",
  "transition": "遷移先ID" または null
}
`

// analysisTransitions renders the page's transitions for the analysis prompt
// in the compact one-line form.
func analysisTransitions(transitions []scenario.Transition) string {
	if len(transitions) == 0 {
		return "遷移なし"
	}
	lines := make([]string, 0, len(transitions))
	for i, tr := range transitions {
		lines = append(lines, fmt.Sprintf("%d. %q: %s", i+1, tr.Target, tr.Condition))
	}
	return strings.Join(lines, "\n")
}

func buildAnalysisPrompt(view navigator.PageView, userTranscript, assistantTranscript string) string {
	return fmt.Sprintf(analysisPromptFormat,
		view.SceneID,
		view.PageID,
		prompt.MoodConstraint(view.AllowedMoods),
		analysisTransitions(view.Transitions),
		userTranscript,
		assistantTranscript,
	)
}

// analyzeTranscript classifies a finished voice exchange into the mood and
// transition the text envelope would have carried. Any failure (transport or
// unparsable output) degrades to (defaultMood, no transition, ok=false);
// the audio already played, so nothing here may fail the turn.
func analyzeTranscript(ctx context.Context, analyzer llm.Completer, view navigator.PageView, userTranscript, assistantTranscript, defaultMood string) (string, string, bool) {
	raw, err := analyzer.Complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: buildAnalysisPrompt(view, userTranscript, assistantTranscript)},
	})
	if err != nil {
		return defaultMood, "", false
	}

	a, ok := interpret.ParseAnalysis(raw)
	if !ok {
		return defaultMood, "", false
	}
	mood := a.Mood
	if mood == "" {
		mood = defaultMood
	}
	return mood, a.Transition, true
}

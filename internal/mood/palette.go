// Package mood holds the engine's mood vocabulary: the fixed set of display
// moods a reply may carry, their image resources, and the validation rule
// that keeps unknown or disallowed moods out of rendering.
package mood

import (
	"sort"
	"strings"
)

const (
	// DefaultName is rendered whenever validation fails.
	DefaultName = "基本スタイル"
	// TroubledName is rendered for transport-failure turns.
	TroubledName = "困る"
)

// builtin is the shipped vocabulary: name, usage guidance for the prompt,
// and the default image resource.
var builtin = []struct {
	name  string
	usage string
	image string
}{
	{"基本スタイル", "通常の会話、待機中", "images/basic.png"},
	{"話す", "説明やアドバイスをするとき", "images/talking.png"},
	{"笑う", "楽しい提案、ポジティブな反応", "images/laughing.png"},
	{"驚く", "予想外の質問や発見", "images/surprised.png"},
	{"困る", "難しい質問、判断に迷うとき", "images/troubled.png"},
	{"泣く", "残念なニュース（渋滞など）", "images/crying.png"},
	{"走る", "急いでいるとき、スピード感のある話題", "images/running.png"},
	{"寝る", "休憩を提案するとき", "images/sleeping.png"},
	{"考える", "ルートを検討中", "images/thinking.png"},
	{"指差し", "方向を示すとき、案内", "images/pointing.png"},
	{"喜ぶ", "目的地到着、良いニュース", "images/happy.png"},
	{"運転", "運転に関するアドバイス", "images/driving.png"},
	{"給油", "ガソリンスタンドの案内", "images/refueling.png"},
	{"カフェ", "カフェ・休憩の提案", "images/cafe.png"},
	{"買い物", "お土産屋さんの案内", "images/shopping.png"},
	{"景色", "景色の良い場所の紹介", "images/scenery.png"},
	{"充電", "充電スポットの案内", "images/charging.png"},
	{"地図", "ルート全体の説明", "images/map.png"},
	{"到着", "目的地到着時", "images/arrival.png"},
	{"出発", "出発時、ルート開始時", "images/departure.png"},
}

// Palette is an immutable mood vocabulary. Lookups are pure and safe from
// any goroutine.
type Palette struct {
	names  []string
	images map[string]string
}

// Default returns the built-in vocabulary.
func Default() *Palette {
	return New(nil)
}

// New builds a palette from a scenario's mood_images map. A nil or empty map
// yields the built-in vocabulary. The default mood is always present so that
// validation has somewhere to land.
func New(images map[string]string) *Palette {
	p := &Palette{images: make(map[string]string)}
	if len(images) == 0 {
		for _, m := range builtin {
			p.names = append(p.names, m.name)
			p.images[m.name] = m.image
		}
		return p
	}

	for name, ref := range images {
		p.names = append(p.names, name)
		p.images[name] = ref
	}
	sort.Strings(p.names)

	if _, ok := p.images[DefaultName]; !ok {
		p.names = append([]string{DefaultName}, p.names...)
		p.images[DefaultName] = builtin[0].image
	}
	return p
}

// Known reports whether name is part of the vocabulary.
func (p *Palette) Known(name string) bool {
	_, ok := p.images[name]
	return ok
}

// DefaultMood returns the vocabulary's fallback mood.
func (p *Palette) DefaultMood() string {
	return DefaultName
}

// TroubledMood returns the mood rendered for failed turns, falling back to
// the default when the vocabulary does not carry it.
func (p *Palette) TroubledMood() string {
	if p.Known(TroubledName) {
		return TroubledName
	}
	return DefaultName
}

// Validate returns name unchanged when it is a known mood and the whitelist
// (if any) permits it; otherwise it returns the default mood. It never
// returns a value outside the vocabulary.
func (p *Palette) Validate(name string, allowed []string) string {
	if !p.Known(name) {
		return DefaultName
	}
	if len(allowed) == 0 {
		return name
	}
	for _, a := range allowed {
		if a == name {
			return name
		}
	}
	return DefaultName
}

// ImageRef returns the display resource for a mood, or "" when unknown.
func (p *Palette) ImageRef(name string) string {
	return p.images[name]
}

// Names returns the vocabulary in guide order.
func (p *Palette) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Guide renders the mood-usage description substituted into the base prompt
// template.
func (p *Palette) Guide() string {
	usage := make(map[string]string, len(builtin))
	for _, m := range builtin {
		usage[m.name] = m.usage
	}

	var b strings.Builder
	b.WriteString("## ムードの使い分け\n")
	for _, name := range p.names {
		if u := usage[name]; u != "" {
			b.WriteString("- " + name + ": " + u + "\n")
		} else {
			b.WriteString("- " + name + "\n")
		}
	}
	b.WriteString("\n会話の文脈に合わせて最も適切なムードを選択してください。")
	return b.String()
}

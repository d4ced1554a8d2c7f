package generation

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
)

// creatureFeatures 从提示词里抽取出的粗粒度画面特征
type creatureFeatures struct {
	Species []string
	Colors  []string
	Pattern string
	Size    string
}

// demoSpecies 提示词关键词与轮廓形态的静态对照
var demoSpecies = []string{
	"tyrannosaurus", "t-rex", "triceratops", "velociraptor", "raptor",
	"stegosaurus", "brachiosaurus", "ankylosaurus", "pteranodon",
	"spinosaurus", "parasaurolophus", "diplodocus", "allosaurus",
	"carnotaurus", "dilophosaurus", "pachycephalosaurus",
}

// demoColors 可识别的颜色词与对应色值
var demoColors = map[string]string{
	"red":      "#c0392b",
	"crimson":  "#a93226",
	"orange":   "#d35400",
	"yellow":   "#f1c40f",
	"green":    "#27ae60",
	"emerald":  "#2ecc71",
	"teal":     "#16a085",
	"blue":     "#2980b9",
	"azure":    "#3498db",
	"purple":   "#8e44ad",
	"violet":   "#9b59b6",
	"brown":    "#6e4b2a",
	"black":    "#2c3e50",
	"white":    "#ecf0f1",
	"gray":     "#7f8c8d",
	"golden":   "#b7950b",
}

var demoPatterns = []string{"striped", "spotted", "scaled", "feathered", "mottled"}

var demoSizes = []string{"tiny", "small", "large", "huge", "massive", "giant"}

// parseCreatureFeatures 纯文本匹配，不做任何网络或模型调用。
// extraSpecies 是内置对照之外额外可识别的物种关键词（来自物种目录快照）。
func parseCreatureFeatures(prompt string, extraSpecies ...string) creatureFeatures {
	lower := strings.ToLower(prompt)
	var f creatureFeatures

	matched := make(map[string]bool)
	for _, sp := range demoSpecies {
		if strings.Contains(lower, sp) {
			f.Species = append(f.Species, sp)
			matched[sp] = true
		}
	}
	for _, sp := range extraSpecies {
		if !matched[sp] && strings.Contains(lower, sp) {
			f.Species = append(f.Species, sp)
			matched[sp] = true
		}
	}
	for name := range demoColors {
		if strings.Contains(lower, name) {
			f.Colors = append(f.Colors, name)
		}
	}
	// map 遍历无序，排序保证确定性
	sortStrings(f.Colors)

	for _, p := range demoPatterns {
		if strings.Contains(lower, p) {
			f.Pattern = p
			break
		}
	}
	for _, s := range demoSizes {
		if strings.Contains(lower, s) {
			f.Size = s
			break
		}
	}
	return f
}

func sortStrings(list []string) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j] < list[j-1]; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

// RenderPlaceholder 演示模式的占位图渲染器：把提示词的粗粒度特征
// （物种、颜色、花纹、体型）画成一只风格化的恐龙 SVG。
// 纯函数：相同的 prompt、seed 和关键词列表永远产出相同的字节序列，
// 不依赖渲染环境，也绝不发起网络请求。
func RenderPlaceholder(prompt string, seed int64, extraSpecies ...string) []byte {
	features := parseCreatureFeatures(prompt, extraSpecies...)

	h := fnv.New64a()
	h.Write([]byte(prompt))
	rng := rand.New(rand.NewSource(seed ^ int64(h.Sum64())))

	body := "#27ae60"
	accent := "#16a085"
	if len(features.Colors) > 0 {
		body = demoColors[features.Colors[0]]
		if len(features.Colors) > 1 {
			accent = demoColors[features.Colors[1]]
		}
	}

	scale := 1.0
	switch features.Size {
	case "tiny", "small":
		scale = 0.7
	case "huge", "massive", "giant":
		scale = 1.3
	}

	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="512" height="512" viewBox="0 0 512 512">`)
	b.WriteString(`<defs><linearGradient id="sky" x1="0" y1="0" x2="0" y2="1">`)
	b.WriteString(`<stop offset="0%" stop-color="#d6eaf8"/><stop offset="100%" stop-color="#fdebd0"/>`)
	b.WriteString(`</linearGradient></defs>`)
	b.WriteString(`<rect width="512" height="512" fill="url(#sky)"/>`)
	b.WriteString(`<ellipse cx="256" cy="440" rx="220" ry="40" fill="#a04000" opacity="0.3"/>`)

	// 身体与头
	bodyRX := int(120 * scale)
	bodyRY := int(70 * scale)
	fmt.Fprintf(&b, `<ellipse cx="250" cy="330" rx="%d" ry="%d" fill="%s"/>`, bodyRX, bodyRY, body)
	headR := int(45 * scale)
	fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%d" fill="%s"/>`, 250+bodyRX-10, 330-bodyRY-20, headR, body)
	fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="6" fill="#1b2631"/>`, 250+bodyRX+5, 330-bodyRY-30)

	// 尾巴
	fmt.Fprintf(&b, `<path d="M %d 330 Q %d %d %d %d" stroke="%s" stroke-width="%d" fill="none" stroke-linecap="round"/>`,
		250-bodyRX+10, 250-bodyRX-70, 290+rng.Intn(40), 250-bodyRX-110, 250+rng.Intn(60), body, int(26*scale))

	// 四肢
	legW := int(22 * scale)
	for i := 0; i < 4; i++ {
		x := 250 - bodyRX/2 + i*(bodyRX/3)
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" rx="8" fill="%s"/>`,
			x, 330+bodyRY-20, legW, int(70*scale), body)
	}

	// 物种特征：剑龙/甲龙类画背板，翼龙类画翼
	spiked := containsAny(features.Species, "stegosaurus", "ankylosaurus", "spinosaurus")
	winged := containsAny(features.Species, "pteranodon")
	if spiked {
		for i := 0; i < 6; i++ {
			x := 250 - bodyRX + 30 + i*(bodyRX/3)
			y := 330 - bodyRY - 5
			fmt.Fprintf(&b, `<polygon points="%d,%d %d,%d %d,%d" fill="%s"/>`,
				x, y, x+18, y-int(36*scale), x+36, y, accent)
		}
	}
	if winged {
		fmt.Fprintf(&b, `<path d="M 250 280 Q 150 140 60 200 Q 160 230 250 300 Z" fill="%s" opacity="0.85"/>`, accent)
	}

	// 花纹
	switch features.Pattern {
	case "striped":
		for i := 0; i < 5; i++ {
			x := 250 - bodyRX/2 + i*(bodyRX/3)
			fmt.Fprintf(&b, `<rect x="%d" y="%d" width="10" height="%d" rx="5" fill="%s" opacity="0.6"/>`,
				x, 330-bodyRY/2, bodyRY, accent)
		}
	case "spotted", "mottled":
		for i := 0; i < 8; i++ {
			fmt.Fprintf(&b, `<circle cx="%d" cy="%d" r="%d" fill="%s" opacity="0.5"/>`,
				250-bodyRX/2+rng.Intn(bodyRX), 300+rng.Intn(50), 6+rng.Intn(8), accent)
		}
	}

	// 注脚：物种名 + 提示词摘要
	label := strings.Join(features.Species, " × ")
	if label == "" {
		label = "hybrid creature"
	}
	fmt.Fprintf(&b, `<text x="256" y="488" text-anchor="middle" font-family="sans-serif" font-size="16" fill="#34495e">%s</text>`,
		escapeXML(label))
	fmt.Fprintf(&b, `<text x="256" y="506" text-anchor="middle" font-family="sans-serif" font-size="10" fill="#85929e">%s</text>`,
		escapeXML(truncate(prompt, 80)))

	b.WriteString(`</svg>`)
	return []byte(b.String())
}

func containsAny(list []string, targets ...string) bool {
	for _, item := range list {
		for _, t := range targets {
			if item == t {
				return true
			}
		}
	}
	return false
}

func escapeXML(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return replacer.Replace(s)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

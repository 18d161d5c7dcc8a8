package detection

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/menta2k/blob-vision/pkg/types"
)

// DetectPrompt asks a vision model for every object it can locate
const DetectPrompt = `You are an object detector.

Return JSON only:
{
  "objects": [
    {
      "label": "string",
      "confidence": 0.0,
      "box": {"left": 0.0, "top": 0.0, "width": 0.0, "height": 0.0}
    }
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). left/top is the upper-left corner.
- One entry per distinct object, most confident first.
- Labels: lowercase, singular, no punctuation.
- If nothing is found, return {"objects": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// ColorPrompt asks a vision model for the dominant foreground color
const ColorPrompt = `What is the dominant color of the main object in this image?
Answer with exactly one word from this list:
black, blue, brown, gray, green, orange, pink, purple, red, teal, white, yellow.`

// Palette is the set of color names classifiers are expected to return
var Palette = []string{
	"Black", "Blue", "Brown", "Gray", "Green", "Orange",
	"Pink", "Purple", "Red", "Teal", "White", "Yellow",
}

type modelObject struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        types.Box `json:"box"`
}

type modelResponse struct {
	Objects []modelObject `json:"objects"`
}

// ParseDetections decodes a model reply produced for DetectPrompt
func ParseDetections(raw string) ([]types.Detection, error) {
	raw = SanitizeModelJSON(raw)
	if raw == "" {
		return nil, errors.New("empty model response")
	}

	var objects []modelObject
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &objects); err != nil {
			return nil, errors.Wrap(err, "parse detection list")
		}
	} else {
		var resp modelResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return nil, errors.Wrap(err, "parse detection object")
		}
		objects = resp.Objects
	}

	dets := make([]types.Detection, 0, len(objects))
	for _, o := range objects {
		dets = append(dets, types.Detection{
			Box:         clampBox(o.Box),
			TagName:     strings.ToLower(strings.TrimSpace(o.Label)),
			Probability: clamp(o.Confidence, 0, 1),
		})
	}
	return dets, nil
}

var nonLetters = regexp.MustCompile(`[^a-zA-Z]+`)

// ParseColor extracts a color name from a free-text model reply. Names from
// Palette are returned in canonical case; anything else is returned as the
// first word of the reply.
func ParseColor(raw string) (*types.ColorResult, error) {
	words := strings.Fields(nonLetters.ReplaceAllString(raw, " "))
	if len(words) == 0 {
		return nil, errors.New("no color in model response")
	}

	for _, w := range words {
		for _, p := range Palette {
			if strings.EqualFold(w, p) || (strings.EqualFold(w, "grey") && p == "Gray") {
				return &types.ColorResult{DominantForeground: p}, nil
			}
		}
	}
	return &types.ColorResult{DominantForeground: strings.ToLower(words[0])}, nil
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...} or [...]
	opening, closing := "{", "}"
	if i, j := strings.Index(raw, "["), strings.Index(raw, "{"); i >= 0 && (j < 0 || i < j) {
		opening, closing = "[", "]"
	}
	if start := strings.Index(raw, opening); start >= 0 {
		if end := strings.LastIndex(raw, closing); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// clampBox keeps a model-reported box inside the unit square. Models that
// answer in pixels end up with a box reaching the far edges.
func clampBox(b types.Box) types.Box {
	b.Left = clamp(b.Left, 0, 1)
	b.Top = clamp(b.Top, 0, 1)
	b.Width = clamp(b.Width, 0, 1-b.Left)
	b.Height = clamp(b.Height, 0, 1-b.Top)
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Package sym defines canonical symbols for ShopReel subsystems and system
// markers. These symbols are stable across CLI output, logs, and
// documentation.
package sym

// Subsystem symbols.
const (
	AM   = "≡" // am — configuration and system settings
	Reel = "▶" // reel — the media-generation pipeline
)

// System infrastructure symbols.
const (
	Pulse      = "꩜" // async jobs, rate limiting, budget management
	PulseOpen  = "✿" // graceful startup with orphaned job recovery
	PulseClose = "❀" // graceful shutdown with checkpoint preservation
	DB         = "⊔" // database/storage layer
)

// Job status glyphs for compact table/log rendering.
var statusGlyphs = map[string]string{
	"pending":           "·",
	"analyzing_subject": "👁",
	"editing_image":     "✂",
	"optimizing_image":  "◌",
	"writing_script":    "✎",
	"synthesizing_video": Reel,
	"completed":         "✓",
	"failed":            "✗",
}

// StatusGlyph returns the glyph for a job status, or "?" for unknown values.
func StatusGlyph(status string) string {
	if g, ok := statusGlyphs[status]; ok {
		return g
	}
	return "?"
}

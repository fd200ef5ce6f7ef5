package util

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
// Used for logging previews of prompts and generated scripts.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

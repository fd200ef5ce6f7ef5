package pipeline

import (
	"strings"
)

// policyKeywords are the phrases synthesis vendors use when a prompt
// trips their content guardrails rather than their infrastructure.
// Matching is case-insensitive substring search over the failure reason,
// so "policy" also covers "content policy" and "usage policy violation".
var policyKeywords = []string{
	"guardrail",
	"policy",
	"copyright",
	"trademark",
	"third-party",
	"third party",
	"intellectual property",
	"protected content",
	"prohibited content",
	"moderation",
}

// IsPolicyViolation classifies a synthesis failure reason. Only reasons
// matching the keyword set are eligible for sanitize-and-resubmit; every
// other reason ("internal error", "capacity", ...) fails the job as is.
func IsPolicyViolation(reason string) bool {
	lower := strings.ToLower(reason)
	for _, keyword := range policyKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

package sanitize

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policiesOnce sync.Once
	strictPolicy *bluemonday.Policy
	richPolicy   *bluemonday.Policy
)

// Text strips all markup from single-line fields such as titles and names.
func Text(input string) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return ""
	}
	strict, _ := policies()
	return strings.TrimSpace(strict.Sanitize(value))
}

// RichText keeps a small set of formatting tags in course and video descriptions.
func RichText(input string) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return ""
	}
	_, rich := policies()
	return strings.TrimSpace(rich.Sanitize(value))
}

func policies() (*bluemonday.Policy, *bluemonday.Policy) {
	policiesOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
		policy := bluemonday.UGCPolicy()
		policy.AllowElements("p", "pre", "code", "blockquote")
		richPolicy = policy
	})
	return strictPolicy, richPolicy
}

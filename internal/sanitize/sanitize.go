// Package sanitize checks user-supplied text for HTML markup. Uses
// bluemonday's strict policy, which keeps text content and drops every
// element and attribute.
package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// policy is the singleton strict policy, initialized once on first use.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text returns input with all markup removed. Entities are decoded again so
// plain characters such as "&" survive unchanged.
func Text(input string) string {
	if input == "" {
		return ""
	}
	return html.UnescapeString(getPolicy().Sanitize(input))
}

// HasMarkup reports whether input contains anything the strict policy
// would strip: tags, comments or other HTML constructs.
func HasMarkup(input string) bool {
	if !strings.ContainsAny(input, "<>") {
		return false
	}
	return Text(input) != input
}

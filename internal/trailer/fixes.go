// Package trailer extracts issue references from "Fixes:" commit message
// trailers.
package trailer

import (
	"fmt"
	"regexp"
	"strings"
)

const githubURL = "https://github.com"

// Reference is the value of a Fixes trailer.
type Reference struct {
	// Raw is the trailer value as it appears in the commit message.
	Raw string
	// URL is the web URL of the referenced issue or commit, it is empty
	// if Raw is not a recognized reference.
	URL string
}

func (r *Reference) String() string {
	if r.URL == "" {
		return r.Raw
	}

	return r.URL
}

var (
	fixesLineRe   = regexp.MustCompile(`(?i)^fixes:\s*(.+?)\s*$`)
	issueNumberRe = regexp.MustCompile(`^(?:#|(?i:gh-))([0-9]+)$`)
	repoIssueRe   = regexp.MustCompile(`^([A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+)#([0-9]+)$`)
	commitRe      = regexp.MustCompile(`^([0-9a-f]{7,40})(?:\s+\(.*\))?$`)
	urlPrefixRe   = regexp.MustCompile(`^https?://\S+$`)
)

// FixesReferences returns the references of all Fixes trailers in msg.
// Shorthand references are resolved relative to the GitHub repository
// defaultRepo (owner/name).
func FixesReferences(msg, defaultRepo string) []*Reference {
	var result []*Reference

	for _, line := range strings.Split(msg, "\n") {
		matches := fixesLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if len(matches) != 2 {
			continue
		}

		result = append(result, ParseReference(matches[1], defaultRepo))
	}

	return result
}

// ParseReference maps a Fixes trailer value to a Reference.
func ParseReference(val, defaultRepo string) *Reference {
	ref := Reference{Raw: val}

	if m := issueNumberRe.FindStringSubmatch(val); m != nil {
		ref.URL = issueURL(defaultRepo, m[1])
		return &ref
	}

	if m := repoIssueRe.FindStringSubmatch(val); m != nil {
		ref.URL = issueURL(m[1], m[2])
		return &ref
	}

	if urlPrefixRe.MatchString(val) {
		ref.URL = val
		return &ref
	}

	if m := commitRe.FindStringSubmatch(val); m != nil {
		ref.URL = fmt.Sprintf("%s/%s/commit/%s", githubURL, defaultRepo, m[1])
		return &ref
	}

	return &ref
}

func issueURL(repo, number string) string {
	return fmt.Sprintf("%s/%s/issues/%s", githubURL, repo, number)
}

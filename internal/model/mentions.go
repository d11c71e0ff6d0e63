package model

import (
	"regexp"

	"github.com/google/uuid"
)

// Member ids are UUIDs, so a mention token is "@" followed by a UUID.
var mentionPattern = regexp.MustCompile(`@([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`)

// ExtractMentions returns the member ids mentioned in text as @<memberId>
// tokens, de-duplicated, in first-occurrence order. Tokens that do not parse
// as a UUID are ignored.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var ids []string
	for _, m := range matches {
		id, err := uuid.Parse(m[1])
		if err != nil {
			continue
		}
		s := id.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		ids = append(ids, s)
	}
	return ids
}

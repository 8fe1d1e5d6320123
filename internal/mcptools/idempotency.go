package mcptools

import (
	"fmt"
	"strings"

	"github.com/abathur/swarm/pkg/swarmmodel"
)

// subtaskStopwords are stripped from a subtask title before it is folded
// into an idempotency key.
var subtaskStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "for": true,
	"to": true, "in": true, "of": true, "on": true, "all": true, "across": true,
	"with": true, "that": true, "this": true, "from": true, "into": true, "by": true,
}

// normalizeSubtaskTitle lower-cases title, strips subtaskStopwords, and
// joins the first 6 remaining tokens with "_".
func normalizeSubtaskTitle(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" || subtaskStopwords[f] {
			continue
		}
		kept = append(kept, f)
		if len(kept) == 6 {
			break
		}
	}
	return strings.Join(kept, "_")
}

// SubtaskIdempotencyKey computes "subtask:<parent_id>:<role>:<title>",
// where role defaults to "unknown" when agentType is empty and title is
// normalized first.
func SubtaskIdempotencyKey(parentID swarmmodel.ID, agentType, title string) string {
	role := agentType
	if role == "" {
		role = "unknown"
	}
	return fmt.Sprintf("subtask:%s:%s:%s", parentID, role, normalizeSubtaskTitle(title))
}

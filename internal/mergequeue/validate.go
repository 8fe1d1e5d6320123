package mergequeue

import (
	"strings"

	"github.com/abathur/swarm/internal/swarmerr"
)

// forbiddenBranchChars are the ASCII punctuation git itself rejects or that
// would let a branch string be misread as a flag by a subprocess shell.
const forbiddenBranchChars = " ~^:?*[\\"

// ValidateBranchName is the command-injection boundary in front of every
// git invocation: a
// branch string must be non-empty, must not start with '-' (so it can
// never be parsed as a flag), must not contain "..", must contain no ASCII
// control characters or any of " ~ ^ : ? * [ \", and must not end with
// ".lock".
func ValidateBranchName(name string) error {
	if name == "" {
		return swarmerr.Validation("mergequeue.invalid_branch", "branch name must not be empty")
	}
	if strings.HasPrefix(name, "-") {
		return swarmerr.Validation("mergequeue.invalid_branch", "branch name must not start with '-'")
	}
	if strings.Contains(name, "..") {
		return swarmerr.Validation("mergequeue.invalid_branch", "branch name must not contain '..'")
	}
	if strings.HasSuffix(name, ".lock") {
		return swarmerr.Validation("mergequeue.invalid_branch", "branch name must not end with '.lock'")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return swarmerr.Validation("mergequeue.invalid_branch", "branch name must not contain control characters")
		}
	}
	if strings.ContainsAny(name, forbiddenBranchChars) {
		return swarmerr.Validation("mergequeue.invalid_branch", "branch name contains a forbidden character")
	}
	return nil
}

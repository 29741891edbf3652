// Package changeid handles the Change-Id trailer that identifies a logical
// change across amendments and rebases, and the deterministic review-branch
// names derived from it.
package changeid

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"mrstack.dev/mrstack/internal/errors"
)

// BranchSliceLength is the number of hex characters of the Change-Id used in
// a review branch name. Eight characters keeps remote branch names short
// while staying collision-resistant for a single destination branch.
const BranchSliceLength = 8

var trailerRegex = regexp.MustCompile(`Change-Id: (.+?)(\s|$)`)

// FromMessage extracts the Change-Id from a commit message trailer.
// Every commit entering the engine must carry exactly one Change-Id;
// absence is a fatal input error.
func FromMessage(message string) (string, error) {
	m := trailerRegex.FindStringSubmatch(message)
	if m == nil {
		return "", errors.NewMissingChangeIDError(message)
	}
	return m[1], nil
}

// FromMessageSilent is like FromMessage but returns an empty string when the
// trailer is absent. Used when scanning commits that may not belong to this
// workflow, such as the commits CI pipelines were triggered for.
func FromMessageSilent(message string) string {
	m := trailerRegex.FindStringSubmatch(message)
	if m == nil {
		return ""
	}
	return m[1]
}

// StripTrailer removes the Change-Id trailer line from a commit message body.
func StripTrailer(body string) string {
	return trailerRegex.ReplaceAllString(body, "")
}

// BranchName derives the remote review branch for a change. The result is a
// pure function of the final branch and the Change-Id, so re-running the tool
// against unchanged commits maps every commit to the same remote branch.
func BranchName(finalBranch, changeID string) string {
	id := strings.TrimPrefix(changeID, "I")
	if len(id) > BranchSliceLength {
		id = id[:BranchSliceLength]
	}
	return fmt.Sprintf("%s-%s", finalBranch, id)
}

// BranchPattern returns a regexp matching every review branch derived from
// the given final branch. Used to filter the backend's open merge requests
// down to the ones this tool owns.
func BranchPattern(finalBranch string) *regexp.Regexp {
	return regexp.MustCompile(
		fmt.Sprintf(`^%s-[0-9a-f]{%d}$`, regexp.QuoteMeta(finalBranch), BranchSliceLength))
}

// Generate returns a fresh Change-Id in the Gerrit style: "I" followed by 40
// hex characters. Called by the commit-msg hook installed by `mrstack init`.
func Generate() string {
	sum := sha1.Sum([]byte(uuid.NewString()))
	return "I" + hex.EncodeToString(sum[:])
}

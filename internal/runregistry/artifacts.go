package runregistry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	"github.com/antigravity-dev/kanbanctl/internal/orcherrors"
)

// ParseDone reads and strictly validates a done.json file. kind affects
// validity only in that docs runs permit a zero-byte patch (deliberate
// skip); worker runs do not (spec.md §4.D).
func ParseDone(path string, kind Kind) (*DoneResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, orcherrors.Wrapf(orcherrors.ArtifactInvalid, "runregistry: read %s: %w", path, err)
	}
	var df doneFile
	if err := json.Unmarshal(raw, &df); err != nil {
		return nil, orcherrors.Wrapf(orcherrors.ArtifactInvalid, "runregistry: parse %s: %w", path, err)
	}

	result := &DoneResult{doneFile: df}
	result.Valid = df.OK && df.PatchExists && df.CommentExists && (df.PatchBytes > 0 || kind == Docs)
	return result, nil
}

// ParseReview reads review.json and normalizes its verdict against
// reviewThreshold (spec.md §4.D): PASS requires verdict=="PASS" AND
// score>=threshold AND an empty critical_items list; REWORK wins over a
// reported PASS when critical_items is non-empty.
func ParseReview(path string, reviewThreshold int) (*ReviewResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, orcherrors.Wrapf(orcherrors.ArtifactInvalid, "runregistry: read %s: %w", path, err)
	}
	var rf reviewFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return nil, orcherrors.Wrapf(orcherrors.ArtifactInvalid, "runregistry: parse %s: %w", path, err)
	}
	if rf.Score < 1 || rf.Score > 100 {
		return nil, orcherrors.Wrapf(orcherrors.ArtifactInvalid, "runregistry: %s score %d out of range [1,100]", path, rf.Score)
	}
	switch rf.Verdict {
	case string(VerdictPass), string(VerdictRework), string(VerdictBlocker):
	default:
		return nil, orcherrors.Wrapf(orcherrors.ArtifactInvalid, "runregistry: %s unknown verdict %q", path, rf.Verdict)
	}

	result := &ReviewResult{
		Score:          rf.Score,
		RawVerdict:     rf.Verdict,
		CriticalItems:  rf.CriticalItems,
		Notes:          rf.Notes,
		ReviewRevision: rf.ReviewRevision,
	}
	result.Verdict = normalizeVerdict(rf, reviewThreshold)
	return result, nil
}

func normalizeVerdict(rf reviewFile, threshold int) Verdict {
	if len(rf.CriticalItems) > 0 {
		if rf.Verdict == string(VerdictBlocker) {
			return VerdictBlocker
		}
		return VerdictRework
	}
	if rf.Verdict == string(VerdictPass) && rf.Score >= threshold {
		return VerdictPass
	}
	if rf.Verdict == string(VerdictBlocker) {
		return VerdictBlocker
	}
	return VerdictRework
}

// PatchRevision hashes a patch file's bytes to the revision identifier
// used to match a recovery-eligible review against the current patch
// (spec.md §4.D). Returns "" if the patch does not exist or is empty.
func PatchRevision(patchPath string) (string, error) {
	f, err := os.Open(patchPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", orcherrors.Wrapf(orcherrors.ArtifactInvalid, "runregistry: open %s: %w", patchPath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", orcherrors.Wrapf(orcherrors.ArtifactInvalid, "runregistry: hash %s: %w", patchPath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

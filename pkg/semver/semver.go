package semver

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Sort returns the tags that parse as semantic versions in ascending order.
// Tags that are not semantic versions (latest, sha-abc) are skipped.
func Sort(tags []string) []string {
	semvers := make(semver.Collection, 0, len(tags))
	originals := make(map[*semver.Version]string, len(tags))
	for _, tag := range tags {
		sv, err := semver.NewVersion(tag)
		if err != nil {
			continue
		}
		semvers = append(semvers, sv)
		originals[sv] = tag
	}

	sort.Stable(semvers)

	result := make([]string, len(semvers))
	for i, sv := range semvers {
		result[i] = originals[sv]
	}
	return result
}

// Latest returns the highest semantic version among tags, as it was written.
func Latest(tags []string) (string, bool) {
	sorted := Sort(tags)
	if len(sorted) == 0 {
		return "", false
	}
	return sorted[len(sorted)-1], true
}

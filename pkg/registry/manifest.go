package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
)

// Timestamp decodes the timestamp encodings found in tags manifests.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts ms since the epoch as a number or a digits string, or an ISO-8601 string.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("failed to decode timestamp: %w", err)
	}
	if raw == nil {
		return nil
	}
	parsed, err := model.ParseTimestamp(raw)
	if err != nil {
		return err //nolint:wrapcheck
	}
	t.Time = parsed
	return nil
}

// ManifestEntry is one image of a tags manifest, keyed by digest.
type ManifestEntry struct {
	ImageSizeBytes string    `json:"imageSizeBytes"`
	LayerID        string    `json:"layerId"`
	MediaType      string    `json:"mediaType"`
	Tag            []string  `json:"tag"`
	TimeCreatedMs  Timestamp `json:"timeCreatedMs"`
	TimeUploadedMs Timestamp `json:"timeUploadedMs"`
}

// TagsManifest is the body of /v2/<repository>/tags/list on Google registries.
type TagsManifest struct {
	Name     string                   `json:"name"`
	Tags     []string                 `json:"tags"`
	Manifest map[string]ManifestEntry `json:"manifest"`
}

func (e ManifestEntry) hasTag(tag string) bool {
	for _, t := range e.Tag {
		if t == tag {
			return true
		}
	}
	return false
}

func (e ManifestEntry) imageInfo(canonical, digest string) model.ImageInfo {
	return model.ImageInfo{
		SizeBytes:     e.ImageSizeBytes,
		LayerID:       e.LayerID,
		MediaType:     e.MediaType,
		Tags:          append([]string{}, e.Tag...),
		Created:       e.TimeCreatedMs.UTC(),
		Uploaded:      e.TimeUploadedMs.UTC(),
		Digest:        digest,
		CanonicalName: canonical,
	}
}

// newestWithTag returns the digest of the newest entry carrying tag.
// Ties on created are broken by the greater digest so the choice is stable.
func (m TagsManifest) newestWithTag(tag string) (string, bool) {
	var (
		best    string
		created time.Time
		found   bool
	)
	for digest, entry := range m.Manifest {
		if !entry.hasTag(tag) {
			continue
		}
		c := entry.TimeCreatedMs.Time
		if !found || c.After(created) || (c.Equal(created) && digest > best) {
			best, created, found = digest, c, true
		}
	}
	return best, found
}

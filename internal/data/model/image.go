package model

import (
	"time"

	"github.com/defenseunicorns/uds-vuln-reporter/pkg/semver"
)

// MediaTypeDockerManifestV2 is the manifest media type reported for images resolved without a registry lookup.
const MediaTypeDockerManifestV2 = "application/vnd.docker.distribution.manifest.v2+json"

// ImageInfo is the resolved, immutable description of one image manifest.
type ImageInfo struct {
	SizeBytes     string    `json:"imageSizeBytes"`
	LayerID       string    `json:"layerId"`
	MediaType     string    `json:"mediaType"`
	Tags          []string  `json:"tags"`
	Created       time.Time `json:"created"`
	Uploaded      time.Time `json:"uploaded"`
	Digest        string    `json:"digest,omitempty"`
	CanonicalName string    `json:"canonicalName"`
}

// ScanTarget returns the reference handed to scanners: the digest form when a
// digest is known, otherwise the first tag (latest when there is none).
func (i ImageInfo) ScanTarget() string {
	if i.Digest != "" {
		return i.CanonicalName + "@" + i.Digest
	}
	tag := "latest"
	for _, t := range i.Tags {
		if t != "" {
			tag = t
			break
		}
	}
	return i.CanonicalName + ":" + tag
}

// DisplayTag picks the tag shown in report headings: the highest semantic
// version among the tags, else the first non-empty tag.
func (i ImageInfo) DisplayTag() string {
	if v, ok := semver.Latest(i.Tags); ok {
		return v
	}
	for _, t := range i.Tags {
		if t != "" {
			return t
		}
	}
	return ""
}

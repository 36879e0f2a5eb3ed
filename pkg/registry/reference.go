package registry

import (
	"strings"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
)

// Mode says how a reference pins its image.
type Mode int

const (
	// ModeNone references carry neither tag nor digest.
	ModeNone Mode = iota
	// ModeTag references carry a tag.
	ModeTag
	// ModeDigest references carry a digest.
	ModeDigest
)

const (
	dockerHub       = "docker.io"
	dockerHubLegacy = "registry.hub.docker.com"
	dockerLibrary   = "library"
)

// knownRegistries are recognised as the leading segment of a reference.
var knownRegistries = map[string]bool{
	"gcr.io":        true,
	"eu.gcr.io":     true,
	"us.gcr.io":     true,
	"asia.gcr.io":   true,
	dockerHub:       true,
	dockerHubLegacy: true,
}

// Reference is a parsed image reference.
type Reference struct {
	Raw      string
	Registry string
	Project  string
	Path     string
	Mode     Mode
	// Value is the tag or digest; empty in ModeNone.
	Value string
}

// CanonicalName returns registry/project/path.
func (r Reference) CanonicalName() string {
	return r.Registry + "/" + r.Repository()
}

// Repository returns project/path, the repository as the registry names it.
func (r Reference) Repository() string {
	if r.Path == "" {
		return r.Project
	}
	return r.Project + "/" + r.Path
}

// IsDockerHub reports whether the reference points at Docker Hub.
func (r Reference) IsDockerHub() bool {
	return r.Registry == dockerHub || r.Registry == dockerHubLegacy
}

func malformed(raw, format string, args ...interface{}) error {
	return errdefs.User(errdefs.SubsystemRegistry, errdefs.ErrMalformedImage,
		"malformed image reference %q: "+format, append([]interface{}{raw}, args...)...)
}

// ParseReference splits raw into registry, project, path and tag or digest.
// A reference with a single path segment takes its project from project
// (library on Docker Hub).
func ParseReference(raw, project string) (Reference, error) {
	ref := Reference{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return ref, malformed(raw, "empty")
	}

	if i := strings.Index(s, "@"); i >= 0 {
		ref.Mode, ref.Value, s = ModeDigest, s[i+1:], s[:i]
		if ref.Value == "" {
			return ref, malformed(raw, "empty digest")
		}
	} else if i := strings.Index(s, ":"); i >= 0 {
		ref.Mode, ref.Value, s = ModeTag, s[i+1:], s[:i]
		if ref.Value == "" || strings.Contains(ref.Value, "/") {
			return ref, malformed(raw, "invalid tag %q", ref.Value)
		}
	}

	segments := strings.Split(s, "/")
	if knownRegistries[segments[0]] {
		ref.Registry, segments = segments[0], segments[1:]
	} else {
		ref.Registry = dockerHub
	}

	switch len(segments) {
	case 0:
		return ref, malformed(raw, "missing repository")
	case 1:
		ref.Path = segments[0]
		switch {
		case ref.IsDockerHub():
			ref.Project = dockerLibrary
		case project != "":
			ref.Project = project
		default:
			return ref, malformed(raw, "no project given for %s", ref.Registry)
		}
	default:
		ref.Project, ref.Path = segments[0], strings.Join(segments[1:], "/")
	}

	if _, err := ref.repository(); err != nil {
		return ref, malformed(raw, "%s", err.Error())
	}
	switch ref.Mode {
	case ModeTag:
		if _, err := name.NewTag(ref.CanonicalName()+":"+ref.Value, name.StrictValidation); err != nil {
			return ref, malformed(raw, "%s", err.Error())
		}
	case ModeDigest:
		if _, err := name.NewDigest(ref.CanonicalName()+"@"+ref.Value, name.StrictValidation); err != nil {
			return ref, malformed(raw, "%s", err.Error())
		}
	}
	return ref, nil
}

// repository returns the go-containerregistry form of the reference.
func (r Reference) repository() (name.Repository, error) {
	repo, err := name.NewRepository(r.CanonicalName(), name.StrictValidation)
	if err != nil {
		return name.Repository{}, err //nolint:wrapcheck
	}
	return repo, nil
}

package report

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

// AggregateCanonicalName names aggregates whose members are different images.
const AggregateCanonicalName = "aggregate"

var errNoMembers = errors.New("an aggregate report needs at least one member")

// AggregateReport combines several reports. Members are shared, never modified.
type AggregateReport struct {
	view
	id        string
	timestamp time.Time
	members   []*Report
	image     model.ImageInfo
}

// NewAggregate combines members under id. The aggregate's timestamp is the
// newest member timestamp.
func NewAggregate(id string, members []*Report, logger types.Logger) (*AggregateReport, error) {
	if len(members) == 0 {
		return nil, errNoMembers
	}
	var vulns []model.Vulnerability
	var newest time.Time
	for _, m := range members {
		vulns = append(vulns, m.vulns...)
		if m.timestamp.After(newest) {
			newest = m.timestamp
		}
	}
	return &AggregateReport{
		view:      newView(vulns, logger),
		id:        id,
		timestamp: newest,
		members:   append([]*Report(nil), members...),
		image:     combineImages(members),
	}, nil
}

// combineImages unions tags and keeps the earliest created and uploaded times.
func combineImages(members []*Report) model.ImageInfo {
	first := members[0].image
	out := model.ImageInfo{
		CanonicalName: first.CanonicalName,
		MediaType:     first.MediaType,
		Created:       first.Created,
		Uploaded:      first.Uploaded,
	}
	var size int64
	sized := true
	var tags []string
	for _, m := range members {
		img := m.image
		if img.CanonicalName != out.CanonicalName {
			out.CanonicalName = AggregateCanonicalName
		}
		if img.MediaType != out.MediaType {
			out.MediaType = ""
		}
		if !img.Created.IsZero() && (out.Created.IsZero() || img.Created.Before(out.Created)) {
			out.Created = img.Created
		}
		if !img.Uploaded.IsZero() && (out.Uploaded.IsZero() || img.Uploaded.Before(out.Uploaded)) {
			out.Uploaded = img.Uploaded
		}
		tags = append(tags, img.Tags...)
		if n, err := strconv.ParseInt(img.SizeBytes, 10, 64); err == nil {
			size += n
		} else {
			sized = false
		}
	}
	out.Tags = lo.Uniq(lo.Compact(tags))
	if sized {
		out.SizeBytes = strconv.FormatInt(size, 10)
	}
	return out
}

// ID implements Reader.
func (a *AggregateReport) ID() string { return a.id }

// Image implements Reader.
func (a *AggregateReport) Image() model.ImageInfo { return a.image }

// Timestamp implements Reader.
func (a *AggregateReport) Timestamp() time.Time { return a.timestamp }

// Backend implements Reader. Mixed backends are joined with "+".
func (a *AggregateReport) Backend() string {
	backends := lo.Uniq(lo.Map(a.members, func(m *Report, _ int) string { return m.backend }))
	return strings.Join(backends, "+")
}

// Aggregate implements Reader.
func (a *AggregateReport) Aggregate() bool { return true }

// ScanIDs implements Reader.
func (a *AggregateReport) ScanIDs() []string {
	return lo.Map(a.members, func(m *Report, _ int) string { return m.id })
}

// Members returns the member reports.
func (a *AggregateReport) Members() []*Report {
	return append([]*Report(nil), a.members...)
}

// MostSeverePerMember maps each member id to its highest scoring
// vulnerability. Members without vulnerabilities are left out.
func (a *AggregateReport) MostSeverePerMember() map[string]model.Vulnerability {
	out := make(map[string]model.Vulnerability, len(a.members))
	for _, m := range a.members {
		if top := m.TopNMostSevere(1, false); len(top) == 1 {
			out[m.id] = top[0]
		}
	}
	return out
}

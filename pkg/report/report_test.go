package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return b
}

func vuln(id string, score float64, sev model.Severity) model.Vulnerability {
	return model.Vulnerability{ID: id, CVSSScore: score, Severity: sev}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestParseSnykSingleProject(t *testing.T) {
	vulns, err := ParseSnyk(readTestdata(t, "snyk_single.json"))
	require.NoError(t, err)
	require.Len(t, vulns, 3)

	openssl := vulns[0]
	assert.Equal(t, model.SeverityCritical, openssl.Severity)
	assert.Equal(t, 9.8, openssl.CVSSScore)
	assert.True(t, openssl.IsUpgradable)
	assert.True(t, openssl.IsExploitable)
	assert.Equal(t, []string{"openssl@1.1.1k"}, openssl.UpgradePath)
	assert.Equal(t, "FROM debian:11", openssl.DockerfileInstruction)
	assert.Equal(t, []string{"CVE-2021-3449"}, openssl.Identifiers)
	require.NotNil(t, openssl.PublicationTime)
	assert.True(t, openssl.PublicationTime.Equal(time.Date(2021, 3, 25, 15, 0, 0, 0, time.UTC)))

	zlib := vulns[1]
	assert.Equal(t, model.SeverityMedium, zlib.Severity)
	assert.Equal(t, 6.9, zlib.CVSSScore, "null score is backfilled from the band")
	assert.False(t, zlib.IsExploitable)
	assert.Empty(t, zlib.UpgradePath)

	glibc := vulns[2]
	assert.Equal(t, 3.9, glibc.CVSSScore, "missing score is backfilled from the band")
	assert.True(t, glibc.IsExploitable, "exploit maturity is case-insensitive")
	assert.Nil(t, glibc.PublicationTime)
	assert.Equal(t, []string{"SNYK-DEBIAN11-GLIBC-3"}, glibc.CVEs())
}

func TestParseSnykProjectArray(t *testing.T) {
	vulns, err := ParseSnyk(readTestdata(t, "snyk_multi.json"))
	require.NoError(t, err)
	ids := make([]string, 0, len(vulns))
	for _, v := range vulns {
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"SNYK-1", "SNYK-2", "SNYK-3"}, ids)
}

func TestParseSnykErrors(t *testing.T) {
	for _, raw := range []string{"", "  ", "not json", "[]", `{"vulnerabilities": 3}`} {
		_, err := ParseSnyk([]byte(raw))
		assert.Error(t, err, "%q", raw)
	}
	vulns, err := ParseSnyk([]byte(`{"ok": true, "vulnerabilities": []}`))
	require.NoError(t, err)
	assert.Empty(t, vulns)
}

func TestParse(t *testing.T) {
	ctx := context.Background()
	scanLog := model.ScanLog{
		ID:        "scan-1",
		Backend:   "snyk",
		Image:     model.ImageInfo{CanonicalName: "gcr.io/p/a"},
		Timestamp: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	r, err := Parse(ctx, scanLog, readTestdata(t, "snyk_single.json"))
	require.NoError(t, err)
	assert.Equal(t, "scan-1", r.ID())
	assert.Equal(t, []string{"scan-1"}, r.ScanIDs())
	assert.Equal(t, "gcr.io/p/a", r.Image().CanonicalName)
	assert.Equal(t, "snyk", r.Backend())
	assert.False(t, r.Aggregate())
	assert.Len(t, r.Vulnerabilities(), 3)

	_, err = Parse(ctx, model.ScanLog{Backend: "trivy"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrUnknownBackend))
	assert.Equal(t, "Unknown backend: trivy", errdefs.Detail(err))

	_, err = Parse(ctx, scanLog, []byte("{"))
	require.Error(t, err)
	assert.Equal(t, errdefs.KindData, errdefs.KindOf(err))
}

func TestRegister(t *testing.T) {
	Register("fake", func([]byte) ([]model.Vulnerability, error) {
		return []model.Vulnerability{vuln("X", 1, model.SeverityLow)}, nil
	})
	t.Cleanup(func() {
		parsersMu.Lock()
		delete(parsers, "fake")
		parsersMu.Unlock()
	})
	assert.Contains(t, Backends(), "fake")
	r, err := Parse(context.Background(), model.ScanLog{ID: "s", Backend: "fake"}, nil)
	require.NoError(t, err)
	assert.Len(t, r.Vulnerabilities(), 1)
}

// snykJSON renders vulns the way the scanner does, for round-trip checks.
func snykJSON(t *testing.T, vulns []model.Vulnerability) []byte {
	t.Helper()
	type out struct {
		ID                   string  `json:"id"`
		CVSSScore            float64 `json:"cvssScore"`
		Severity             string  `json:"severity"`
		SeverityWithCritical string  `json:"severityWithCritical"`
	}
	items := make([]out, 0, len(vulns))
	for _, v := range vulns {
		legacy := string(v.Severity)
		if v.Severity == model.SeverityCritical {
			legacy = string(model.SeverityHigh)
		}
		items = append(items, out{ID: v.ID, CVSSScore: v.CVSSScore, Severity: legacy, SeverityWithCritical: string(v.Severity)})
	}
	b, err := json.Marshal(map[string]interface{}{"vulnerabilities": items})
	require.NoError(t, err)
	return b
}

func randomVulns(rng *rand.Rand, n int) []model.Vulnerability {
	out := make([]model.Vulnerability, n)
	for i := range out {
		sev := model.Severities[rng.IntN(len(model.Severities))]
		score := math.Round(rng.Float64()*sev.UpperBound()*10) / 10
		if rng.IntN(5) == 0 {
			score = 0
		}
		out[i] = model.Vulnerability{
			ID:          fmt.Sprintf("V-%d", i),
			CVSSScore:   score,
			Severity:    sev,
			Identifiers: []string{fmt.Sprintf("CVE-%d", rng.IntN(n/2+1))},
		}
	}
	return out
}

func TestParseRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 20; i++ {
		want := New("r", model.ImageInfo{}, time.Time{}, "snyk", randomVulns(rng, 1+rng.IntN(40)), nil)
		vulns, err := ParseSnyk(snykJSON(t, want.Vulnerabilities()))
		require.NoError(t, err)
		got := New("r", model.ImageInfo{}, time.Time{}, "snyk", vulns, nil)
		assert.Len(t, got.Vulnerabilities(), len(want.Vulnerabilities()))
		assert.Equal(t, want.Distribution(), got.Distribution())
	}
}

func TestStatsInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 50; i++ {
		r := New("r", model.ImageInfo{}, time.Time{}, "snyk", randomVulns(rng, 1+rng.IntN(60)), nil)
		for _, s := range []model.CvssStats{r.Stats(), r.StatsIncludingZero()} {
			assert.LessOrEqual(t, s.Min, s.Median)
			assert.LessOrEqual(t, s.Median, s.Max)
			assert.LessOrEqual(t, s.Min, s.Mean+1e-9)
			assert.LessOrEqual(t, s.Mean, s.Max+1e-9)
			assert.GreaterOrEqual(t, s.Stdev, 0.0)
		}
		d := r.Distribution()
		assert.LessOrEqual(t, d.Total(), len(r.Vulnerabilities()))
		assert.Equal(t, len(r.Vulnerabilities()), d.Total(), "every generated severity is known")
	}
}

func TestComputeStats(t *testing.T) {
	got := ComputeStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	want := model.CvssStats{Mean: 5, Median: 4.5, Stdev: 2, Min: 2, Max: 9}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 5.0, ComputeStats([]float64{9, 1, 5}).Median)
}

func TestStatsExcludeZeroScores(t *testing.T) {
	logger := &types.RecordingLogger{}
	r := New("r", model.ImageInfo{}, time.Time{}, "snyk", []model.Vulnerability{
		vuln("a", 0, model.SeverityUndefined),
		vuln("b", 4, model.SeverityMedium),
		vuln("c", 8, model.SeverityHigh),
	}, logger)
	assert.Equal(t, 4.0, r.Stats().Min)
	assert.Equal(t, 0.0, r.StatsIncludingZero().Min)
	assert.Empty(t, logger.Messages("warn"))

	empty := New("e", model.ImageInfo{}, time.Time{}, "snyk", []model.Vulnerability{vuln("a", 0, model.SeverityUndefined)}, logger)
	assert.Equal(t, model.CvssStats{}, empty.Stats())
	assert.Len(t, logger.Messages("warn"), 1)
}

func TestDistributionAndHighestSeverity(t *testing.T) {
	r := New("r", model.ImageInfo{}, time.Time{}, "snyk", []model.Vulnerability{
		vuln("a", 2, model.SeverityLow),
		vuln("b", 5, model.SeverityMedium),
		vuln("c", 5, model.SeverityMedium),
		vuln("d", 0, model.SeverityUndefined),
	}, nil)
	assert.Equal(t, model.SeverityDistribution{Low: 1, Medium: 2}, r.Distribution())
	assert.Equal(t, 3, r.Distribution().Total())
	assert.Equal(t, model.SeverityMedium, r.HighestSeverity())

	none := New("n", model.ImageInfo{}, time.Time{}, "snyk", nil, nil)
	assert.Equal(t, model.SeverityLow, none.HighestSeverity())
}

func TestTopNMostSevere(t *testing.T) {
	vulns := []model.Vulnerability{
		vuln("a", 5, model.SeverityMedium),
		vuln("b", 9, model.SeverityCritical),
		vuln("c", 5, model.SeverityMedium),
		vuln("d", 7, model.SeverityHigh),
	}
	vulns[2].IsUpgradable = true
	vulns[3].IsUpgradable = true
	r := New("r", model.ImageInfo{}, time.Time{}, "snyk", vulns, nil)

	ids := func(vs []model.Vulnerability) []string {
		out := []string{}
		for _, v := range vs {
			out = append(out, v.ID)
		}
		return out
	}
	assert.Equal(t, []string{"b", "d", "a"}, ids(r.TopNMostSevere(3, false)))
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids(r.TopNMostSevere(10, false)), "ties keep report order")
	assert.Equal(t, []string{"d", "c"}, ids(r.TopNMostSevere(10, true)))
	assert.Empty(t, r.TopNMostSevere(0, false))

	rng := rand.New(rand.NewPCG(3, 5))
	for i := 0; i < 20; i++ {
		rr := New("r", model.ImageInfo{}, time.Time{}, "snyk", randomVulns(rng, rng.IntN(30)), nil)
		n := rng.IntN(40)
		top := rr.TopNMostSevere(n, false)
		assert.Len(t, top, min(n, len(rr.Vulnerabilities())))
		for j := 1; j < len(top); j++ {
			assert.GreaterOrEqual(t, top[j-1].CVSSScore, top[j].CVSSScore)
		}
	}
}

func TestMostCommonCVEs(t *testing.T) {
	vulns := []model.Vulnerability{
		{ID: "1", Identifiers: []string{"CVE-B"}},
		{ID: "2", Identifiers: []string{"CVE-A"}},
		{ID: "3", Identifiers: []string{"CVE-A", "CVE-C"}},
		{ID: "4", Identifiers: []string{"CVE-C"}},
		{ID: "5"},
	}
	r := New("r", model.ImageInfo{}, time.Time{}, "snyk", vulns, nil)
	want := []CVECount{{ID: "CVE-A", Count: 2}, {ID: "CVE-C", Count: 2}, {ID: "CVE-B", Count: 1}}
	if diff := cmp.Diff(want, r.MostCommonCVEs(3)); diff != "" {
		t.Errorf("MostCommonCVEs mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, r.MostCommonCVEs(0), 4)

	rng := rand.New(rand.NewPCG(9, 9))
	for i := 0; i < 20; i++ {
		rr := New("r", model.ImageInfo{}, time.Time{}, "snyk", randomVulns(rng, 1+rng.IntN(50)), nil)
		n := 1 + rng.IntN(10)
		got := rr.MostCommonCVEs(n)
		assert.LessOrEqual(t, len(got), n)
		for j := 1; j < len(got); j++ {
			assert.GreaterOrEqual(t, got[j-1].Count, got[j].Count)
		}
	}
}

func TestAgeCohorts(t *testing.T) {
	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	ago := func(days int) *time.Time { return timePtr(now.AddDate(0, 0, -days)) }
	vulns := []model.Vulnerability{
		{ID: "old", PublicationTime: ago(400)},
		{ID: "almost-366", PublicationTime: timePtr(now.Add(-(365*24 + 23) * time.Hour))},
		{ID: "year", PublicationTime: ago(365)},
		{ID: "half", PublicationTime: ago(200)},
		{ID: "quarter", PublicationTime: ago(100)},
		{ID: "month", PublicationTime: ago(31)},
		{ID: "fresh", PublicationTime: ago(30)},
		{ID: "today", PublicationTime: ago(0)},
		{ID: "unknown"},
	}
	logger := &types.RecordingLogger{}
	r := New("r", model.ImageInfo{}, time.Time{}, "snyk", vulns, logger)

	cohorts := r.AgeCohorts(now)
	require.Len(t, cohorts, 5)
	got := map[int][]string{}
	for _, c := range cohorts {
		for _, v := range c.Vulnerabilities {
			got[c.MinDays] = append(got[c.MinDays], v.ID)
		}
	}
	want := map[int][]string{
		365: {"old", "almost-366"},
		180: {"year", "half"},
		90:  {"quarter"},
		30:  {"month"},
		-1:  {"fresh", "today"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cohorts mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, logger.Messages("warn"), 1)
}

func TestAgePointsAndColormap(t *testing.T) {
	require.Len(t, Colormap, 256)
	assert.Equal(t, "#006837", Colormap[0])
	assert.Equal(t, "#a50026", Colormap[255])
	assert.Equal(t, 0, ColorIndex(0))
	assert.Equal(t, 255, ColorIndex(10))
	assert.Equal(t, 255, ColorIndex(12))
	assert.Equal(t, 128, ColorIndex(5))

	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New("r", model.ImageInfo{}, time.Time{}, "snyk", []model.Vulnerability{
		{ID: "b", CVSSScore: 10, PublicationTime: timePtr(t2)},
		{ID: "a", CVSSScore: 0, PublicationTime: timePtr(t1)},
		{ID: "c", CVSSScore: 5},
	}, nil)
	points := r.AgePoints()
	require.Len(t, points, 2)
	assert.True(t, points[0].Published.Equal(t1))
	assert.Equal(t, "#006837", points[0].Color)
	assert.Equal(t, "#a50026", points[1].Color)
}

func TestViewsFromScan(t *testing.T) {
	vulns, err := ParseSnyk(readTestdata(t, "snyk_single.json"))
	require.NoError(t, err)
	r := New("r", model.ImageInfo{}, time.Time{}, "snyk", vulns, nil)

	assert.Len(t, r.Exploitable(), 2)
	require.Len(t, r.Critical(), 1)
	assert.Equal(t, "SNYK-DEBIAN11-OPENSSL-1", r.Critical()[0].ID)
	assert.Equal(t, []string{"openssl@1.1.1k"}, r.UpgradePaths())
	assert.Equal(t, []string{"FROM debian:11"}, r.DockerfileInstructions())
}

func TestVulnerabilitiesReturnsCopy(t *testing.T) {
	r := New("r", model.ImageInfo{}, time.Time{}, "snyk", []model.Vulnerability{vuln("a", 1, model.SeverityLow)}, nil)
	vs := r.Vulnerabilities()
	vs[0].ID = "changed"
	assert.Equal(t, "a", r.Vulnerabilities()[0].ID)
}

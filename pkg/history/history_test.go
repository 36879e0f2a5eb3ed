package history_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/data/model"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/log"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore/docstoretest"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/history"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/report"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/types"
)

const collection = "reports"

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func put(t *testing.T, store docstore.Store, id string, data model.ReportData, mutate func(docstore.Fields)) {
	t.Helper()
	fields, err := docstore.FieldsOf(data)
	require.NoError(t, err)
	delete(fields, "id")
	if mutate != nil {
		mutate(fields)
	}
	_, err = store.Set(context.Background(), docstore.DocRef{Collection: collection, ID: id}, fields)
	require.NoError(t, err)
}

func reportData(name string, at time.Time, historical bool) model.ReportData {
	return model.ReportData{
		Image:      model.ImageInfo{CanonicalName: name, Created: at.Add(-24 * time.Hour)},
		Timestamp:  at,
		Historical: historical,
		Cvss:       model.CvssStats{Mean: 5, Max: 9},
	}
}

func ids(data []model.ReportData) []string {
	out := []string{}
	for _, d := range data {
		out = append(out, d.ID)
	}
	return out
}

func current(name string) report.Reader {
	return report.New("self", model.ImageInfo{CanonicalName: name}, now, "snyk", nil, nil)
}

func TestPreviousReports(t *testing.T) {
	store := docstoretest.NewStore(t)
	const web = "eu.gcr.io/p/web"
	put(t, store, "self", reportData(web, now, false), nil)
	put(t, store, "week", reportData(web, now.Add(-7*24*time.Hour), false), nil)
	put(t, store, "day", reportData(web, now.Add(-24*time.Hour), true), nil)
	put(t, store, "ancient", reportData(web, now.Add(-400*24*time.Hour), true), nil)
	put(t, store, "future", reportData(web, now.Add(time.Hour), false), nil)
	put(t, store, "other", reportData("eu.gcr.io/p/api", now.Add(-time.Hour), false), nil)
	agg := reportData(web, now.Add(-2*time.Hour), false)
	agg.Aggregate = true
	put(t, store, "aggregate", agg, nil)

	resolver := history.NewResolver(store).WithClock(func() time.Time { return now })
	ctx := context.Background()
	window := history.Within(24 * 7 * 24 * time.Hour)

	got, err := resolver.PreviousReports(ctx, current(web), collection, window, history.Options{IgnoreSelf: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"week", "day", "aggregate"}, ids(got), "oldest first; self, out-of-window and other images dropped")

	got, err = resolver.PreviousReports(ctx, current(web), collection, window, history.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"week", "day", "aggregate", "self"}, ids(got))

	got, err = resolver.PreviousReports(ctx, current(web), collection, window, history.Options{IgnoreSelf: true, SkipHistorical: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"week", "aggregate"}, ids(got))

	got, err = resolver.PreviousReports(ctx, current(web), collection, history.Since(now.Add(-48*time.Hour)), history.Options{IgnoreSelf: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"day", "aggregate"}, ids(got))
}

func TestPreviousReportsWindowBounds(t *testing.T) {
	store := docstoretest.NewStore(t)
	const web = "eu.gcr.io/p/web"
	put(t, store, "at-cutoff", reportData(web, now.Add(-time.Hour), false), nil)
	put(t, store, "at-now", reportData(web, now, false), nil)

	resolver := history.NewResolver(store).WithClock(func() time.Time { return now })
	got, err := resolver.PreviousReports(context.Background(), current(web), collection, history.Within(time.Hour), history.Options{IgnoreSelf: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"at-now"}, ids(got), "the window is open at the cutoff and closed at now")
}

func TestPreviousReportsByImage(t *testing.T) {
	store := docstoretest.NewStore(t)
	const web = "eu.gcr.io/p/web"
	old := reportData(web, now.Add(-time.Hour), false)
	old.Image.Created = now.Add(-30 * 24 * time.Hour)
	put(t, store, "old-image", old, nil)
	put(t, store, "new-image", reportData(web, now.Add(-2*time.Hour), false), nil)

	resolver := history.NewResolver(store).WithClock(func() time.Time { return now })
	got, err := resolver.PreviousReports(context.Background(), current(web), collection, history.Within(7*24*time.Hour),
		history.Options{IgnoreSelf: true, ByImage: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"new-image"}, ids(got))
}

func TestPreviousReportsSkipsBadDocuments(t *testing.T) {
	store := docstoretest.NewStore(t)
	const web = "eu.gcr.io/p/web"
	put(t, store, "good", reportData(web, now.Add(-time.Hour), false), nil)
	put(t, store, "malformed", reportData(web, now.Add(-time.Hour), false), func(f docstore.Fields) {
		f["timestamp"] = "last tuesday"
	})
	put(t, store, "missing", reportData(web, now.Add(-time.Hour), false), func(f docstore.Fields) {
		delete(f, "timestamp")
	})

	logger := &types.RecordingLogger{}
	ctx := log.WithLogger(context.Background(), logger)
	resolver := history.NewResolver(store).WithClock(func() time.Time { return now })
	got, err := resolver.PreviousReports(ctx, current(web), collection, history.Within(24*time.Hour), history.Options{IgnoreSelf: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, ids(got))
	assert.Len(t, logger.Messages("warn"), 2)
}

func TestPreviousReportsPropertyWindow(t *testing.T) {
	store := docstoretest.NewStore(t)
	const web = "eu.gcr.io/p/web"
	for i := 0; i < 30; i++ {
		at := now.Add(time.Duration(i-25) * 12 * time.Hour)
		put(t, store, at.Format("20060102T1504"), reportData(web, at, i%3 == 0), nil)
	}
	resolver := history.NewResolver(store).WithClock(func() time.Time { return now })
	for _, days := range []int{1, 3, 7, 30} {
		window := time.Duration(days) * 24 * time.Hour
		got, err := resolver.PreviousReports(context.Background(), current(web), collection, history.Within(window), history.Options{IgnoreSelf: true})
		require.NoError(t, err)
		for _, d := range got {
			assert.True(t, d.Timestamp.After(now.Add(-window)), "%s before window of %d days", d.ID, days)
			assert.False(t, d.Timestamp.After(now), "%s after now", d.ID)
			assert.NotEqual(t, "self", d.ID)
		}
	}
}

func TestGet(t *testing.T) {
	store := docstoretest.NewStore(t)
	put(t, store, "r1", reportData("gcr.io/p/a", now, false), nil)

	got, err := history.Get(context.Background(), store, collection, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	assert.True(t, got.Timestamp.Equal(now))

	_, err = history.Get(context.Background(), store, collection, "nope")
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestParseListQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{name: "image only", query: "image=eu.gcr.io/p/web"},
		{name: "aggregate only", query: "aggregate=true&order=maxscore&field=max&limit=5"},
		{name: "neither", query: "", wantErr: "exactly one of `image` and `aggregate` must be set"},
		{name: "both", query: "image=a&aggregate=false", wantErr: "exactly one of `image` and `aggregate` must be set"},
		{name: "inverted window", query: "image=eu.gcr.io/p/web&ge=7&le=5", wantErr: "`le` must be greater than `ge`"},
		{name: "equal window", query: "image=a&ge=5&le=5"},
		{name: "bad field", query: "image=a&field=p95", wantErr: "`field` must be one of"},
		{name: "bad order", query: "image=a&order=random", wantErr: "`order` must be one of"},
		{name: "bad number", query: "image=a&ge=high", wantErr: "`ge` must be a number"},
		{name: "both bounds bad", query: "image=a&le=low&ge=high", wantErr: "`ge` must be a number"},
		{name: "bad upper bound", query: "image=a&ge=1&le=low", wantErr: "`le` must be a number"},
		{name: "bad aggregate", query: "aggregate=maybe", wantErr: "`aggregate` must be true or false"},
		{name: "bad limit", query: "image=a&limit=0", wantErr: "`limit` must be a positive integer"},
		{name: "huge limit", query: "image=a&limit=100000", wantErr: "`limit` must be between"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			q, err := history.ParseListQuery(values)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotEmpty(t, q.Field)
				assert.NotEmpty(t, q.Order)
				assert.Positive(t, q.Limit)
				return
			}
			require.Error(t, err)
			assert.Contains(t, errdefs.Detail(err), tt.wantErr)
			assert.Equal(t, errdefs.KindUser, errdefs.KindOf(err))
		})
	}
}

func TestList(t *testing.T) {
	store := docstoretest.NewStore(t)
	const web = "eu.gcr.io/p/web"
	for i, mean := range []float64{3, 8, 5, 9} {
		d := reportData(web, now.Add(time.Duration(i)*time.Hour), false)
		d.Cvss.Mean = mean
		put(t, store, []string{"a", "b", "c", "d"}[i], d, nil)
	}
	agg := reportData("aggregate", now, false)
	agg.Aggregate = true
	put(t, store, "agg", agg, nil)
	ctx := context.Background()

	got, err := history.List(ctx, store, collection, history.ListQuery{Image: web})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids(got))

	ge, le := 4.0, 8.5
	got, err = history.List(ctx, store, collection, history.ListQuery{Image: web, GE: &ge, LE: &le, Order: history.OrderMaxScore})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(got))

	got, err = history.List(ctx, store, collection, history.ListQuery{Image: web, Order: history.OrderOldest, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))

	yes := true
	got, err = history.List(ctx, store, collection, history.ListQuery{Aggregate: &yes})
	require.NoError(t, err)
	assert.Equal(t, []string{"agg"}, ids(got))

	_, err = history.List(ctx, store, collection, history.ListQuery{})
	assert.Equal(t, errdefs.KindUser, errdefs.KindOf(err))
}

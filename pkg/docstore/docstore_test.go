package docstore_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
	"github.com/defenseunicorns/uds-vuln-reporter/internal/retry"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore"
	"github.com/defenseunicorns/uds-vuln-reporter/pkg/docstore/docstoretest"
)

type record struct {
	Name      string    `json:"name"`
	Score     float64   `json:"score"`
	Flag      bool      `json:"flag"`
	Timestamp time.Time `json:"timestamp"`
	Nested    struct {
		Key string `json:"key"`
	} `json:"nested"`
}

func mustFields(t *testing.T, v interface{}) docstore.Fields {
	t.Helper()
	f, err := docstore.FieldsOf(v)
	require.NoError(t, err)
	return f
}

func TestGormStoreAddGet(t *testing.T) {
	ctx := context.Background()
	store := docstoretest.NewStore(t)
	commit := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return commit })

	fields := mustFields(t, record{Name: "a", Score: 7.5})
	fields["timestamp"] = docstore.ServerTimestamp

	doc, err := store.Add(ctx, "scans", fields)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Ref.ID)
	assert.Equal(t, "scans", doc.Ref.Collection)

	var added record
	require.NoError(t, doc.Fields.Decode(&added))
	assert.True(t, added.Timestamp.Equal(commit))

	got, err := store.Get(ctx, doc.Ref)
	require.NoError(t, err)
	var read record
	require.NoError(t, got.Fields.Decode(&read))
	if diff := cmp.Diff(added, read); diff != "" {
		t.Errorf("document mismatch (-added +read):\n%s", diff)
	}

	_, err = store.Get(ctx, docstore.DocRef{Collection: "scans", ID: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

func TestGormStoreSetAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := docstoretest.NewStore(t)
	ref := docstore.DocRef{Collection: "reports/r1/vulnerabilities", ID: "high"}

	_, err := store.Set(ctx, ref, docstore.Fields{"severity": "high", "ok": true})
	require.NoError(t, err)
	_, err = store.Set(ctx, ref, docstore.Fields{"severity": "high", "ok": false})
	require.NoError(t, err)

	doc, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, false, doc.Fields["ok"])

	require.NoError(t, store.Update(ctx, ref, []docstore.Update{
		{Path: "ok", Value: true},
		{Path: "meta.updated", Value: docstore.ServerTimestamp},
	}))
	doc, err = store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, true, doc.Fields["ok"])
	updated, ok := doc.Fields.Lookup("meta.updated")
	require.True(t, ok)
	assert.NotEmpty(t, updated)

	err = store.Update(ctx, docstore.DocRef{Collection: "reports", ID: "missing"}, []docstore.Update{{Path: "ok", Value: true}})
	assert.True(t, errors.Is(err, docstore.ErrNotFound))
}

func TestGormStoreRejectsOversizedDocuments(t *testing.T) {
	store := docstoretest.NewStore(t)
	big := strings.Repeat("x", docstore.MaxDocumentSize)
	_, err := store.Add(context.Background(), "reports", docstore.Fields{"blob": big})
	require.Error(t, err)
	assert.True(t, errors.Is(err, docstore.ErrInvalidArgument))
	assert.Contains(t, errdefs.Detail(err), "Firestore error")
}

func TestGormStoreQueries(t *testing.T) {
	ctx := context.Background()
	store := docstoretest.NewStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range []record{
		{Name: "gcr.io/p/a", Score: 5, Timestamp: base.Add(2 * time.Hour)},
		{Name: "gcr.io/p/a", Score: 9, Timestamp: base.Add(1 * time.Hour), Flag: true},
		{Name: "gcr.io/p/b", Score: 1, Timestamp: base},
		{Name: "gcr.io/p/a", Score: 7, Timestamp: base.Add(3*time.Hour + 500*time.Millisecond)},
	} {
		r.Nested.Key = []string{"x", "y", "x", "y"}[i]
		_, err := store.Add(ctx, "reports", mustFields(t, r))
		require.NoError(t, err)
	}
	_, err := store.Add(ctx, "other", mustFields(t, record{Name: "gcr.io/p/a"}))
	require.NoError(t, err)

	names := func(q docstore.Query) []float64 {
		t.Helper()
		docs, err := docstore.All(store.Documents(ctx, q))
		require.NoError(t, err)
		var scores []float64
		for _, d := range docs {
			scores = append(scores, d.Fields["score"].(float64))
		}
		return scores
	}

	byName := docstore.NewQuery("reports").Where("name", "==", "gcr.io/p/a")
	assert.ElementsMatch(t, []float64{5, 9, 7}, names(byName))
	assert.Equal(t, []float64{7, 5, 9}, names(byName.OrderBy("timestamp", docstore.Desc)))
	assert.Equal(t, []float64{9, 5}, names(byName.OrderBy("timestamp", docstore.Asc).Limit(2)))
	assert.Equal(t, []float64{9}, names(byName.Where("flag", "==", true)))
	assert.Equal(t, []float64{5, 7}, names(byName.Where("flag", "!=", true).OrderBy("score", docstore.Asc)))
	assert.Equal(t, []float64{9, 7}, names(byName.Where("score", ">=", 7).OrderBy("score", docstore.Desc)))
	assert.Equal(t, []float64{1}, names(docstore.NewQuery("reports").Where("nested.key", "==", "x").Where("score", "<", 5)))
	assert.Empty(t, names(docstore.NewQuery("reports").Where("missing", "==", "x")))

	_, err = docstore.All(store.Documents(ctx, docstore.NewQuery("reports").Where("name", "~=", "x")))
	assert.True(t, errors.Is(err, docstore.ErrInvalidArgument))
}

func TestFieldsLookup(t *testing.T) {
	f := docstore.Fields{"image": map[string]interface{}{"canonicalName": "gcr.io/p/a"}}
	v, ok := f.Lookup("image.canonicalName")
	assert.True(t, ok)
	assert.Equal(t, "gcr.io/p/a", v)
	_, ok = f.Lookup("image.missing")
	assert.False(t, ok)
	_, ok = f.Lookup("image.canonicalName.deeper")
	assert.False(t, ok)
}

type flakyStore struct {
	docstore.Store
	failures int
	calls    int
}

func (f *flakyStore) Get(ctx context.Context, ref docstore.DocRef) (*docstore.Document, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errdefs.Transient(errdefs.SubsystemDocstore, nil, "unavailable")
	}
	return f.Store.Get(ctx, ref)
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	inner := docstoretest.NewStore(t)
	doc, err := inner.Add(ctx, "scans", docstore.Fields{"name": "a"})
	require.NoError(t, err)

	policy := retry.Policy{Attempts: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	flaky := &flakyStore{Store: inner, failures: 2}
	got, err := docstore.WithRetry(flaky, policy).Get(ctx, doc.Ref)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Fields["name"])
	assert.Equal(t, 3, flaky.calls)

	down := &flakyStore{Store: inner, failures: 100}
	_, err = docstore.WithRetry(down, policy).Get(ctx, doc.Ref)
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUpstream, errdefs.KindOf(err))
	assert.Equal(t, 5, down.calls)

	_, err = docstore.WithRetry(inner, policy).Get(ctx, docstore.DocRef{Collection: "scans", ID: "nope"})
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))
}

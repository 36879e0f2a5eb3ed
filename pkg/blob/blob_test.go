package blob

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/defenseunicorns/uds-vuln-reporter/internal/errdefs"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"gcr.io/p/a_2024-01-01T00:00:00Z", "gcr.io_p_a_2024-01-01T00_00_00Z"},
		{`a\b|c?d*e"f<g>h`, "a_b_c_d_e_f_g_h"},
		{"tab\there new\nline", "tab_here_new_line"},
		{"plain-name.json", "plain-name.json"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Sanitize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "/")
		})
	}
}

func TestFilesystemStore(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	handle, err := store.PutObject(ctx, "scans", "a.json", []byte(`{"ok":true}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "scans", handle.Bucket)
	assert.Equal(t, "a.json", handle.Name)
	assert.Contains(t, handle.URL, "file://")

	data, err := store.GetObject(ctx, "scans", "a.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	_, err = store.PutObject(ctx, "scans", "a.json", []byte(`{"ok":false}`), "application/json")
	require.NoError(t, err)
	data, err = store.GetObject(ctx, "scans", "a.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":false}`, string(data))

	_, err = store.GetObject(ctx, "scans", "missing.json")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindNotFound, errdefs.KindOf(err))

	_, err = store.PutObject(ctx, "scans", "../escape.json", nil, "")
	require.Error(t, err)
	assert.Equal(t, errdefs.KindUser, errdefs.KindOf(err))
	require.NoError(t, store.Close())
}

func TestLinks(t *testing.T) {
	assert.Equal(t, "https://storage.googleapis.com/reports/r%201.pdf", PublicURL("reports", "r 1.pdf"))
	assert.Equal(t, "https://www.googleapis.com/storage/v1/b/reports/o/r.pdf", SelfLink("reports", "r.pdf"))
}

func TestClassifyGCSError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errdefs.Kind
	}{
		{"missing object", storage.ErrObjectNotExist, errdefs.KindNotFound},
		{"server error", &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "backend"}, errdefs.KindTransient},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, errdefs.KindTransient},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden, Message: "denied"}, errdefs.KindInternal},
		{"connection reset", errors.New("connection reset by peer"), errdefs.KindTransient},
		{"cancelled", context.Canceled, errdefs.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyGCSError(tt.err, "b", "n")
			assert.Equal(t, tt.want, errdefs.KindOf(err))
			assert.Contains(t, err.Error(), "Storage error")
		})
	}
}

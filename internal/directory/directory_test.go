package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `[
	{"CODIGO_ZK_ATRIBUTO": "00123", "DNI": "12345678z", "NOMBRE": "Luis Pérez", "COD_CT": 7, "LAST_SEEN": "2024-05-01T08:00:00"},
	{"CODIGO_ZK_ATRIBUTO": "A9", "DNI": "", "NOMBRE": "Eva", "COD_CT": "3", "LAST_SEEN": null},
	{"CODIGO_ZK_ATRIBUTO": "", "DNI": "X1", "NOMBRE": "Sin código"}
]`

func newServer(t *testing.T, status *atomic.Int32, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if s := status.Load(); s != 0 {
			w.WriteHeader(int(s))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRecordsCachesForTTL(t *testing.T) {
	var status, hits atomic.Int32
	srv := newServer(t, &status, &hits)

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := NewClient(srv.URL, time.Hour, time.Second)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	recs, err := c.Records(ctx, false)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "7", recs[0].CenterID)

	_, err = c.Records(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Hour)
	_, err = c.Records(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.Records(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRecordsServesStaleOnError(t *testing.T) {
	var status, hits atomic.Int32
	srv := newServer(t, &status, &hits)
	c := NewClient(srv.URL, time.Hour, time.Second)
	ctx := context.Background()

	_, err := c.Records(ctx, false)
	require.NoError(t, err)

	status.Store(http.StatusBadGateway)
	recs, err := c.Records(ctx, true)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestRecordsErrorWithoutCache(t *testing.T) {
	var status, hits atomic.Int32
	status.Store(http.StatusInternalServerError)
	srv := newServer(t, &status, &hits)

	_, err := NewClient(srv.URL, 0, 0).Records(context.Background(), false)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Status)

	_, err = NewClient("", 0, 0).Records(context.Background(), false)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestIndexes(t *testing.T) {
	recs := []Record{
		{Code: "00123", DNI: "12345678z", Name: "Luis"},
		{Code: "123", Name: "Otro"},
		{Code: "a9", Name: "Eva"},
	}

	byCode := ByCode(recs)
	d, ok := byCode.Lookup("00123")
	require.True(t, ok)
	assert.Equal(t, "Luis", d.Name)

	d, ok = byCode.Lookup("123")
	require.True(t, ok)
	assert.Equal(t, "Otro", d.Name, "exact code wins over a trimmed variant")

	d, ok = byCode.Lookup("A9")
	require.True(t, ok)
	assert.Equal(t, "Eva", d.Name)

	d, ok = byCode.Lookup("0a9")
	require.True(t, ok)
	assert.Equal(t, "Eva", d.Name)

	_, ok = byCode.Lookup("  ")
	assert.False(t, ok)

	byDNI := ByDNI(recs)
	d, ok = byDNI.Lookup("12345678Z")
	require.True(t, ok)
	assert.Equal(t, "Luis", d.Name)
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want string
	}{
		{"", "N/A"},
		{"garbage", "N/A"},
		{"2024-05-10T11:59:30Z", "just now"},
		{"2024-05-10T11:00:00", "1 hour ago"},
		{"2024-05-10T08:00:00+00:00", "4 hours ago"},
		{"2024-05-03", "1 week ago"},
		{"2024-05-10T12:05:00Z", "in 5 minutes"},
		{"2023-05-01", "1 year ago"},
		{"2024-03-01T12:00:00.123456", "2 months ago"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, RelativeTime(tc.in, now, "N/A"), tc.in)
	}
}

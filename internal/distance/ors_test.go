package distance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeORS answers matrix requests with |source - destination| km, except
// that pairs with a negative longitude sum report no route.
func fakeORS(t *testing.T, failFirst int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/v2/matrix/driving-car", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		if int(n) <= failFirst {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}

		var req matrixRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		assert.Equal(t, []string{"distance"}, req.Metrics)
		assert.Equal(t, "km", req.Units)

		out := matrixResponse{Distances: make([][]*float64, len(req.Sources))}
		for a, s := range req.Sources {
			out.Distances[a] = make([]*float64, len(req.Destinations))
			for b, d := range req.Destinations {
				src, dst := req.Locations[s], req.Locations[d]
				if src[0]+dst[0] < 0 {
					continue
				}
				km := src[1] - dst[1]
				if km < 0 {
					km = -km
				}
				out.Distances[a][b] = &km
			}
		}
		json.NewEncoder(w).Encode(out)
	}))
}

func testProvider(url string) *ORSProvider {
	p := NewORSProvider(url, "secret")
	p.Limiter = rate.NewLimiter(rate.Inf, 1)
	p.Backoff = time.Millisecond
	return p
}

func line(n int) []Point {
	pts := make([]Point, n)
	for k := range pts {
		pts[k] = Point{Lat: float64(k), Lon: 1}
	}
	return pts
}

func TestORSMatrixChunks(t *testing.T) {
	var calls atomic.Int32
	srv := fakeORS(t, 0, &calls)
	defer srv.Close()

	p := testProvider(srv.URL)
	pts := line(23)
	rows, err := p.Matrix(context.Background(), pts, pts)
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load(), "23 origins in chunks of 10")
	require.Len(t, rows, 23)
	assert.Equal(t, 0.0, rows[5][5])
	assert.Equal(t, 17.0, rows[22][5])
	assert.Equal(t, 12.0, rows[0][12])
}

func TestORSMatrixNullIsNoRoute(t *testing.T) {
	var calls atomic.Int32
	srv := fakeORS(t, 0, &calls)
	defer srv.Close()

	island := Point{Lat: 3, Lon: -5}
	rows, err := testProvider(srv.URL).Matrix(context.Background(), []Point{{Lat: 0, Lon: 1}}, []Point{{Lat: 1, Lon: 1}, island})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, NoRoute}}, rows)

	m, err := BuildMatrix(context.Background(), testProvider(srv.URL), []Point{{Lat: 0, Lon: 1}}, []Point{island})
	require.NoError(t, err)
	assert.Error(t, m.Validate(1, 1), "no route must be rejected by the model")
}

func TestORSRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := fakeORS(t, 2, &calls)
	defer srv.Close()

	rows, err := testProvider(srv.URL).Matrix(context.Background(), line(2), line(2))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, [][]float64{{0, 1}, {1, 0}}, rows)
}

func TestORSGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := fakeORS(t, 10, &calls)
	defer srv.Close()

	p := testProvider(srv.URL)
	p.MaxAttempts = 3
	_, err := p.Matrix(context.Background(), line(1), line(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, int32(3), calls.Load())
}

func TestORSNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testProvider(srv.URL).Matrix(context.Background(), line(1), line(1))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestORSRowCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"distances":[[1]]}`))
	}))
	defer srv.Close()

	_, err := testProvider(srv.URL).Matrix(context.Background(), line(2), line(1))
	assert.ErrorContains(t, err, "expected 2 source rows")
}

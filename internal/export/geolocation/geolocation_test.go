package geolocation_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/michr/ops-toolkit/internal/export/geolocation"
	"github.com/michr/ops-toolkit/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nyResponse = `{"ip":"192.168.1.1","city":"NY","region":"NY","country_name":"US","postal":"10001","org":"O"}`

func TestGet(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		status int
		body   string
		apiKey string
		ip     string

		want      geolocation.Record
		wantQuery string
		wantCalls int
		wantLogs  map[slog.Level]uint
	}{
		"Resolved address": {
			status: http.StatusOK, body: nyResponse, ip: "192.168.1.1", apiKey: "secret",
			want:      geolocation.Record{City: "NY", Region: "NY", Country: "US", Postal: "10001", Org: "O"},
			wantQuery: "key=secret",
			wantCalls: 1,
		},
		"Anonymous lookup has no key": {
			status: http.StatusOK, body: nyResponse, ip: "192.168.1.1",
			want:      geolocation.Record{City: "NY", Region: "NY", Country: "US", Postal: "10001", Org: "O"},
			wantCalls: 1,
		},
		"Absent fields are Unknown": {
			status: http.StatusOK, body: `{"city":"Ann Arbor","postal":null}`, ip: "1.1.1.1",
			want:      geolocation.Record{City: "Ann Arbor", Region: "Unknown", Country: "Unknown", Postal: "Unknown", Org: "Unknown"},
			wantCalls: 1,
		},
		"Empty address is not looked up": {
			ip:   "",
			want: geolocation.UnknownRecord(),
		},

		// Error cases
		"Error status is Unknown": {
			status: http.StatusTooManyRequests, body: `{}`, ip: "1.1.1.1",
			want:      geolocation.UnknownRecord(),
			wantCalls: 1,
			wantLogs:  map[slog.Level]uint{slog.LevelWarn: 1},
		},
		"Undecodable body is Unknown": {
			status: http.StatusOK, body: `<html>`, ip: "1.1.1.1",
			want:      geolocation.UnknownRecord(),
			wantCalls: 1,
			wantLogs:  map[slog.Level]uint{slog.LevelWarn: 1},
		},
		"Refused lookup is Unknown": {
			status: http.StatusOK, body: `{"ip":"10.0.0.1","error":true,"reason":"Reserved IP Address"}`, ip: "10.0.0.1",
			want:      geolocation.UnknownRecord(),
			wantCalls: 1,
			wantLogs:  map[slog.Level]uint{slog.LevelWarn: 1},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var mu sync.Mutex
			var calls int
			var gotPath, gotQuery string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				calls++
				gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
				mu.Unlock()
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			l := testutils.NewMockHandler(slog.LevelInfo)
			s := &sleeps{}
			c := geolocation.New(tc.apiKey,
				geolocation.WithBaseURL(srv.URL+"/"),
				geolocation.WithSleep(s.sleep),
				geolocation.WithLogger(l))

			got := c.Get(t.Context(), tc.ip)

			assert.Equal(t, tc.want, got, "Get should return the expected record")
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, tc.wantCalls, calls, "Lookup should be done the expected number of times")
			assert.Equal(t, tc.wantCalls, s.count(), "Every lookup should be followed by the cooldown")
			if tc.wantCalls > 0 {
				assert.Equal(t, "/"+tc.ip+"/json/", gotPath, "Lookup should target the address")
				assert.Equal(t, tc.wantQuery, gotQuery, "Lookup should authenticate with the key only when set")
			}
			if !l.AssertLevels(t, tc.wantLogs) {
				l.OutputLogs(t)
			}
		})
	}
}

func TestGetCachesFailures(t *testing.T) {
	t.Parallel()

	rt := &countingTransport{failFor: map[string]bool{"/10.0.0.1/json/": true}}
	s := &sleeps{}
	c := geolocation.New("",
		geolocation.WithBaseURL("http://geo.invalid"),
		geolocation.WithHTTPClient(&http.Client{Transport: rt}),
		geolocation.WithSleep(s.sleep),
		geolocation.WithLogger(testutils.NewMockHandler(slog.LevelError)))

	first := c.Get(t.Context(), "10.0.0.1")
	second := c.Get(t.Context(), "10.0.0.1")
	other := c.Get(t.Context(), "8.8.8.8")

	require.Equal(t, geolocation.UnknownRecord(), first, "Failed lookup should be Unknown")
	require.Equal(t, first, second, "Cached failure should return the same record")
	require.Equal(t, "Mountain View", other.City, "Other address should be looked up")
	require.Equal(t, map[string]int{"/10.0.0.1/json/": 1, "/8.8.8.8/json/": 1}, rt.calls, "Each address should be looked up once")
	require.Equal(t, []time.Duration{geolocation.DefaultCooldown, geolocation.DefaultCooldown}, s.durations,
		"Cooldown should follow each lookup and no cache hit")
}

func TestGetMany(t *testing.T) {
	t.Parallel()

	rt := &countingTransport{}
	c := geolocation.New("",
		geolocation.WithHTTPClient(&http.Client{Transport: rt}),
		geolocation.WithCooldown(time.Millisecond),
		geolocation.WithSleep(func(context.Context, time.Duration) {}))

	got := c.GetMany(t.Context(), []string{"8.8.8.8", "", "8.8.8.8", "1.1.1.1"})

	require.Len(t, got, 3, "GetMany should return one record per distinct address")
	require.Equal(t, geolocation.UnknownRecord(), got[""], "Empty address should be Unknown")
	require.Equal(t, "Mountain View", got["8.8.8.8"].City)
	require.Equal(t, map[string]int{"/8.8.8.8/json/": 1, "/1.1.1.1/json/": 1}, rt.calls, "Repeated addresses should be looked up once")
}

func TestGetWaitsForTheCooldown(t *testing.T) {
	t.Parallel()

	c := geolocation.New("",
		geolocation.WithHTTPClient(&http.Client{Transport: &countingTransport{}}),
		geolocation.WithCooldown(50*time.Millisecond))

	start := time.Now()
	c.Get(t.Context(), "8.8.8.8")
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "Get should wait for the cooldown")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	c = geolocation.New("",
		geolocation.WithHTTPClient(&http.Client{Transport: &countingTransport{}}),
		geolocation.WithCooldown(time.Hour))
	got := c.Get(ctx, "8.8.8.8")
	require.Equal(t, geolocation.UnknownRecord(), got, "Lookup with a cancelled context should fail and not wait")
}

type sleeps struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, d)
}

func (s *sleeps) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.durations)
}

// countingTransport answers every lookup with the same location, or fails
// at the transport level for the paths in failFor.
type countingTransport struct {
	failFor map[string]bool

	mu    sync.Mutex
	calls map[string]int
}

func (rt *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := r.Context().Err(); err != nil {
		return nil, err
	}

	rt.mu.Lock()
	if rt.calls == nil {
		rt.calls = make(map[string]int)
	}
	rt.calls[r.URL.Path]++
	rt.mu.Unlock()

	if rt.failFor[r.URL.Path] {
		return nil, errors.New("connection reset by peer")
	}
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	_, _ = rec.WriteString(`{"city":"Mountain View","region":"California","country_name":"United States","postal":"94043","org":"GOOGLE"}`)
	return rec.Result(), nil
}

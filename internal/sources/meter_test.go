package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fbecker/gridpoll/internal/ingest"
)

var testWindow = ingest.PollWindow{
	Since: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	Until: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
}

func TestMeterFetchNormalizesMeasurements(t *testing.T) {
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		gotAuth = ok && user == "fb@example.org" && pass == "secret"

		q := r.URL.Query()
		if q.Get("meterId") != "METER1" || q.Get("resolution") != "raw" {
			t.Errorf("unexpected query: %v", q)
		}
		if q.Get("from") == "" || q.Get("to") == "" {
			t.Errorf("missing window parameters: %v", q)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"time": 1704067200000, "values": {"power": 1250, "energy": 987654, "voltage1": 230, "phaseAngle": 12}},
			{"time": 1704067260000, "values": {"power": 1300}}
		]`))
	}))
	defer srv.Close()

	client := NewMeterClient(srv.Client(), "fb@example.org", "secret", "METER1")
	client.baseURL = srv.URL

	readings, err := client.Fetch(context.Background(), testWindow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotAuth {
		t.Error("request did not carry the expected basic auth credentials")
	}

	// phaseAngle is not a tracked metric and must be dropped.
	if len(readings) != 4 {
		t.Fatalf("expected 4 readings, got %d: %v", len(readings), readings)
	}
	first := readings[0]
	if first.Source != ingest.SourceMeter || first.Metric != "energy" || first.Unit != "Wh" {
		t.Errorf("unexpected first reading: %+v", first)
	}
	want := time.UnixMilli(1704067200000).UTC()
	if !first.Timestamp.Equal(want) {
		t.Errorf("timestamp not normalized to UTC ms: got %v want %v", first.Timestamp, want)
	}
	last := readings[3]
	if last.Metric != "power" || last.Value != 1300 {
		t.Errorf("unexpected last reading: %+v", last)
	}
}

func TestMeterFetchErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		check   func(t *testing.T, err error)
	}{{
		name:   "unauthorized",
		status: http.StatusUnauthorized,
		check: func(t *testing.T, err error) {
			var authErr *ingest.AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected AuthError, got %T: %v", err, err)
			}
		},
	}, {
		name:    "rate limited with hint",
		status:  http.StatusTooManyRequests,
		headers: map[string]string{"Retry-After": "7"},
		check: func(t *testing.T, err error) {
			var rl *ingest.RateLimitError
			if !errors.As(err, &rl) {
				t.Fatalf("expected RateLimitError, got %T: %v", err, err)
			}
			if rl.RetryAfter != 7*time.Second {
				t.Errorf("expected 7s retry-after hint, got %v", rl.RetryAfter)
			}
		},
	}, {
		name:   "server error",
		status: http.StatusBadGateway,
		check: func(t *testing.T, err error) {
			var te *ingest.TransientError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransientError, got %T: %v", err, err)
			}
		},
	}, {
		name:   "garbage payload",
		status: http.StatusOK,
		body:   `{"not": "a measurement list"`,
		check: func(t *testing.T, err error) {
			var me *ingest.MalformedResponseError
			if !errors.As(err, &me) {
				t.Fatalf("expected MalformedResponseError, got %T: %v", err, err)
			}
		},
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range test.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(test.status)
				if test.body != "" {
					w.Write([]byte(test.body))
				}
			}))
			defer srv.Close()

			client := NewMeterClient(srv.Client(), "fb@example.org", "secret", "METER1")
			client.baseURL = srv.URL

			_, err := client.Fetch(context.Background(), testWindow)
			if err == nil {
				t.Fatal("expected an error")
			}
			test.check(t, err)
		})
	}
}

func TestMeterFetchWithoutCredentials(t *testing.T) {
	client := NewMeterClient(http.DefaultClient, "", "", "METER1")

	_, err := client.Fetch(context.Background(), testWindow)
	var authErr *ingest.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %T: %v", err, err)
	}
}

func TestMeterFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening any more

	client := NewMeterClient(http.DefaultClient, "fb@example.org", "secret", "METER1")
	client.baseURL = srv.URL

	_, err := client.Fetch(context.Background(), testWindow)
	var te *ingest.TransientError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransientError, got %T: %v", err, err)
	}
}

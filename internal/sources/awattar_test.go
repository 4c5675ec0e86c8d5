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

func TestPriceFetchConvertsMarketdata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("start") == "" || q.Get("end") == "" {
			t.Errorf("missing window parameters: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"object": "list",
			"data": [
				{"start_timestamp": 1704067200000, "end_timestamp": 1704070800000, "marketprice": 92.5, "unit": "Eur/MWh"},
				{"start_timestamp": 1704070800000, "end_timestamp": 1704074400000, "marketprice": -5.0, "unit": "Eur/MWh"}
			]
		}`))
	}))
	defer srv.Close()

	client := NewPriceClient(srv.Client())
	client.baseURL = srv.URL

	readings, err := client.Fetch(context.Background(), testWindow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}

	first := readings[0]
	if first.Source != ingest.SourcePrice || first.Metric != "price_per_kwh" || first.Unit != "EUR/kWh" {
		t.Errorf("unexpected reading shape: %+v", first)
	}
	if first.Value != 0.0925 {
		t.Errorf("expected 92.5 EUR/MWh to become 0.0925 EUR/kWh, got %v", first.Value)
	}
	if !first.Timestamp.Equal(time.UnixMilli(1704067200000).UTC()) {
		t.Errorf("expected slot start as timestamp, got %v", first.Timestamp)
	}

	// Negative prices happen on the day-ahead market and must pass through.
	if readings[1].Value != -0.005 {
		t.Errorf("expected -0.005, got %v", readings[1].Value)
	}
}

func TestPriceFetchMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	client := NewPriceClient(srv.Client())
	client.baseURL = srv.URL

	_, err := client.Fetch(context.Background(), testWindow)
	var me *ingest.MalformedResponseError
	if !errors.As(err, &me) {
		t.Fatalf("expected MalformedResponseError, got %T: %v", err, err)
	}
}

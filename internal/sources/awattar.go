package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fbecker/gridpoll/internal/ingest"
)

// PriceClient implements ingest.Source against the aWATTar day-ahead market
// data API. No authentication is required.
type PriceClient struct {
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

// NewPriceClient returns a power-price client.
func NewPriceClient(client *http.Client) *PriceClient {
	return &PriceClient{
		baseURL: "https://api.awattar.de/v1",
		client:  client,
		circuit: newBreaker("power-price"),
	}
}

func (c *PriceClient) ID() ingest.SourceID {
	return ingest.SourcePrice
}

func (c *PriceClient) Fetch(ctx context.Context, w ingest.PollWindow) ([]ingest.Reading, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("start", fmt.Sprintf("%d", msTimestamp(w.Since)))
		values.Set("end", fmt.Sprintf("%d", msTimestamp(w.Until)))

		u := fmt.Sprintf("%s/marketdata?%s", c.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequest(ctx, c.client, c.circuit, c.ID(), buildRequest)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data []struct {
			StartTimestamp int64   `json:"start_timestamp"`
			EndTimestamp   int64   `json:"end_timestamp"`
			Marketprice    float64 `json:"marketprice"` // EUR/MWh
			Unit           string  `json:"unit"`
		} `json:"data"`
	}
	if err := decodeJSON(c.ID(), resp, &payload); err != nil {
		return nil, err
	}

	readings := make([]ingest.Reading, 0, len(payload.Data))
	for _, slot := range payload.Data {
		if slot.StartTimestamp == 0 {
			continue
		}
		readings = append(readings, ingest.Reading{
			Source:    c.ID(),
			Timestamp: time.UnixMilli(slot.StartTimestamp).UTC(),
			Metric:    "price_per_kwh",
			Value:     slot.Marketprice / 1000,
			Unit:      "EUR/kWh",
		})
	}
	return readings, nil
}

package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/fbecker/gridpoll/internal/ingest"
	"github.com/fbecker/gridpoll/internal/store"
)

var validate = validator.New()

// RegisterRoutes wires the read-only query handlers into the Fiber app.
// This is the surface a future automation engine polls; there is no push
// mechanism.
func RegisterRoutes(app *fiber.App, st store.Interface) {
	v1 := app.Group("/api/v1")

	v1.Get("/readings", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		readings, err := st.QueryRange(c.Context(), req.source(), req.Metric, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no readings for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query readings")
		}

		return c.JSON(fiber.Map{
			"source":   req.Source,
			"metric":   req.Metric,
			"from":     req.From,
			"to":       req.To,
			"readings": readings,
		})
	})

	v1.Get("/readings/latest", func(c *fiber.Ctx) error {
		src := ingest.SourceID(c.Query("source"))
		if !ingest.KnownSource(src) {
			return fiber.NewError(fiber.StatusBadRequest, "unknown or missing source")
		}

		reading, err := st.Latest(c.Context(), src)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no readings for requested source")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query readings")
		}

		return c.JSON(reading)
	})
}

// rangeQuery holds query parameters for the range endpoint. Metric is
// optional; an empty metric returns every metric of the source.
type rangeQuery struct {
	Source string `validate:"required"`
	Metric string
	From   time.Time `validate:"required"`
	To     time.Time `validate:"required,gtfield=From"`
}

func (q rangeQuery) source() ingest.SourceID {
	return ingest.SourceID(q.Source)
}

func (q *rangeQuery) bind(c *fiber.Ctx) error {
	q.Source = c.Query("source")
	q.Metric = c.Query("metric")

	if !ingest.KnownSource(ingest.SourceID(q.Source)) {
		return errors.New("unknown or missing source")
	}

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	q.From = from
	q.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}

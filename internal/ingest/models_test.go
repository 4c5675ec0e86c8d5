package ingest_test

import (
	"os"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/fbecker/gridpoll/internal/ingest"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestPollWindowContains(t *testing.T) {
	c := qt.New(t)

	w := ingest.PollWindow{Since: T(0), Until: T(60)}
	c.Assert(w.Valid(), qt.IsTrue)
	c.Assert(w.Contains(T(0)), qt.IsTrue)
	c.Assert(w.Contains(T(59)), qt.IsTrue)
	c.Assert(w.Contains(T(60)), qt.IsFalse) // until is exclusive
	c.Assert(w.Contains(T(-1)), qt.IsFalse)

	c.Assert(ingest.PollWindow{Since: T(60), Until: T(60)}.Valid(), qt.IsFalse)
	c.Assert(ingest.PollWindow{Since: T(61), Until: T(60)}.Valid(), qt.IsFalse)
}

func TestReadingValidate(t *testing.T) {
	c := qt.New(t)

	ok := reading(ingest.SourceMeter, "power", T(1), 42)
	c.Assert(ok.Validate(), qt.IsNil)

	bad := ok
	bad.Metric = ""
	c.Assert(bad.Validate(), qt.ErrorMatches, ".*empty metric.*")

	bad = ok
	bad.Source = "fridge"
	c.Assert(bad.Validate(), qt.ErrorMatches, `unknown source "fridge"`)

	var zero ingest.Reading
	zero.Source = ingest.SourceWeather
	zero.Metric = "temperature"
	c.Assert(zero.Validate(), qt.ErrorMatches, ".*zero timestamp.*")
}

func TestReadingKeyIsStablePerInstant(t *testing.T) {
	c := qt.New(t)

	a := reading(ingest.SourcePrice, "price_per_kwh", T(10), 0.30)
	b := a
	b.Value = 0.31 // value is not part of the key
	c.Assert(a.Key(), qt.Equals, b.Key())

	other := a
	other.Timestamp = T(11)
	c.Assert(a.Key() == other.Key(), qt.IsFalse)
}

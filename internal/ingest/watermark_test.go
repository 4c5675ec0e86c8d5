package ingest_test

import (
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/fbecker/gridpoll/internal/ingest"
)

func TestWatermarksRoundTrip(t *testing.T) {
	c := qt.New(t)

	path := filepath.Join(t.TempDir(), "watermarks.json")
	marks, err := ingest.OpenWatermarks(path)
	c.Assert(err, qt.IsNil)

	_, ok := marks.Get(ingest.SourceMeter)
	c.Assert(ok, qt.IsFalse)

	c.Assert(marks.Set(ingest.SourceMeter, T(60)), qt.IsNil)
	c.Assert(marks.Set(ingest.SourcePrice, T(30)), qt.IsNil)

	// A fresh open sees what was persisted.
	reloaded, err := ingest.OpenWatermarks(path)
	c.Assert(err, qt.IsNil)

	mark, ok := reloaded.Get(ingest.SourceMeter)
	c.Assert(ok, qt.IsTrue)
	c.Assert(mark.Equal(T(60)), qt.IsTrue)
	mark, ok = reloaded.Get(ingest.SourcePrice)
	c.Assert(ok, qt.IsTrue)
	c.Assert(mark.Equal(T(30)), qt.IsTrue)
}

func TestWatermarksNeverMoveBackward(t *testing.T) {
	c := qt.New(t)

	marks, err := ingest.OpenWatermarks(filepath.Join(t.TempDir(), "watermarks.json"))
	c.Assert(err, qt.IsNil)

	c.Assert(marks.Set(ingest.SourceMeter, T(60)), qt.IsNil)
	c.Assert(marks.Set(ingest.SourceMeter, T(30)), qt.ErrorMatches, `watermark for meter would move backward .*`)

	mark, _ := marks.Get(ingest.SourceMeter)
	c.Assert(mark.Equal(T(60)), qt.IsTrue)

	// Re-setting the same value is allowed.
	c.Assert(marks.Set(ingest.SourceMeter, T(60)), qt.IsNil)
}

func TestOpenWatermarksRejectsCorruptFile(t *testing.T) {
	c := qt.New(t)

	path := filepath.Join(t.TempDir(), "watermarks.json")
	c.Assert(writeFile(path, "{not json"), qt.IsNil)

	_, err := ingest.OpenWatermarks(path)
	c.Assert(err, qt.ErrorMatches, `cannot parse watermark file .*`)
}

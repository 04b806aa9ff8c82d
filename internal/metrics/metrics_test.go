package metrics

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(ts int64, cpu, fps float64) *Snapshot {
	return &Snapshot{
		Timestamp: ts,
		CPU:       &CPU{Usage: cpu, Timestamp: ts},
		FPS:       &FPS{Value: fps, Timestamp: ts},
	}
}

func TestDecodeSnapshotPartial(t *testing.T) {
	raw := []byte(`{
		"fps": {"value": 58, "timestamp": 1700000000000},
		"memory": {"usedJSHeapSize": 12.5, "totalJSHeapSize": 20, "timestamp": 1700000000500},
		"eventLoopLag": {"value": 4},
		"paintTiming": {"firstPaint": 100, "firstContentfulPaint": 180},
		"somethingNew": {"x": 1}
	}`)

	s, err := DecodeSnapshot(raw, time.Unix(0, 0))
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000500), s.Timestamp)
	assert.Equal(t, 58.0, s.FPSOrZero().Value)
	assert.Equal(t, 4.0, s.EventLoopLag.Lag)
	assert.Equal(t, 180.0, s.PaintTiming.FCP)
	assert.Nil(t, s.CPU)
	assert.Equal(t, CPU{}, s.CPUOrZero())
	assert.Equal(t, []string{"fps", "memory", "eventLoopLag", "paintTiming"}, s.Sections())
}

func TestDecodeSnapshotSkipsMalformedSection(t *testing.T) {
	raw := []byte(`{
		"timestamp": 2000,
		"fps": {"value": 60},
		"cpu": {"usage": "12.5"},
		"apiPerformance": {"not": "a list"},
		"dom": null
	}`)

	s, err := DecodeSnapshot(raw, time.Unix(0, 0))
	require.NoError(t, err)

	assert.Equal(t, int64(2000), s.Timestamp)
	assert.Equal(t, 60.0, s.FPSOrZero().Value)
	assert.Nil(t, s.CPU)
	assert.Nil(t, s.APIPerformance)
	assert.Nil(t, s.DOM)
	assert.Equal(t, []string{"fps"}, s.Sections())
}

func TestDecodeSnapshotDefaultsTimestamp(t *testing.T) {
	now := time.UnixMilli(1234)
	s, err := DecodeSnapshot([]byte(`{"cpu":{"usage":3}}`), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), s.Timestamp)
}

func TestDecodeSnapshotErrors(t *testing.T) {
	_, err := DecodeSnapshot(nil, time.Now())
	assert.Error(t, err)
	_, err = DecodeSnapshot([]byte(`{"fps":`), time.Now())
	assert.Error(t, err)
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(3)
	for i := int64(1); i <= 5; i++ {
		h.Add(snap(i*1000, float64(i), 60))
	}

	require.Equal(t, 3, h.Len())
	assert.Equal(t, int64(5000), h.Latest().Timestamp)

	pts := h.Series(SeriesCPU)
	require.Len(t, pts, 3)
	assert.Equal(t, 3.0, pts[0].Value)
	assert.Equal(t, 5.0, pts[2].Value)
	assert.Equal(t, 4.0, h.Average(SeriesCPU))
}

func TestHistoryDefaultBound(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultMaxPoints+10; i++ {
		h.Add(snap(int64(i), 1, 1))
	}
	assert.Equal(t, DefaultMaxPoints, h.Len())
}

func TestHistorySeriesSkipsMissingSections(t *testing.T) {
	h := NewHistory(10)
	h.Add(snap(1000, 10, 60))
	h.Add(&Snapshot{Timestamp: 2000, Memory: &Memory{UsedJSHeapSize: 5}})
	h.Add(snap(3000, 30, 50))

	assert.Len(t, h.Series(SeriesCPU), 2)
	assert.Len(t, h.Series(SeriesMemory), 1)
	assert.Nil(t, h.Series("bogus"))
	assert.Equal(t, 0.0, h.Average(SeriesEventLoopLag))
}

func TestHistoryWindow(t *testing.T) {
	h := NewHistory(10)
	for _, ts := range []int64{0, 30_000, 50_000, 90_000} {
		h.Add(snap(ts, float64(ts), 60))
	}
	pts := h.Window(SeriesCPU, time.Minute)
	require.Len(t, pts, 3)
	assert.Equal(t, 30_000.0, pts[0].Value)
}

func TestHistoryReset(t *testing.T) {
	h := NewHistory(10)
	h.Add(snap(1, 1, 1))
	h.Reset()
	assert.Zero(t, h.Len())
	assert.Nil(t, h.Latest())
}

func TestWriteCSV(t *testing.T) {
	full := &Snapshot{
		Timestamp:      0,
		FPS:            &FPS{Value: 60},
		Memory:         &Memory{UsedJSHeapSize: 10, TotalJSHeapSize: 20},
		Network:        &Network{Requests: 4, Transferred: 2048},
		APIPerformance: []APICall{{Duration: 10}, {Duration: 30}},
		PageErrors: &PageErrors{Count: 2, RecentErrors: []PageError{
			{Type: "TypeError", Message: "x"}, {Type: "SyntaxError", Message: "y"},
		}},
		CacheUsage: &CacheUsage{Hits: 3, Misses: 1},
		WebSocket: &WebSocket{Connections: []WebSocketConnection{
			{Messages: 2, Bytes: 1024}, {Messages: 3, Bytes: 1024},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []*Snapshot{full, {Timestamp: 1000}}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Len(t, records[0], 40)
	assert.Equal(t, CSVHeader, records[0])

	row := records[1]
	require.Len(t, row, 40)
	assert.Equal(t, "1970-01-01T00:00:00Z", row[0])
	assert.Equal(t, "60", row[1])
	assert.Equal(t, "10.00", row[2])
	assert.Equal(t, "2.00", row[5])
	assert.Equal(t, "2", row[15])
	assert.Equal(t, "20.00", row[16])
	assert.Equal(t, "TypeError;SyntaxError", row[18])
	assert.Equal(t, "75.00", row[22])
	assert.Equal(t, "2", row[29])
	assert.Equal(t, "5", row[30])
	assert.Equal(t, "2.00", row[31])

	empty := records[2]
	assert.Equal(t, "0", empty[1])
	assert.Equal(t, "", empty[18])
	assert.Equal(t, "0.00", empty[22])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, WriteJSON(&buf, 7, []*Snapshot{snap(1000, 1, 2)}, now))

	var doc Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 7, doc.TabID)
	assert.Equal(t, 1, doc.Count)
	assert.True(t, now.Equal(doc.ExportedAt))
	require.Len(t, doc.Snapshots, 1)
	assert.Equal(t, 2.0, doc.Snapshots[0].FPS.Value)
}

func TestFormatErrors(t *testing.T) {
	got := FormatErrors([]PageError{{Type: "A", Message: "m1"}, {Type: "B", Message: "m2"}})
	assert.Equal(t, "A: m1 | B: m2", got)
}

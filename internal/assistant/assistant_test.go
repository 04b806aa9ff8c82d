package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/perfdash/internal/metrics"
)

type stubFallback struct {
	answer string
	err    error
	calls  int
}

func (s *stubFallback) Answer(_ context.Context, _ string, _ *metrics.Snapshot) (string, error) {
	s.calls++
	return s.answer, s.err
}

func fullHistory() *metrics.History {
	h := metrics.NewHistory(10)
	for i, usage := range []float64{10, 20, 30} {
		h.Add(&metrics.Snapshot{
			Timestamp:  int64(i+1) * 1000,
			CPU:        &metrics.CPU{Usage: usage},
			FPS:        &metrics.FPS{Value: 60},
			Memory:     &metrics.Memory{UsedJSHeapSize: 12.34, TotalJSHeapSize: 40, JSHeapSizeLimit: 2048},
			Network:    &metrics.Network{Requests: 3, Transferred: 2048},
			DOM:        &metrics.DOM{Elements: 100, Nodes: 150, Listeners: 7},
			Storage:    &metrics.Storage{LocalStorage: 1024},
			CacheUsage: &metrics.CacheUsage{Hits: 1, Misses: 1, TotalEntries: 4},
			PageErrors: &metrics.PageErrors{Count: 1, RecentErrors: []metrics.PageError{{Type: "TypeError", Message: "x is undefined"}}},
			APIPerformance: []metrics.APICall{
				{Method: "GET", URL: "/a", Duration: 10},
				{Method: "POST", URL: "/b", Duration: 30},
			},
		})
	}
	return h
}

func TestAskMatchesPatterns(t *testing.T) {
	a := New(fullHistory(), nil)
	ctx := context.Background()

	tests := []struct {
		question   string
		metricType string
		contains   string
	}{
		{"What's the CPU usage?", "cpu", "Average Usage: 20.0%"},
		{"Show memory consumption", "memory", "12.3 MB used out of 40.0 MB"},
		{"Show JS heap usage", "memory", "MB"},
		{"What's my current FPS?", "fps", "Current FPS: 60.0"},
		{"Show network statistics", "network", "Active Requests: 3"},
		{"How many DOM elements?", "dom", "Total Elements: 100"},
		{"Show storage usage", "storage", "LocalStorage: 1.0 KiB"},
		{"Show cache usage", "cache", "Hit Rate: 50.0%"},
		{"Any page errors?", "pageErrors", "TypeError: x is undefined"},
		{"Show API performance", "apiPerformance", "Slowest: POST /b"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			resp := a.Ask(ctx, tt.question)
			assert.Equal(t, TypeMetrics, resp.Type)
			assert.Equal(t, tt.metricType, resp.MetricType)
			assert.Contains(t, resp.Message, tt.contains)
		})
	}
}

func TestAskFollowUps(t *testing.T) {
	a := New(fullHistory(), nil)
	resp := a.Ask(context.Background(), "cpu")
	assert.Equal(t, followUps["cpu"], resp.FollowUps)

	resp = a.Ask(context.Background(), "dom nodes")
	assert.Empty(t, resp.FollowUps)
}

func TestAskMissingSection(t *testing.T) {
	h := metrics.NewHistory(5)
	h.Add(&metrics.Snapshot{Timestamp: 1, FPS: &metrics.FPS{Value: 30}})
	a := New(h, nil)

	resp := a.Ask(context.Background(), "show web vitals")
	assert.Equal(t, TypeMessage, resp.Type)
	assert.Contains(t, resp.Message, "Web Vitals data is not available")
}

func TestAskWithoutData(t *testing.T) {
	a := New(metrics.NewHistory(5), nil)
	resp := a.Ask(context.Background(), "cpu")
	assert.Equal(t, msgCollecting, resp.Message)
}

func TestAskEmptyQuestion(t *testing.T) {
	a := New(fullHistory(), nil)
	resp := a.Ask(context.Background(), "   ")
	assert.Equal(t, TypeDefault, resp.Type)
	assert.Equal(t, msgDefault, resp.Message)
}

func TestAskNoMatch(t *testing.T) {
	a := New(fullHistory(), nil)
	resp := a.Ask(context.Background(), "tell me a joke")
	assert.Equal(t, msgNoMatch, resp.Message)
}

func TestAskFallback(t *testing.T) {
	fb := &stubFallback{answer: "Looks healthy."}
	a := New(fullHistory(), fb)

	resp := a.Ask(context.Background(), "is my site ok?")
	assert.Equal(t, "Looks healthy.", resp.Message)
	assert.Equal(t, 1, fb.calls)

	// Matched questions never reach the fallback.
	a.Ask(context.Background(), "cpu")
	assert.Equal(t, 1, fb.calls)
}

func TestAskFallbackError(t *testing.T) {
	a := New(fullHistory(), &stubFallback{err: errors.New("rate limited")})
	resp := a.Ask(context.Background(), "is my site ok?")
	assert.Equal(t, msgNoMatch, resp.Message)
}

func TestHelp(t *testing.T) {
	resp := New(fullHistory(), nil).Help()
	assert.True(t, resp.IsHelp)
	assert.Len(t, resp.Suggestions, 20)
}

func TestDefaultQuestionsAllMatch(t *testing.T) {
	a := New(fullHistory(), nil)
	for _, q := range DefaultQuestions() {
		matched := false
		for _, p := range a.patterns {
			if p.re.MatchString(strings.ToLower(q)) {
				matched = true
				break
			}
		}
		assert.True(t, matched, q)
	}
}

func TestNewClaudeFallbackRequiresKey(t *testing.T) {
	_, err := NewClaudeFallback(ClaudeConfig{})
	assert.Error(t, err)

	fb, err := NewClaudeFallback(ClaudeConfig{APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", fb.model)
	assert.Equal(t, int64(512), fb.maxTokens)
}

func TestBuildPrompt(t *testing.T) {
	p := buildPrompt("why slow?", &metrics.Snapshot{FPS: &metrics.FPS{Value: 12}})
	assert.Contains(t, p, `"fps":{"value":12`)
	assert.True(t, strings.HasSuffix(p, "Question: why slow?"))
}

package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/config"
)

type fakeClient struct {
	calls    int
	lastReq  anthropic.MessagesRequest
	createFn func(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

func (f *fakeClient) CreateMessages(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error) {
	f.calls++
	f.lastReq = req
	return f.createFn(ctx, req)
}

func textResponse(s string) anthropic.MessagesResponse {
	return anthropic.MessagesResponse{Content: []anthropic.MessageContent{{Type: "text", Text: &s}}}
}

const report = "The suspect entered the warehouse at night. The warehouse alarm did not trigger. " +
	"Several crates of electronics were removed from the warehouse. Weather was mild. " +
	"A neighbour reported a white van near the warehouse loading dock."

func testConfig() config.SummarizerConfig {
	return config.SummarizerConfig{Model: "claude-3-5-haiku-latest", MaxSentences: 2}
}

func TestFrequencySummarizer_Extract(t *testing.T) {
	s := NewFrequencySummarizer()

	out := s.Extract(report, 2)

	assert.Contains(t, out, "warehouse")
	assert.NotContains(t, out, "Weather was mild.")
	assert.LessOrEqual(t, strings.Count(out, "."), 2)
}

func TestFrequencySummarizer_ShortTextReturnedWhole(t *testing.T) {
	s := NewFrequencySummarizer()
	assert.Equal(t, "Single line without punctuation", s.Extract("Single line without punctuation", 3))
	assert.Equal(t, "", s.Extract("   ", 3))
}

func TestSummarizer_WithoutClientIsExtractive(t *testing.T) {
	s := NewWithClient(nil, testConfig(), zap.NewNop())

	res := s.Summarize(context.Background(), report)

	assert.False(t, res.Degraded)
	assert.NotEmpty(t, res.Summary)
}

func TestSummarizer_UsesModel(t *testing.T) {
	client := &fakeClient{createFn: func(context.Context, anthropic.MessagesRequest) (anthropic.MessagesResponse, error) {
		return textResponse("  Electronics were stolen from a warehouse.  "), nil
	}}
	s := NewWithClient(client, testConfig(), zap.NewNop())

	res := s.Summarize(context.Background(), report)

	assert.False(t, res.Degraded)
	assert.Equal(t, "Electronics were stolen from a warehouse.", res.Summary)
	assert.Equal(t, anthropic.Model("claude-3-5-haiku-latest"), client.lastReq.Model)
	assert.Contains(t, client.lastReq.System, "at most 2")
	require.Len(t, client.lastReq.Messages, 1)
	assert.Equal(t, report, *client.lastReq.Messages[0].Content[0].Text)
}

func TestSummarizer_ErrorFallsBack(t *testing.T) {
	client := &fakeClient{createFn: func(context.Context, anthropic.MessagesRequest) (anthropic.MessagesResponse, error) {
		return anthropic.MessagesResponse{}, errors.New("529 overloaded")
	}}
	s := NewWithClient(client, testConfig(), zap.NewNop())

	res := s.Summarize(context.Background(), report)

	assert.True(t, res.Degraded)
	assert.Contains(t, res.Summary, "warehouse")
}

func TestSummarizer_EmptyResponseFallsBack(t *testing.T) {
	client := &fakeClient{createFn: func(context.Context, anthropic.MessagesRequest) (anthropic.MessagesResponse, error) {
		return anthropic.MessagesResponse{}, nil
	}}
	s := NewWithClient(client, testConfig(), zap.NewNop())

	res := s.Summarize(context.Background(), report)
	assert.True(t, res.Degraded)
}

func TestSummarizer_BreakerStopsCalls(t *testing.T) {
	client := &fakeClient{createFn: func(context.Context, anthropic.MessagesRequest) (anthropic.MessagesResponse, error) {
		return anthropic.MessagesResponse{}, errors.New("connection refused")
	}}
	s := NewWithClient(client, testConfig(), zap.NewNop())

	for i := 0; i < 6; i++ {
		s.Summarize(context.Background(), report)
	}
	assert.Equal(t, 3, client.calls)
}

func TestSummarizer_EmptyText(t *testing.T) {
	client := &fakeClient{}
	s := NewWithClient(client, testConfig(), zap.NewNop())

	res := s.Summarize(context.Background(), " \n ")
	assert.Equal(t, Result{}, res)
	assert.Equal(t, 0, client.calls)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "abc", truncateRunes("abc", 10))
}

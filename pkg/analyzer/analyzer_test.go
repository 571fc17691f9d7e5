package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pensieved/pensieve/pkg/capture"
	"github.com/pensieved/pensieve/pkg/store"
)

type fakeProvider struct {
	lastRequest *Request
	response    string
	err         error
}

func (p *fakeProvider) Provider() string { return "fake" }

func (p *fakeProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	p.lastRequest = &req
	if p.err != nil {
		return nil, p.err
	}
	return &Response{Content: p.response, Usage: &TokenUsage{InputTokens: 10, OutputTokens: 5}}, nil
}

func writeCapture(t *testing.T, dir, name string) capture.RawCapture {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("pixels"), 0644))

	return capture.RawCapture{
		ObjectID:    name,
		ContentPath: path,
		CapturedAt:  time.Now(),
	}
}

func TestAnalyze(t *testing.T) {
	dir := t.TempDir()
	batch := []capture.RawCapture{
		writeCapture(t, dir, "one.png"),
		writeCapture(t, dir, "two.jpg"),
	}

	provider := &fakeProvider{response: validResponse}
	a := New(Config{Provider: provider, Model: "test-model", Logger: zerolog.Nop()})

	items, err := a.Analyze(context.Background(), batch, nil)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	req := provider.lastRequest
	require.NotNil(t, req)
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Images, 2)
	assert.Equal(t, 1, req.Images[0].Index)
	assert.Equal(t, "image/png", req.Images[0].MediaType)
	assert.Equal(t, "image/jpeg", req.Images[1].MediaType)
	assert.Contains(t, req.UserPrompt, "2 screenshots")
	assert.Contains(t, req.UserPrompt, "Every item must use decision NEW")
}

func TestAnalyzeIncludesOpenDigest(t *testing.T) {
	dir := t.TempDir()
	batch := []capture.RawCapture{writeCapture(t, dir, "one.png")}

	open := []*store.Record{{
		ID:       "rec-42",
		Title:    "Reading docs",
		Summary:  "Browsing library documentation.",
		Keywords: []string{"docs"},
	}}

	provider := &fakeProvider{response: validResponse}
	a := New(Config{Provider: provider, Logger: zerolog.Nop()})

	_, err := a.Analyze(context.Background(), batch, open)
	require.NoError(t, err)

	assert.Contains(t, provider.lastRequest.UserPrompt, "rec-42")
	assert.Contains(t, provider.lastRequest.UserPrompt, "Reading docs")
	assert.NotContains(t, provider.lastRequest.UserPrompt, "Every item must use decision NEW")
}

func TestAnalyzeProviderFailure(t *testing.T) {
	dir := t.TempDir()
	batch := []capture.RawCapture{writeCapture(t, dir, "one.png")}

	provider := &fakeProvider{err: errors.New("rate limited")}
	a := New(Config{Provider: provider, Logger: zerolog.Nop()})

	_, err := a.Analyze(context.Background(), batch, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchResponse)
}

func TestAnalyzeEmptyResponse(t *testing.T) {
	dir := t.TempDir()
	batch := []capture.RawCapture{writeCapture(t, dir, "one.png")}

	provider := &fakeProvider{response: "   "}
	a := New(Config{Provider: provider, Logger: zerolog.Nop()})

	_, err := a.Analyze(context.Background(), batch, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchResponse)
}

func TestAnalyzeUnreadableCaptureExcluded(t *testing.T) {
	dir := t.TempDir()
	batch := []capture.RawCapture{
		{ObjectID: "gone", ContentPath: filepath.Join(dir, "missing.png")},
		writeCapture(t, dir, "two.png"),
	}

	provider := &fakeProvider{response: validResponse}
	a := New(Config{Provider: provider, Logger: zerolog.Nop()})

	// The vanished capture is dropped; the batch proceeds and the
	// surviving image keeps its original screen id.
	_, err := a.Analyze(context.Background(), batch, nil)
	require.NoError(t, err)

	req := provider.lastRequest
	require.NotNil(t, req)
	require.Len(t, req.Images, 1)
	assert.Equal(t, 2, req.Images[0].Index)
}

func TestAnalyzeNothingReadable(t *testing.T) {
	batch := []capture.RawCapture{{
		ObjectID:    "gone",
		ContentPath: filepath.Join(t.TempDir(), "missing.png"),
	}}

	provider := &fakeProvider{response: validResponse}
	a := New(Config{Provider: provider, Logger: zerolog.Nop()})

	_, err := a.Analyze(context.Background(), batch, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchResponse)
	assert.Nil(t, provider.lastRequest)
}

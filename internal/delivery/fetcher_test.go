package delivery

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloader struct {
	body string
	err  error
	urls []string
}

func (d *fakeDownloader) Download(_ context.Context, url string) (io.ReadCloser, error) {
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	return io.NopCloser(strings.NewReader(d.body)), nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("stream reset") }

type brokenBodyDownloader struct{}

func (brokenBodyDownloader) Download(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(failingReader{}), nil
}

// TestFetchAndDeliverWritesResultsZip checks the primary path.
func TestFetchAndDeliverWritesResultsZip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	src := &fakeDownloader{body: "PK\x03\x04bundle"}
	opened := 0
	f := NewFetcherForTests(src, dir, func(string) error { opened++; return nil })

	d, err := f.FetchAndDeliver(context.Background(), "http://svc/download/j1")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, ResultsFileName), d.Path)
	assert.False(t, d.Fallback)
	data, err := os.ReadFile(d.Path)
	require.NoError(t, err)
	assert.Equal(t, "PK\x03\x04bundle", string(data))
	assert.Zero(t, opened)
	assert.Equal(t, []string{"http://svc/download/j1"}, src.urls)
}

// TestFetchAndDeliverFallsBackToBrowser checks the degraded path.
func TestFetchAndDeliverFallsBackToBrowser(t *testing.T) {
	cause := errors.New("connection refused")
	var openedURL string
	f := NewFetcherForTests(&fakeDownloader{err: cause}, t.TempDir(), func(u string) error {
		openedURL = u
		return nil
	})

	d, err := f.FetchAndDeliver(context.Background(), "http://svc/download/j1")

	var dErr *DeliveryError
	require.ErrorAs(t, err, &dErr)
	assert.ErrorIs(t, err, cause)
	assert.True(t, d.Fallback)
	assert.Equal(t, "http://svc/download/j1", d.FallbackURL)
	assert.Equal(t, "http://svc/download/j1", openedURL)
	assert.Empty(t, d.FallbackErr)
}

// TestFetchAndDeliverRecordsFallbackFailure checks browser errors are kept.
func TestFetchAndDeliverRecordsFallbackFailure(t *testing.T) {
	f := NewFetcherForTests(&fakeDownloader{err: errors.New("404")}, t.TempDir(), func(string) error {
		return errors.New("no browser available")
	})

	d, err := f.FetchAndDeliver(context.Background(), "http://svc/download/j1")
	require.Error(t, err)
	assert.True(t, d.Fallback)
	assert.Equal(t, "no browser available", d.FallbackErr)
}

// TestSaveLeavesNoPartialFile checks an interrupted body is discarded.
func TestSaveLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcherForTests(brokenBodyDownloader{}, dir, func(string) error { return nil })

	_, err := f.Save(context.Background(), "http://svc/download/j1", "results.zip")
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

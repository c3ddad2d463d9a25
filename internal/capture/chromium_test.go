package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultURL(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8080": "http://127.0.0.1:8080/calendar",
		"0.0.0.0:9000":   "http://127.0.0.1:9000/calendar",
		":8080":          "http://127.0.0.1:8080/calendar",
		"[::]:8080":      "http://127.0.0.1:8080/calendar",
		"[::1]:8080":     "http://[::1]:8080/calendar",
		"calendar.lan":   "http://calendar.lan/calendar",
	}
	for listen, want := range tests {
		assert.Equal(t, want, DefaultURL(listen), listen)
	}
}

func TestCalendarPNGValidatesOptions(t *testing.T) {
	err := CalendarPNG(context.Background(), Options{OutputPath: "x.png"})
	assert.ErrorContains(t, err, "URL is required")

	err = CalendarPNG(context.Background(), Options{URL: "http://127.0.0.1/calendar"})
	assert.ErrorContains(t, err, "OutputPath is required")
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preview.png")

	require.NoError(t, writeFileAtomic(path, []byte("one")))
	require.NoError(t, writeFileAtomic(path, []byte("two")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

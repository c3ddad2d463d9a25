package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "pcal/internal/log"
)

// Default capture parameters. They match the layout of the /calendar page.
const (
	DefaultWidth   = 800
	DefaultHeight  = 480
	DefaultTimeout = 30 * time.Second
)

// readySelector is set by the /calendar page once the month grid is rendered.
const readySelector = `[data-ready="true"]`

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/calendar".
	URL string

	// OutputPath is where the PNG screenshot will be written.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero,
	// DefaultWidth / DefaultHeight are used.
	Width  int
	Height int

	// Username/Password are sent as HTTP basic auth when both are set.
	Username string
	Password string

	// ExecPath overrides the Chromium binary chromedp looks up.
	ExecPath string

	// Timeout bounds the entire capture operation.
	Timeout time.Duration
}

// Capturer takes a screenshot of the month page. The refresh job depends on
// this instead of chromedp directly.
type Capturer interface {
	Capture(ctx context.Context, opts Options) error
}

// Chromium is the chromedp-backed Capturer.
type Chromium struct{}

func (Chromium) Capture(ctx context.Context, opts Options) error {
	return CalendarPNG(ctx, opts)
}

// CalendarPNG launches a headless Chromium via chromedp, navigates to
// opts.URL, waits for `[data-ready="true"]` and writes a full-page PNG to
// opts.OutputPath. The file is replaced atomically so /preview.png never
// serves a partial image.
func CalendarPNG(parentCtx context.Context, opts Options) error {
	if opts.URL == "" {
		return errors.New("capture: URL is required")
	}
	if opts.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	allocCtx := parentCtx
	if opts.ExecPath != "" {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.ExecPath(opts.ExecPath))
		var allocCancel context.CancelFunc
		allocCtx, allocCancel = chromedp.NewExecAllocator(parentCtx, allocOpts...)
		defer allocCancel()
	}

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if opts.Username != "" && opts.Password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		tasks = append(tasks,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Authorization": "Basic " + token}),
		)
	}
	tasks = append(tasks,
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(readySelector, chromedp.ByQuery),
		// Small extra delay to allow final paints.
		chromedp.Sleep(300*time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	)

	start := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	if err := writeFileAtomic(opts.OutputPath, png); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	appLog.Info("calendar captured", "url", opts.URL, "output", opts.OutputPath, "bytes", len(png), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// DefaultURL is the /calendar page served on listen. Wildcard hosts are
// replaced with loopback.
func DefaultURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen + "/calendar"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/calendar"
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pcal-capture-*.png")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Package capture grabs a still of a stream's video element with headless Chrome.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

// DefaultElementWait bounds how long Capture waits for the video element.
const DefaultElementWait = 10 * time.Second

// ErrNoVideo means the page loaded but no video element appeared in time.
var ErrNoVideo = errors.New("capture: no video element")

// CaptureError wraps a browser failure for one page.
type CaptureError struct {
	URL string
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("capture %s: %v", e.URL, e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

// Bounds is the element rectangle in CSS pixels.
type Bounds struct {
	X, Y          float64
	Width, Height int64
}

// Shot is a PNG of the video element.
type Shot struct {
	PNG    []byte
	Bounds Bounds
}

// Options configures a Capturer.
type Options struct {
	// Selector is the element to capture. Defaults to "video".
	Selector    string
	ElementWait time.Duration
	// ExecPath overrides Chrome discovery.
	ExecPath string
}

// Capturer owns one headless browser and opens a fresh tab per capture.
type Capturer struct {
	selector string
	wait     time.Duration

	execPath string

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func New(opts Options) *Capturer {
	c := &Capturer{selector: opts.Selector, wait: opts.ElementWait, execPath: opts.ExecPath}
	if c.selector == "" {
		c.selector = "video"
	}
	if c.wait <= 0 {
		c.wait = DefaultElementWait
	}
	return c
}

// browser returns the shared browser context, starting Chrome on first use
// and again if the previous process went away.
func (c *Capturer) browser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCtx != nil && c.browserCtx.Err() == nil {
		return c.browserCtx, nil
	}
	if c.allocCtx == nil {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(1920, 1080),
			chromedp.Flag("mute-audio", true),
			chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		)
		if c.execPath != "" {
			opts = append(opts, chromedp.ExecPath(c.execPath))
		}
		c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	browserCtx, cancel := chromedp.NewContext(c.allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, err
	}
	slog.Info("headless browser started", slog.String("component", "capture"))
	c.browserCtx, c.browserCancel = browserCtx, cancel
	return browserCtx, nil
}

// Close shuts the browser down.
func (c *Capturer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCancel != nil {
		c.browserCancel()
		c.browserCtx, c.browserCancel = nil, nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCtx, c.allocCancel = nil, nil
	}
}

// Capture loads pageURL and screenshots the video element. It returns
// ErrNoVideo when the element does not become visible within the element wait.
func (c *Capturer) Capture(ctx context.Context, pageURL string) (*Shot, error) {
	browserCtx, err := c.browser()
	if err != nil {
		return nil, &CaptureError{URL: pageURL, Err: err}
	}
	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	// Tie the tab to the caller's deadline.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	if err := chromedp.Run(tabCtx, chromedp.Navigate(pageURL)); err != nil {
		return nil, &CaptureError{URL: pageURL, Err: err}
	}

	waitCtx, cancelWait := context.WithTimeout(tabCtx, c.wait)
	defer cancelWait()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(c.selector, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return nil, &CaptureError{URL: pageURL, Err: ctx.Err()}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Info("no video element on page", slog.String("url", pageURL), slog.String("component", "capture"))
			return nil, ErrNoVideo
		}
		return nil, &CaptureError{URL: pageURL, Err: err}
	}

	var (
		buf []byte
		box *dom.BoxModel
	)
	err = chromedp.Run(tabCtx,
		chromedp.Dimensions(c.selector, &box, chromedp.ByQuery),
		chromedp.Screenshot(c.selector, &buf, chromedp.NodeVisible, chromedp.ByQuery),
	)
	if err != nil {
		return nil, &CaptureError{URL: pageURL, Err: err}
	}
	shot := &Shot{PNG: buf, Bounds: boundsOf(box)}
	slog.Debug("captured video element", slog.String("url", pageURL), slog.Int("bytes", len(buf)),
		slog.Int64("width", shot.Bounds.Width), slog.Int64("height", shot.Bounds.Height))
	return shot, nil
}

func boundsOf(box *dom.BoxModel) Bounds {
	if box == nil {
		return Bounds{}
	}
	b := Bounds{Width: box.Width, Height: box.Height}
	if q := box.Content; len(q) >= 2 {
		b.X, b.Y = q[0], q[1]
	}
	return b
}

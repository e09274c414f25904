package capture

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
)

func TestBoundsOf(t *testing.T) {
	if got := boundsOf(nil); got != (Bounds{}) {
		t.Errorf("nil box = %+v", got)
	}
	box := &dom.BoxModel{Content: dom.Quad{10, 20, 650, 20, 650, 380, 10, 380}, Width: 640, Height: 360}
	want := Bounds{X: 10, Y: 20, Width: 640, Height: 360}
	if got := boundsOf(box); got != want {
		t.Errorf("boundsOf = %+v want %+v", got, want)
	}
}

func TestCaptureErrorUnwrap(t *testing.T) {
	err := &CaptureError{URL: "https://www.twitch.tv/x", Err: context.Canceled}
	if !errors.Is(err, context.Canceled) {
		t.Fatal("CaptureError should unwrap")
	}
}

func chromePath(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary on PATH; skipping browser test")
	return ""
}

func TestCaptureNoVideo(t *testing.T) {
	path := chromePath(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>offline</p></body></html>`))
	}))
	defer srv.Close()

	c := New(Options{ExecPath: path, ElementWait: 500 * time.Millisecond})
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := c.Capture(ctx, srv.URL)
	if !errors.Is(err, ErrNoVideo) {
		t.Fatalf("expected ErrNoVideo, got %v", err)
	}
}

func TestCaptureElement(t *testing.T) {
	path := chromePath(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body style="margin:0"><video style="display:block;width:320px;height:180px;background:#000"></video></body></html>`))
	}))
	defer srv.Close()

	c := New(Options{ExecPath: path})
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shot, err := c.Capture(ctx, srv.URL)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(shot.PNG) < 8 || string(shot.PNG[1:4]) != "PNG" {
		t.Fatalf("not a PNG: %d bytes", len(shot.PNG))
	}
	if shot.Bounds.Width != 320 || shot.Bounds.Height != 180 {
		t.Errorf("bounds=%+v", shot.Bounds)
	}
}

func TestCaptureReusesBrowser(t *testing.T) {
	path := chromePath(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><video style="display:block;width:160px;height:90px"></video></body></html>`))
	}))
	defer srv.Close()

	c := New(Options{ExecPath: path})
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var pids []int
	for i := 0; i < 2; i++ {
		if _, err := c.Capture(ctx, srv.URL); err != nil {
			t.Fatalf("Capture %d: %v", i, err)
		}
		b, err := c.browser()
		if err != nil {
			t.Fatalf("browser: %v", err)
		}
		pids = append(pids, chromedp.FromContext(b).Browser.Process().Pid)
	}
	if pids[0] != pids[1] {
		t.Fatalf("each capture started a new browser: pids=%v", pids)
	}
}

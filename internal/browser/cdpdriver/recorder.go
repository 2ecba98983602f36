package cdpdriver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/xkilldash9x/flowreplay/internal/config"
)

const (
	defaultFrameInterval = 500 * time.Millisecond
	// finalFrameDelay holds the last frame so the ending is readable.
	finalFrameDelay = 3 * time.Second
	maxFrames       = 2400
)

type frame struct {
	at   time.Time
	data []byte
}

// recorder periodically captures the tab and encodes the frames as an
// animated GIF. Chrome has no native screencast to file over CDP.
type recorder struct {
	logger   *zap.Logger
	dir      string
	size     config.ViewportConfig
	interval time.Duration

	mu      sync.Mutex
	frames  []frame
	dropped int

	stop chan struct{}
	done chan struct{}
}

func newRecorder(logger *zap.Logger, dir string, size config.ViewportConfig, interval time.Duration) *recorder {
	if interval <= 0 {
		interval = defaultFrameInterval
	}
	return &recorder{
		logger:   logger.Named("recorder"),
		dir:      dir,
		size:     size,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *recorder) start(tabCtx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-tabCtx.Done():
				return
			case <-ticker.C:
				if err := r.snapshot(tabCtx); err != nil && tabCtx.Err() == nil {
					r.logger.Debug("Frame capture failed.", zap.Error(err))
				}
			}
		}
	}()
}

// snapshot captures one frame. It satisfies chromedp.ActionFunc.
func (r *recorder) snapshot(ctx context.Context) error {
	now := time.Now()
	buf, err := page.CaptureScreenshot().
		WithFormat(page.CaptureScreenshotFormatPng).
		WithFromSurface(true).
		Do(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) >= maxFrames {
		r.dropped++
		return nil
	}
	r.frames = append(r.frames, frame{at: now, data: buf})
	return nil
}

// finish stops capturing and writes the GIF. It returns the file path, or
// "" when nothing was captured.
func (r *recorder) finish() (string, error) {
	close(r.stop)
	<-r.done

	r.mu.Lock()
	frames := r.frames
	r.frames = nil
	dropped := r.dropped
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Warn("Recording reached its frame limit.", zap.Int("dropped", dropped), zap.Int("kept", len(frames)))
	}
	if len(frames) == 0 {
		return "", nil
	}

	data, err := encodeGIF(frames, r.size)
	if err != nil {
		return "", fmt.Errorf("encoding recording: %w", err)
	}
	path := filepath.Join(r.dir, uuid.NewString()+".gif")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing recording: %w", err)
	}
	r.logger.Debug("Recording written.", zap.String("path", path), zap.Int("frames", len(frames)))
	return path, nil
}

// encodeGIF decodes PNG frames, scales them to size and quantizes them to the
// web-safe palette. Frame delays follow the real capture times.
func encodeGIF(frames []frame, size config.ViewportConfig) ([]byte, error) {
	out := &gif.GIF{}
	for i, f := range frames {
		delay := finalFrameDelay
		if i < len(frames)-1 {
			delay = frames[i+1].at.Sub(f.at)
		}
		// GIF delays are in hundredths of a second.
		out.Delay = append(out.Delay, int(delay/(10*time.Millisecond)))

		img, err := png.Decode(bytes.NewReader(f.data))
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		bounds := img.Bounds()
		if size.Width > 0 && size.Height > 0 {
			bounds = image.Rect(0, 0, size.Width, size.Height)
		}
		scaled := image.NewRGBA(bounds)
		draw.ApproxBiLinear.Scale(scaled, bounds, img, img.Bounds(), draw.Src, nil)

		paletted := image.NewPaletted(bounds, palette.WebSafe)
		draw.Draw(paletted, bounds, scaled, bounds.Min, draw.Over)
		out.Image = append(out.Image, paletted)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

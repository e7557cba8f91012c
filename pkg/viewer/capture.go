package viewer

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/hajimehoshi/ebiten/v2"
)

// captureFrame copies the screen and writes it as a PNG in the background.
func (e *Engine) captureFrame(img *ebiten.Image, suffix string, timestamp time.Time) {
	dir := e.opts.CaptureDir
	if dir == "" {
		dir = "captures"
	}
	// ReadPixels must run on the game goroutine; encoding does not.
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	img.ReadPixels(rgba.Pix)

	go func() {
		path, err := savePNG(dir, suffix, timestamp, rgba)
		if err != nil {
			log.WithError(err).Error("[capture] saving frame")
			return
		}
		log.WithField("path", path).Info("[capture] frame saved")
	}()
}

func savePNG(dir, suffix string, timestamp time.Time, img image.Image) (path string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating capture directory: %w", err)
	}
	path = filepath.Join(dir, fmt.Sprintf("sentinel-%s-%s.png", timestamp.Format("20060102-150405"), suffix))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("encoding %s: %w", path, err)
	}
	return path, nil
}

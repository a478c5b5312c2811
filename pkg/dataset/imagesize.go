package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/patrickmn/go-cache"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type imageSize struct {
	Width  int
	Height int
}

// sizeEntry is cached by path. It's only valid while the file's mtime and size still match.
type sizeEntry struct {
	modTime  time.Time
	fileSize int64
	size     imageSize
}

// ImageSize reads the dimensions of an image from its header, without decoding the pixels.
func (d *Dataset) ImageSize(path string) (width, height int, err error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	if v, ok := d.sizes.Get(path); ok {
		e := v.(sizeEntry)
		if e.modTime.Equal(st.ModTime()) && e.fileSize == st.Size() {
			return e.size.Width, e.size.Height, nil
		}
	}
	s, err := decodeImageSize(path)
	if err != nil {
		d.sizes.Delete(path)
		return 0, 0, err
	}
	d.sizes.Set(path, sizeEntry{modTime: st.ModTime(), fileSize: st.Size(), size: s}, cache.NoExpiration)
	return s.Width, s.Height, nil
}

func decodeImageSize(path string) (imageSize, error) {
	f, err := os.Open(path)
	if err != nil {
		return imageSize{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return imageSize{}, fmt.Errorf("Failed to read image header of %v: %w", path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return imageSize{}, fmt.Errorf("Image %v has no pixels (%v x %v)", path, cfg.Width, cfg.Height)
	}
	return imageSize{Width: cfg.Width, Height: cfg.Height}, nil
}

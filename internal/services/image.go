package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"scanreader/internal/ocr"
)

var ErrImageLoad = errors.New("could not load image")

var ImageFormats = []string{"png", "jpg", "gif", "bmp", "tiff", "webp"}

// LoadImage decodes a png, jpeg, gif, bmp, tiff or webp file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageLoad, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrImageLoad, filepath.Base(path), err)
	}
	return img, nil
}

// ImageDocument is a single page document backed by an image file.
type ImageDocument struct {
	uri DocumentURI
	img image.Image
}

func OpenImage(uri DocumentURI) (*ImageDocument, error) {
	img, err := LoadImage(uri.Path)
	if err != nil {
		return nil, err
	}
	return &ImageDocument{uri: uri, img: img}, nil
}

func ImageOpener(ctx context.Context, uri DocumentURI) (Document, error) {
	return OpenImage(uri)
}

func (d *ImageDocument) URI() DocumentURI { return d.uri }

func (d *ImageDocument) Title() string {
	return strings.TrimSuffix(filepath.Base(d.uri.Path), filepath.Ext(d.uri.Path))
}

func (d *ImageDocument) PageCount() int       { return 1 }
func (d *ImageDocument) CanRenderPages() bool { return true }
func (d *ImageDocument) Close() error         { return nil }

func (d *ImageDocument) PageImage(ctx context.Context, page int, zoom float64) (image.Image, error) {
	if err := checkPage(d, page); err != nil {
		return nil, err
	}
	return ocr.Scale(d.img, zoom), nil
}

// PageText is empty: an image has no text layer until it is scanned.
func (d *ImageDocument) PageText(ctx context.Context, page int) (string, error) {
	if err := checkPage(d, page); err != nil {
		return "", err
	}
	return "", nil
}

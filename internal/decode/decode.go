package decode

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"os"
	"time"

	"image-filter/internal/logging"
	"image-filter/internal/metrics"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// MaxWorkingDimension is the largest width or height a full decode keeps.
// Bigger images are downscaled to bound memory use.
const MaxWorkingDimension = 4096

// Mode selects the decode strategy.
type Mode int

const (
	// Full decodes at native resolution (constrained to
	// MaxWorkingDimension) before any resize.
	Full Mode = iota
	// Draft permits a reduced-resolution decode when the format supports
	// it, trading quality for speed. Used for thumbnails.
	Draft
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Draft {
		return "draft"
	}
	return "full"
}

// Size is a target bounding box in pixels. A zero size means "native".
type Size struct {
	Width  int
	Height int
}

// IsZero reports whether the size requests native resolution.
func (s Size) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Reason classifies a decode failure.
type Reason int

const (
	// IOFailure covers open/read errors.
	IOFailure Reason = iota
	// Corrupt covers recognized formats with undecodable pixel data.
	Corrupt
	// UnsupportedFormat covers data no registered decoder recognizes.
	UnsupportedFormat
)

// String returns the reason label.
func (r Reason) String() string {
	switch r {
	case IOFailure:
		return "io_failure"
	case Corrupt:
		return "corrupt"
	case UnsupportedFormat:
		return "unsupported_format"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Error is a classified decode failure. Callers render a placeholder for
// the affected entry and keep browsing.
type Error struct {
	Path   string
	Reason Reason
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("decode %s: %s: %v", e.Path, e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Decode loads the image at path, applies orientation metadata, and fits
// it to target. Draft mode may use a format-native reduced-resolution
// decode; Full mode always decodes native pixels first.
func Decode(path string, target Size, mode Mode) (image.Image, error) {
	start := time.Now()

	if _, err := os.Stat(path); err != nil {
		metrics.DecodeFailures.WithLabelValues(IOFailure.String()).Inc()
		return nil, &Error{Path: path, Reason: IOFailure, Err: err}
	}

	var img image.Image
	var err error
	if mode == Draft {
		img, err = decodeDraft(path, target)
	} else {
		img, err = decodeFull(path, target)
	}
	if err != nil {
		var derr *Error
		if errors.As(err, &derr) {
			metrics.DecodeFailures.WithLabelValues(derr.Reason.String()).Inc()
		}
		return nil, err
	}

	metrics.DecodeDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	return img, nil
}

func decodeDraft(path string, target Size) (image.Image, error) {
	if !target.IsZero() && vipsReady() {
		img, err := loadThumbnailWithVips(path, target.Width, target.Height)
		if err == nil {
			return img, nil
		}
		logging.Debug("vips draft decode failed for %s: %v, falling back", path, err)
	}

	img, err := openOriented(path)
	if err != nil {
		return nil, err
	}
	if target.IsZero() {
		return img, nil
	}
	// Thumbnails tolerate a cheaper filter than the full view.
	return imaging.Fit(img, target.Width, target.Height, imaging.Linear), nil
}

func decodeFull(path string, target Size) (image.Image, error) {
	img, err := openOriented(path)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	if bounds.Dx() > MaxWorkingDimension || bounds.Dy() > MaxWorkingDimension {
		logging.Debug("Constraining %s from %dx%d to %d max", path, bounds.Dx(), bounds.Dy(), MaxWorkingDimension)
		img = imaging.Fit(img, MaxWorkingDimension, MaxWorkingDimension, imaging.Lanczos)
	}
	if target.IsZero() {
		return img, nil
	}
	return imaging.Fit(img, target.Width, target.Height, imaging.Lanczos), nil
}

// openOriented decodes the file and applies EXIF orientation so callers
// always see an upright bitmap.
func openOriented(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, classify(path, err)
	}
	return img, nil
}

func classify(path string, err error) *Error {
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return &Error{Path: path, Reason: IOFailure, Err: err}
	case errors.Is(err, image.ErrFormat), errors.Is(err, imaging.ErrUnsupportedFormat):
		return &Error{Path: path, Reason: UnsupportedFormat, Err: err}
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return &Error{Path: path, Reason: IOFailure, Err: err}
	}
	return &Error{Path: path, Reason: Corrupt, Err: err}
}

// Placeholder returns the stand-in bitmap rendered for entries whose
// decode failed.
func Placeholder(target Size) image.Image {
	w, h := target.Width, target.Height
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	return imaging.New(w, h, color.NRGBA{R: 0x3a, G: 0x3a, B: 0x3a, A: 0xff})
}

package decode

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestDecodeFull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	writePNG(t, path, 300, 200)

	img, err := Decode(path, Size{}, Full)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 200 {
		t.Errorf("native decode = %dx%d, want 300x200", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestDecodeFullWithTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	writePNG(t, path, 400, 200)

	img, err := Decode(path, Size{Width: 100, Height: 100}, Full)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	// Fit preserves aspect ratio inside the box.
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("fitted decode = %dx%d, want 100x50", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestDecodeDraft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	writePNG(t, path, 640, 480)

	img, err := Decode(path, Size{Width: 120, Height: 120}, Draft)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if img.Bounds().Dx() > 120 || img.Bounds().Dy() > 120 {
		t.Errorf("draft decode = %dx%d, exceeds 120x120 box", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestDecodeMissingFile(t *testing.T) {
	_, err := Decode(filepath.Join(t.TempDir(), "nope.jpg"), Size{}, Full)
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("Decode() error = %v, want *Error", err)
	}
	if derr.Reason != IOFailure {
		t.Errorf("Reason = %v, want IOFailure", derr.Reason)
	}
}

func TestDecodeUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.jpg")
	if err := os.WriteFile(path, []byte("this is not an image at all"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err := Decode(path, Size{Width: 100, Height: 100}, Draft)
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("Decode() error = %v, want *Error", err)
	}
	if derr.Reason != UnsupportedFormat {
		t.Errorf("Reason = %v, want UnsupportedFormat", derr.Reason)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	writePNG(t, good, 50, 50)

	data, err := os.ReadFile(good)
	if err != nil {
		t.Fatalf("failed to read png: %v", err)
	}
	// Keep the signature so the PNG decoder is selected, then truncate.
	bad := filepath.Join(dir, "bad.png")
	if err := os.WriteFile(bad, data[:24], 0o644); err != nil {
		t.Fatalf("failed to write truncated png: %v", err)
	}

	_, err = Decode(bad, Size{}, Full)
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("Decode() error = %v, want *Error", err)
	}
	if derr.Reason != Corrupt {
		t.Errorf("Reason = %v, want Corrupt", derr.Reason)
	}
}

func TestPlaceholder(t *testing.T) {
	img := Placeholder(Size{Width: 120, Height: 120})
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 120 {
		t.Errorf("Placeholder = %dx%d, want 120x120", img.Bounds().Dx(), img.Bounds().Dy())
	}

	// Degenerate sizes still produce a drawable image.
	img = Placeholder(Size{})
	if img.Bounds().Empty() {
		t.Error("Placeholder with zero size returned an empty image")
	}
}

func TestModeAndReasonStrings(t *testing.T) {
	if Full.String() != "full" || Draft.String() != "draft" {
		t.Error("unexpected mode names")
	}
	if IOFailure.String() != "io_failure" ||
		Corrupt.String() != "corrupt" ||
		UnsupportedFormat.String() != "unsupported_format" {
		t.Error("unexpected reason names")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := image.ErrFormat
	err := &Error{Path: "x.jpg", Reason: UnsupportedFormat, Err: inner}
	if !errors.Is(err, image.ErrFormat) {
		t.Error("Unwrap does not expose the underlying error")
	}
}

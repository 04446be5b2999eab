package compress

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// noisy returns a w x h image with a deterministic high-frequency pattern.
func noisy(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*7919 ^ y*104729) & 0xff)
			img.Set(x, y, color.NRGBA{R: v, G: 255 - v, B: v / 2, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeGIF(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

func decodeConfig(t *testing.T, data []byte) (image.Config, string) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return cfg, format
}

func TestCompressJPEGResized(t *testing.T) {
	c := New(DefaultOptions(), testLogger())

	a, err := c.Compress(File{Name: "wide.jpg", Data: encodeJPEG(t, noisy(2000, 1000))}, 0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	cfg, format := decodeConfig(t, a.Data)
	if format != "jpeg" {
		t.Errorf("format = %q, want jpeg", format)
	}
	if cfg.Width != 1600 || cfg.Height != 800 {
		t.Errorf("size = %dx%d, want 1600x800", cfg.Width, cfg.Height)
	}
	if a.Name != "wide.jpg" {
		t.Errorf("Name = %q, want wide.jpg", a.Name)
	}
}

func TestCompressTallImage(t *testing.T) {
	c := New(Options{MaxDimension: 100}, testLogger())

	a, err := c.Compress(File{Name: "tall.jpg", Data: encodeJPEG(t, noisy(50, 400))}, 0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	cfg, _ := decodeConfig(t, a.Data)
	if cfg.Width != 12 || cfg.Height != 100 {
		t.Errorf("size = %dx%d, want 12x100", cfg.Width, cfg.Height)
	}
}

func TestCompressSmallImageKeepsSize(t *testing.T) {
	c := New(DefaultOptions(), testLogger())

	a, err := c.Compress(File{Name: "small.jpg", Data: encodeJPEG(t, noisy(64, 48))}, 0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	cfg, _ := decodeConfig(t, a.Data)
	if cfg.Width != 64 || cfg.Height != 48 {
		t.Errorf("size = %dx%d, want 64x48", cfg.Width, cfg.Height)
	}
}

func TestCompressPNGStaysPNG(t *testing.T) {
	c := New(DefaultOptions(), testLogger())

	a, err := c.Compress(File{Name: "icon.png", Data: encodePNG(t, noisy(32, 32))}, 0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if _, format := decodeConfig(t, a.Data); format != "png" {
		t.Errorf("format = %q, want png", format)
	}
	if a.Name != "icon.png" {
		t.Errorf("Name = %q", a.Name)
	}
}

func TestCompressGIFPassthrough(t *testing.T) {
	c := New(DefaultOptions(), testLogger())
	in := encodeGIF(t, noisy(40, 40))

	a, err := c.Compress(File{Name: "anim.gif", Data: in}, 0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !bytes.Equal(a.Data, in) {
		t.Error("GIF bytes changed")
	}
}

func TestCompressMaxSizeSecondPass(t *testing.T) {
	c := New(DefaultOptions(), testLogger())
	f := File{Name: "big.jpg", Data: encodeJPEG(t, noisy(400, 400))}

	first, err := c.Compress(f, 0)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	second, err := c.Compress(f, 1)
	if err != nil {
		t.Fatalf("Compress with limit: %v", err)
	}
	if len(second.Data) >= len(first.Data) {
		t.Errorf("limited output %d bytes, want smaller than %d", len(second.Data), len(first.Data))
	}
}

func TestCompressUndecodable(t *testing.T) {
	c := New(DefaultOptions(), testLogger())

	if _, err := c.Compress(File{Name: "notes.txt", Data: []byte("hello")}, 0); err == nil {
		t.Error("Compress(text) succeeded, want error")
	}
}

func TestExecuteSkipsBadFiles(t *testing.T) {
	c := New(DefaultOptions(), testLogger())
	input, err := Request{Files: []File{
		{Name: "a.jpg", Data: encodeJPEG(t, noisy(20, 20))},
		{Name: "junk.bin", Data: []byte{0, 1, 2}},
		{Name: "b.png", Data: encodePNG(t, noisy(20, 20))},
	}}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out, err := c.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(out.Artifacts) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(out.Artifacts))
	}
	if out.Artifacts[0].Name != "a.jpg" || out.Artifacts[1].Name != "b.png" {
		t.Errorf("artifact names = %q, %q", out.Artifacts[0].Name, out.Artifacts[1].Name)
	}
	if out.Message != "compressed 2 of 3 images" {
		t.Errorf("Message = %q", out.Message)
	}
}

func TestExecuteNothingCompressed(t *testing.T) {
	c := New(DefaultOptions(), testLogger())
	input, _ := Request{Files: []File{{Name: "junk.bin", Data: []byte("junk")}}}.Encode()

	if _, err := c.Execute(context.Background(), input); !errors.Is(err, ErrNothingCompressed) {
		t.Errorf("Execute error = %v, want ErrNothingCompressed", err)
	}
}

func TestExecuteBadInput(t *testing.T) {
	c := New(DefaultOptions(), testLogger())

	if _, err := c.Execute(context.Background(), []byte("{not json")); err == nil {
		t.Error("Execute with malformed input succeeded")
	}
}

func TestExecuteCancelled(t *testing.T) {
	c := New(DefaultOptions(), testLogger())
	input, _ := Request{Files: []File{{Name: "a.jpg", Data: encodeJPEG(t, noisy(10, 10))}}}.Encode()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Execute(ctx, input); !errors.Is(err, context.Canceled) {
		t.Errorf("Execute error = %v, want context.Canceled", err)
	}
}

// Package compress implements the image compression work function.
package compress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	// Decoders for inputs re-encoded as JPEG.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/TTT3216/ic2/internal/model"
	"github.com/TTT3216/ic2/internal/work"
)

const (
	// DefaultQuality is the JPEG quality used for re-encoding.
	DefaultQuality = 35

	// DefaultMaxDimension bounds the width and height of output images.
	DefaultMaxDimension = 1600

	minQuality  = 10
	qualityStep = 15
)

// ErrNothingCompressed is returned when no file in a request could be decoded.
var ErrNothingCompressed = errors.New("no compressible images")

// File is one uploaded image.
type File struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Request is the input of the compress work function.
type Request struct {
	Files []File `json:"files"`

	// MaxSizeKB triggers a lower-quality second pass for JPEG output larger
	// than this. Zero disables it.
	MaxSizeKB int `json:"max_size_kb,omitempty"`
}

// Encode serializes r as work function input.
func (r Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Options control encoding.
type Options struct {
	Quality      int
	MaxDimension int
}

// DefaultOptions returns the default quality and dimension bound.
func DefaultOptions() Options {
	return Options{Quality: DefaultQuality, MaxDimension: DefaultMaxDimension}
}

// Compressor downsizes and re-encodes images.
type Compressor struct {
	opts Options
	log  logrus.FieldLogger
}

var _ work.Func = (*Compressor)(nil)

// New creates a Compressor. Zero option fields take their defaults.
func New(opts Options, log logrus.FieldLogger) *Compressor {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	return &Compressor{opts: opts, log: log}
}

// Execute compresses every file of a JSON encoded Request. Files that fail
// to decode are skipped; the task fails only if none succeed.
func (c *Compressor) Execute(ctx context.Context, input []byte) (work.Output, error) {
	var req Request
	if err := json.Unmarshal(input, &req); err != nil {
		return work.Output{}, fmt.Errorf("decode compress request: %w", err)
	}

	artifacts := make([]model.Artifact, 0, len(req.Files))
	for _, f := range req.Files {
		if err := ctx.Err(); err != nil {
			return work.Output{}, err
		}

		a, err := c.Compress(f, req.MaxSizeKB)
		if err != nil {
			c.log.WithError(err).WithField("file", f.Name).Warn("skipping image")
			continue
		}
		c.log.WithFields(logrus.Fields{
			"file":      f.Name,
			"in_bytes":  len(f.Data),
			"out_bytes": len(a.Data),
		}).Debug("compressed image")
		artifacts = append(artifacts, a)
	}

	if len(artifacts) == 0 {
		return work.Output{}, ErrNothingCompressed
	}
	return work.Output{
		Artifacts: artifacts,
		Message:   fmt.Sprintf("compressed %d of %d images", len(artifacts), len(req.Files)),
	}, nil
}

// Compress processes a single file. GIFs pass through untouched, PNGs are
// re-encoded with maximum compression, everything else becomes JPEG.
func (c *Compressor) Compress(f File, maxSizeKB int) (model.Artifact, error) {
	img, format, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return model.Artifact{}, fmt.Errorf("decode %s: %w", f.Name, err)
	}

	if format == "gif" {
		return model.Artifact{Name: f.Name, Data: bytes.Clone(f.Data)}, nil
	}

	img = fit(img, c.opts.MaxDimension)

	var buf bytes.Buffer
	if format == "png" {
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return model.Artifact{}, fmt.Errorf("encode %s: %w", f.Name, err)
		}
		return model.Artifact{Name: f.Name, Data: buf.Bytes()}, nil
	}

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.opts.Quality}); err != nil {
		return model.Artifact{}, fmt.Errorf("encode %s: %w", f.Name, err)
	}
	if maxSizeKB > 0 && buf.Len() > maxSizeKB*1024 {
		buf.Reset()
		q := max(minQuality, c.opts.Quality-qualityStep)
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return model.Artifact{}, fmt.Errorf("encode %s: %w", f.Name, err)
		}
	}

	name := f.Name
	if format != "jpeg" {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
	}
	return model.Artifact{Name: name, Data: buf.Bytes()}, nil
}

// fit scales img down to fit within limit x limit, preserving aspect ratio.
// Images already within bounds are returned as is.
func fit(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return img
	}

	nw, nh := limit, limit
	if w >= h {
		nh = max(1, h*limit/w)
	} else {
		nw = max(1, w*limit/h)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

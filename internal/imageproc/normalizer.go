// Package imageproc adapts arbitrary images to a platform's aspect-ratio
// rules by compositing them onto a square canvas, with an optional
// watermark in the bottom-right corner.
package imageproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	// Formats beyond the ones imaging registers.
	_ "golang.org/x/image/webp"

	"liguns/internal/config"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
)

// Background selects what fills the canvas around an out-of-range image.
type Background string

const (
	BackgroundBlur  Background = "blur"
	BackgroundWhite Background = "white"
	BackgroundBlack Background = "black"
)

// Rules are the platform constraints and compositing constants.
type Rules struct {
	CanvasSize        int
	MinRatio          float64
	MaxRatio          float64
	BlurSigma         float64
	Darken            float64
	WatermarkFraction float64
	WatermarkOpacity  float64
	PaddingFraction   float64
	JPEGQuality       int
}

// InstagramRules are the feed constraints Instagram enforces.
func InstagramRules() Rules {
	return Rules{
		CanvasSize:        1080,
		MinRatio:          0.8,
		MaxRatio:          1.91,
		BlurSigma:         50,
		Darken:            0.7,
		WatermarkFraction: 0.15,
		WatermarkOpacity:  0.8,
		PaddingFraction:   0.02,
		JPEGQuality:       90,
	}
}

// RulesFromConfig builds rules from the images config section.
func RulesFromConfig(cfg config.ImagesConfig) Rules {
	return Rules{
		CanvasSize:        cfg.CanvasSize,
		MinRatio:          cfg.MinRatio,
		MaxRatio:          cfg.MaxRatio,
		BlurSigma:         cfg.BlurSigma,
		Darken:            cfg.Darken,
		WatermarkFraction: cfg.WatermarkFraction,
		WatermarkOpacity:  cfg.WatermarkOpacity,
		PaddingFraction:   cfg.PaddingFraction,
		JPEGQuality:       cfg.JPEGQuality,
	}
}

// InRange reports whether ratio is accepted as-is.
func (r Rules) InRange(ratio float64) bool {
	return ratio >= r.MinRatio && ratio <= r.MaxRatio
}

// Result is a normalized image. When WasProcessed is false Buffer holds the
// original bytes and the caller can keep using the original reference.
type Result struct {
	Buffer        []byte
	Width         int
	Height        int
	OriginalRatio float64
	WasProcessed  bool
	Format        string
}

// Info describes an image without transforming it.
type Info struct {
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Ratio   float64 `json:"ratio"`
	Format  string  `json:"format"`
	InRange bool    `json:"in_range"`
}

// Normalizer runs the fetch, compose and watermark steps.
type Normalizer struct {
	fetcher Fetcher
	rules   Rules
	logger  *zerolog.Logger
}

func NewNormalizer(fetcher Fetcher, rules Rules, logger *zerolog.Logger) *Normalizer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Normalizer{fetcher: fetcher, rules: rules, logger: logger}
}

// Rules returns the constraints this normalizer enforces.
func (n *Normalizer) Rules() Rules { return n.rules }

// Metadata fetches imageRef and reports its dimensions.
func (n *Normalizer) Metadata(ctx context.Context, imageRef string) (*Info, error) {
	data, err := n.fetcher.Fetch(ctx, imageRef)
	if err != nil {
		return nil, &FetchError{Ref: imageRef, Err: err}
	}
	_, format, err := readConfig(data)
	if err != nil {
		return nil, &MetadataError{Ref: imageRef, Err: err}
	}
	src, err := decodeOriented(data)
	if err != nil {
		return nil, &MetadataError{Ref: imageRef, Err: err}
	}
	b := src.Bounds()
	ratio := float64(b.Dx()) / float64(b.Dy())
	return &Info{
		Width:   b.Dx(),
		Height:  b.Dy(),
		Ratio:   ratio,
		Format:  format,
		InRange: n.rules.InRange(ratio),
	}, nil
}

// Normalize adapts imageRef to the rules. Watermark failures are logged and
// ignored; fetch and decode failures of the source image are returned.
func (n *Normalizer) Normalize(ctx context.Context, imageRef string, bg Background, watermarkRef string) (*Result, error) {
	data, err := n.fetcher.Fetch(ctx, imageRef)
	if err != nil {
		return nil, &FetchError{Ref: imageRef, Err: err}
	}

	_, format, err := readConfig(data)
	if err != nil {
		return nil, &MetadataError{Ref: imageRef, Err: err}
	}

	// Ratio and pixels both come from the EXIF-oriented image, so a rotated
	// photo is judged and laid out the way it displays.
	src, err := decodeOriented(data)
	if err != nil {
		return nil, &MetadataError{Ref: imageRef, Err: err}
	}
	b := src.Bounds()
	ratio := float64(b.Dx()) / float64(b.Dy())
	inRange := n.rules.InRange(ratio)

	passthrough := &Result{
		Buffer:        data,
		Width:         b.Dx(),
		Height:        b.Dy(),
		OriginalRatio: ratio,
		Format:        format,
	}
	if inRange && watermarkRef == "" {
		return passthrough, nil
	}

	var canvas *image.NRGBA
	processed := false
	if inRange {
		canvas = imaging.Clone(src)
	} else {
		canvas = n.compose(src, ratio, bg)
		processed = true
		n.logger.Debug().
			Float64("ratio", ratio).
			Str("background", string(bg)).
			Msg("image recomposed onto canvas")
	}

	if watermarkRef != "" {
		marked, err := n.watermark(ctx, canvas, watermarkRef)
		if err != nil {
			n.logger.Warn().Err(err).Str("watermark", watermarkRef).Msg("watermark skipped")
		} else {
			canvas = marked
			processed = true
		}
	}

	if !processed {
		return passthrough, nil
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(n.rules.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	bounds := canvas.Bounds()
	return &Result{
		Buffer:        buf.Bytes(),
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		OriginalRatio: ratio,
		WasProcessed:  true,
		Format:        "jpeg",
	}, nil
}

func decodeOriented(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// compose scales src to fit the square canvas and centers it over the background.
func (n *Normalizer) compose(src image.Image, ratio float64, bg Background) *image.NRGBA {
	size := n.rules.CanvasSize

	var width, height int
	if ratio > 1 {
		width = size
		height = int(math.Round(float64(size) / ratio))
	} else {
		height = size
		width = int(math.Round(float64(size) * ratio))
	}
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	scaled := imaging.Resize(src, width, height, imaging.Lanczos)
	return imaging.PasteCenter(n.background(src, bg), scaled)
}

func (n *Normalizer) background(src image.Image, bg Background) *image.NRGBA {
	size := n.rules.CanvasSize

	switch bg {
	case BackgroundWhite:
		return imaging.New(size, size, color.White)
	case BackgroundBlack:
		return imaging.New(size, size, color.Black)
	}

	cover := imaging.Fill(src, size, size, imaging.Center, imaging.Lanczos)
	blurred := imaging.Blur(cover, n.rules.BlurSigma)
	return darken(blurred, n.rules.Darken)
}

func (n *Normalizer) watermark(ctx context.Context, canvas *image.NRGBA, ref string) (*image.NRGBA, error) {
	data, err := n.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, &FetchError{Ref: ref, Err: err}
	}
	logo, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &MetadataError{Ref: ref, Err: err}
	}

	bounds := canvas.Bounds()
	width := int(math.Round(float64(bounds.Dx()) * n.rules.WatermarkFraction))
	if width < 1 {
		return nil, errors.New("watermark would be empty")
	}
	logo = imaging.Resize(logo, width, 0, imaging.Lanczos)

	padding := int(math.Round(float64(bounds.Dx()) * n.rules.PaddingFraction))
	lb := logo.Bounds()
	pos := image.Pt(bounds.Dx()-lb.Dx()-padding, bounds.Dy()-lb.Dy()-padding)

	return imaging.Overlay(canvas, logo, pos, n.rules.WatermarkOpacity), nil
}

func darken(img *image.NRGBA, factor float64) *image.NRGBA {
	if factor <= 0 || factor >= 1 {
		return img
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: uint8(float64(c.R) * factor),
			G: uint8(float64(c.G) * factor),
			B: uint8(float64(c.B) * factor),
			A: c.A,
		}
	})
}

func readConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, "", fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	return cfg, format, nil
}

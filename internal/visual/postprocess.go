package visual

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math/rand/v2"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

// PostProcessOptions control the branded finish applied to a generated photo.
type PostProcessOptions struct {
	Preset  models.PhotographyPreset
	Width   int
	Height  int
	Logo    image.Image
	Overlay string
	Quality int
	// Seed fixes the grain pattern.
	Seed uint64
}

// DecodeImage decodes PNG, JPEG, GIF or WebP bytes.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// PostProcess crops to the exact platform aspect, resizes, applies the
// preset finish and encodes JPEG.
func PostProcess(data []byte, opts PostProcessOptions) ([]byte, error) {
	src, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		w, h = src.Bounds().Dx(), src.Bounds().Dy()
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, CenterCrop(src.Bounds(), w, h), draw.Src, nil)

	p := opts.Preset
	if p.Denoise {
		blend(dst, boxBlur(dst), 0.5)
	}
	colorGrade(dst, p.ColorGrade)
	if p.Sharpen > 0 {
		unsharp(dst, clamp01(p.Sharpen))
	}
	if p.Grain > 0 {
		addGrain(dst, clamp01(p.Grain), opts.Seed)
	}
	if p.LogoOverlay && opts.Logo != nil {
		compositeLogo(dst, opts.Logo)
	}
	if p.TextOverlay && strings.TrimSpace(opts.Overlay) != "" {
		drawOverlay(dst, opts.Overlay)
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// CenterCrop returns the largest centered rectangle of b with aspect w:h.
func CenterCrop(b image.Rectangle, w, h int) image.Rectangle {
	sw, sh := b.Dx(), b.Dy()
	if sw == 0 || sh == 0 || w == 0 || h == 0 {
		return b
	}
	if sw*h > sh*w {
		cw := sh * w / h
		x0 := b.Min.X + (sw-cw)/2
		return image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	}
	ch := sw * h / w
	y0 := b.Min.Y + (sh-ch)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func clampByte(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v + 0.5)
}

// boxBlur returns a 3x3 box-blurred copy of the pixel buffer.
func boxBlur(img *image.RGBA) []uint8 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, len(img.Pix))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum [3]int
			n := 0
			for dy := -1; dy <= 1; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					i := yy*img.Stride + xx*4
					sum[0] += int(img.Pix[i])
					sum[1] += int(img.Pix[i+1])
					sum[2] += int(img.Pix[i+2])
					n++
				}
			}
			i := y*img.Stride + x*4
			out[i] = uint8(sum[0] / n)
			out[i+1] = uint8(sum[1] / n)
			out[i+2] = uint8(sum[2] / n)
			out[i+3] = img.Pix[i+3]
		}
	}
	return out
}

func blend(img *image.RGBA, other []uint8, t float64) {
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			img.Pix[i+c] = clampByte(float64(img.Pix[i+c])*(1-t) + float64(other[i+c])*t)
		}
	}
}

func unsharp(img *image.RGBA, amount float64) {
	blurred := boxBlur(img)
	k := amount * 1.5
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			o := float64(img.Pix[i+c])
			img.Pix[i+c] = clampByte(o + k*(o-float64(blurred[i+c])))
		}
	}
}

func colorGrade(img *image.RGBA, grade string) {
	var fn func(r, g, b float64) (float64, float64, float64)
	switch strings.ToLower(grade) {
	case "warm":
		fn = func(r, g, b float64) (float64, float64, float64) { return r * 1.06, g * 1.01, b * 0.94 }
	case "cool":
		fn = func(r, g, b float64) (float64, float64, float64) { return r * 0.94, g * 1.0, b * 1.06 }
	case "muted":
		fn = func(r, g, b float64) (float64, float64, float64) { return saturate(r, g, b, 0.7) }
	case "vivid":
		fn = func(r, g, b float64) (float64, float64, float64) { return saturate(r, g, b, 1.25) }
	default:
		return
	}
	for i := 0; i < len(img.Pix); i += 4 {
		r, g, b := fn(float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2]))
		img.Pix[i], img.Pix[i+1], img.Pix[i+2] = clampByte(r), clampByte(g), clampByte(b)
	}
}

func saturate(r, g, b, s float64) (float64, float64, float64) {
	l := 0.299*r + 0.587*g + 0.114*b
	return l + (r-l)*s, l + (g-l)*s, l + (b-l)*s
}

func addGrain(img *image.RGBA, amount float64, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	strength := amount * 32
	for i := 0; i < len(img.Pix); i += 4 {
		n := (rng.Float64()*2 - 1) * strength
		for c := 0; c < 3; c++ {
			img.Pix[i+c] = clampByte(float64(img.Pix[i+c]) + n)
		}
	}
}

// compositeLogo places the logo bottom-right at one eighth of the width.
func compositeLogo(dst *image.RGBA, logo image.Image) {
	b := dst.Bounds()
	lb := logo.Bounds()
	if lb.Dx() == 0 || lb.Dy() == 0 {
		return
	}
	lw := max(b.Dx()/8, 1)
	lh := max(lw*lb.Dy()/lb.Dx(), 1)
	margin := b.Dx() / 40
	r := image.Rect(b.Max.X-margin-lw, b.Max.Y-margin-lh, b.Max.X-margin, b.Max.Y-margin)
	draw.ApproxBiLinear.Scale(dst, r, logo, lb, draw.Over, nil)
}

// drawOverlay writes one line of text on a translucent band at the bottom.
func drawOverlay(dst *image.RGBA, text string) {
	face := basicfont.Face7x13
	b := dst.Bounds()
	band := 3 * face.Height
	margin := face.Width * 2

	draw.Draw(dst, image.Rect(b.Min.X, b.Max.Y-band, b.Max.X, b.Max.Y),
		&image.Uniform{C: color.RGBA{A: 160}}, image.Point{}, draw.Over)

	maxChars := (b.Dx() - 2*margin) / face.Width
	if maxChars <= 0 {
		return
	}
	line := strings.Join(strings.Fields(text), " ")
	if r := []rune(line); len(r) > maxChars {
		line = string(r[:max(maxChars-3, 0)]) + "..."
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(b.Min.X+margin, b.Max.Y-band/2+face.Ascent/2),
	}
	d.DrawString(line)
}

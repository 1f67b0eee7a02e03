// Package render draws a question and its generated answer onto a PNG so
// that long replies can be posted as a single image.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Options controls the rendered image.
type Options struct {
	// Width is the image width in pixels. Height follows the text.
	Width int
	// FontSize is the body font size in points at 72 DPI.
	FontSize int
	// Background and Foreground are "#RRGGBB" colors.
	Background string
	Foreground string
}

// Renderer renders replies with the Go fonts.
type Renderer struct {
	opts    Options
	bg, fg  color.NRGBA
	regular *opentype.Font
	bold    *opentype.Font
}

// New parses the embedded fonts and validates opts.
func New(opts Options) (*Renderer, error) {
	if opts.Width < 200 {
		return nil, fmt.Errorf("image width %d is too small", opts.Width)
	}
	if opts.FontSize < 8 || opts.FontSize*8 > opts.Width {
		return nil, fmt.Errorf("font size %d does not fit width %d", opts.FontSize, opts.Width)
	}
	bg, err := ParseHexColor(opts.Background)
	if err != nil {
		return nil, fmt.Errorf("parse background: %w", err)
	}
	fg, err := ParseHexColor(opts.Foreground)
	if err != nil {
		return nil, fmt.Errorf("parse foreground: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse gofont: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse gofont bold: %w", err)
	}
	return &Renderer{opts: opts, bg: bg, fg: fg, regular: regular, bold: bold}, nil
}

// Render draws "@author: prompt" as a bold header followed by response,
// word-wrapped to the configured width, and returns the PNG bytes.
func (r *Renderer) Render(author, prompt, response string) ([]byte, error) {
	size := float64(r.opts.FontSize)
	bodyFace, err := opentype.NewFace(r.regular, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	defer bodyFace.Close()
	headFace, err := opentype.NewFace(r.bold, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	defer headFace.Close()

	pad := r.opts.FontSize
	maxW := r.opts.Width - 2*pad
	lineH := bodyFace.Metrics().Height.Ceil() * 5 / 4

	header := strings.TrimSpace(prompt)
	if author != "" {
		header = "@" + author + ": " + header
	}
	headLines := wrap(headFace, header, maxW)
	bodyLines := wrap(bodyFace, response, maxW)

	height := 2*pad + (len(headLines)+len(bodyLines))*lineH
	if len(headLines) > 0 && len(bodyLines) > 0 {
		height += lineH // gap
	}

	img := image.NewNRGBA(image.Rect(0, 0, r.opts.Width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(r.bg), image.Point{}, draw.Src)

	ascent := bodyFace.Metrics().Ascent.Ceil()
	y := pad + ascent
	d := &font.Drawer{Dst: img, Src: image.NewUniform(r.fg), Face: headFace}
	for _, line := range headLines {
		d.Dot = fixed.P(pad, y)
		d.DrawString(line)
		y += lineH
	}
	if len(headLines) > 0 {
		y += lineH
	}
	d.Face = bodyFace
	for _, line := range bodyLines {
		d.Dot = fixed.P(pad, y)
		d.DrawString(line)
		y += lineH
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// wrap splits text into lines no wider than maxW. Paragraph breaks are
// kept as empty lines; words wider than a line are split by rune.
func wrap(face font.Face, text string, maxW int) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	fits := func(s string) bool { return font.MeasureString(face, s).Ceil() <= maxW }

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := ""
		for _, word := range words {
			candidate := word
			if line != "" {
				candidate = line + " " + word
			}
			if fits(candidate) {
				line = candidate
				continue
			}
			if line != "" {
				lines = append(lines, line)
			}
			line = ""
			for !fits(word) {
				cut := splitPoint(word, fits)
				lines = append(lines, word[:cut])
				word = word[cut:]
			}
			line = word
		}
		lines = append(lines, line)
	}
	return lines
}

// splitPoint returns the byte offset of the longest rune prefix of word
// that fits, always at least one rune.
func splitPoint(word string, fits func(string) bool) int {
	cut := 0
	for i := range word {
		if i > 0 && !fits(word[:i]) {
			break
		}
		cut = i
	}
	if cut == 0 {
		for i := range word {
			if i > 0 {
				return i
			}
		}
		return len(word)
	}
	return cut
}

// ParseHexColor parses a "#RRGGBB" hex color string into a color.NRGBA.
func ParseHexColor(hex string) (color.NRGBA, error) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: must be 6 hex digits", hex)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

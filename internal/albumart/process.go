package albumart

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/danmuck/bragi/internal/config"
	"github.com/disintegration/imaging"
	"github.com/ericpauley/go-quantize/quantize"
	"github.com/rs/zerolog/log"

	// Album art from streaming providers is frequently webp.
	_ "golang.org/x/image/webp"
)

var ErrEmptyImage = errors.New("albumart: empty image")

// Processor turns a downloaded image into the cached representation:
// flattened to RGB, Lanczos-resized to a square, quantized, then encoded.
type Processor struct {
	Size      int
	Colors    int
	Format    string
	Quality   int
	ByteOrder binary.ByteOrder
}

func NewProcessor(cfg config.AlbumArtConfig) *Processor {
	var order binary.ByteOrder = binary.BigEndian
	if cfg.ByteOrder == config.ByteOrderLittle {
		order = binary.LittleEndian
	}
	return &Processor{
		Size:      cfg.Size,
		Colors:    cfg.Colors,
		Format:    cfg.Format,
		Quality:   cfg.JPEGQuality,
		ByteOrder: order,
	}
}

// Ext is the cache file extension for the configured format.
func (p *Processor) Ext() string {
	return Ext(p.Format)
}

// Ext maps an output format to its file extension.
func Ext(format string) string {
	if format == config.FormatRGB565 {
		return ".rgb565"
	}
	return ".jpg"
}

func (p *Processor) Process(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("albumart: decode image: %w", err)
	}
	b := src.Bounds()
	log.Debug().Str("format", format).Int("width", b.Dx()).Int("height", b.Dy()).Msg("original image")

	img := flatten(src)
	img = imaging.Resize(img, p.Size, p.Size, imaging.Lanczos)
	img = p.quantize(img)
	log.Debug().Int("size", p.Size).Int("colors", p.Colors).Msg("resized and quantized")

	switch p.Format {
	case config.FormatRGB565:
		return EncodeRGB565(img, p.ByteOrder), nil
	case config.FormatJPEG, "":
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.Quality)); err != nil {
			return nil, fmt.Errorf("albumart: encode jpeg: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("albumart: unknown output format %q", p.Format)
	}
}

// flatten drops the alpha channel, keeping the straight color values.
func flatten(src image.Image) *image.NRGBA {
	img := imaging.Clone(src)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

// quantize reduces img to at most p.Colors colors with a median cut palette
// and nearest-color mapping, without dithering.
func (p *Processor) quantize(img *image.NRGBA) *image.NRGBA {
	if p.Colors <= 0 || p.Colors > 256 {
		return img
	}
	q := quantize.MedianCutQuantizer{}
	palette := q.Quantize(make(color.Palette, 0, p.Colors), img)
	if len(palette) == 0 {
		return img
	}
	bounds := img.Bounds()
	paletted := image.NewPaletted(bounds, palette)
	draw.Draw(paletted, bounds, img, bounds.Min, draw.Src)
	return imaging.Clone(paletted)
}

// EncodeRGB565 packs img into 2 bytes per pixel, row-major.
func EncodeRGB565(img image.Image, order binary.ByteOrder) []byte {
	b := img.Bounds()
	out := make([]byte, b.Dx()*b.Dy()*2)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			order.PutUint16(out[i:], RGB565(c.R, c.G, c.B))
			i += 2
		}
	}
	return out
}

// RGB565 packs 8-bit channels into 5-6-5 bits.
func RGB565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// Package composer renders certificate images
package composer

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Default output geometry, the 1086x768 template at scale 2
const (
	DefaultWidth  = 2172
	DefaultHeight = 1536
)

// DefaultDateLayout is the layout used for the issue date
const DefaultDateLayout = "02/01/2006"

// Options configures a Composer
type Options struct {
	Width      int
	Height     int
	Template   image.Image
	DateLayout string
	Quality    int
}

// Request holds the variable content of a certificate
type Request struct {
	StudentName string
	Institution string
	IssuedAt    time.Time
	// QRPayload is encoded in the QR code, usually the verification link
	QRPayload string
}

// Composer renders certificates onto a background template
type Composer struct {
	width, height int
	background    *image.RGBA
	dateLayout    string
	quality       int
	bold, regular *opentype.Font
}

// New creates a Composer. A nil template yields a plain generated background.
func New(opts Options) (*Composer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = DefaultWidth, DefaultHeight
	}
	if opts.DateLayout == "" {
		opts.DateLayout = DefaultDateLayout
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 90
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c := &Composer{
		width:      opts.Width,
		height:     opts.Height,
		dateLayout: opts.DateLayout,
		quality:    opts.Quality,
		bold:       bold,
		regular:    regular,
	}
	if opts.Template != nil {
		c.background = coverCrop(opts.Template, opts.Width, opts.Height)
	} else {
		c.background = plainBackground(opts.Width, opts.Height)
	}
	return c, nil
}

// Size returns the dimensions of the rendered images
func (c *Composer) Size() (int, int) {
	return c.width, c.height
}

// Render draws the certificate and returns the image
func (c *Composer) Render(req Request) (*image.RGBA, error) {
	if strings.TrimSpace(req.StudentName) == "" || strings.TrimSpace(req.Institution) == "" {
		return nil, errors.New("student name and institution are required")
	}
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	draw.Copy(img, image.Point{}, c.background, c.background.Bounds(), draw.Src, nil)

	w := float64(c.width)
	h := float64(c.height)

	nameSize := w * math.Max(1.5, 3-0.03*float64(utf8.RuneCountInString(req.StudentName))) / 100
	if err := c.drawCentered(img, c.bold, nameSize, req.StudentName, h*0.33); err != nil {
		return nil, err
	}
	instSize := w * math.Max(1.2, 2.5-0.03*float64(utf8.RuneCountInString(req.Institution))) / 100
	if err := c.drawCentered(img, c.regular, instSize, req.Institution, h*0.48); err != nil {
		return nil, err
	}
	issued := req.IssuedAt
	if issued.IsZero() {
		issued = time.Now()
	}
	if err := c.drawAt(img, c.regular, w*1.3/100, issued.Format(c.dateLayout), w*0.15, h*0.78); err != nil {
		return nil, err
	}
	if req.QRPayload != "" {
		if err := c.drawQR(img, req.QRPayload); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// Compose renders the certificate and encodes it as JPEG
func (c *Composer) Compose(req Request) ([]byte, error) {
	img, err := c.Render(req)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, errors.Wrap(err, "could not encode certificate")
	}
	return buf.Bytes(), nil
}

func (*Composer) face(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(
		f, &opentype.FaceOptions{
			Size:    size,
			DPI:     72,
			Hinting: font.HintingFull,
		},
	)
	return face, errors.WithStack(err)
}

// drawCentered draws text horizontally centred with its vertical centre at y
func (c *Composer) drawCentered(dst draw.Image, f *opentype.Font, size float64, text string, y float64) error {
	face, err := c.face(f, size)
	if err != nil {
		return err
	}
	defer face.Close()
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}
	advance := d.MeasureString(text)
	m := face.Metrics()
	x := fixed.I(c.width)/2 - advance/2
	baseline := fixed.Int26_6(y*64) + (m.Ascent-m.Descent)/2
	d.Dot = fixed.Point26_6{X: x, Y: baseline}
	d.DrawString(text)
	return nil
}

// drawAt draws text with its top left corner at x, y
func (c *Composer) drawAt(dst draw.Image, f *opentype.Font, size float64, text string, x, y float64) error {
	face, err := c.face(f, size)
	if err != nil {
		return err
	}
	defer face.Close()
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.Int26_6(x * 64),
			Y: fixed.Int26_6(y*64) + face.Metrics().Ascent,
		},
	}
	d.DrawString(text)
	return nil
}

// drawQR places the QR code in the top right corner
func (c *Composer) drawQR(dst draw.Image, payload string) error {
	size := c.width * 80 / 900
	inset := c.width * 16 / 900
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return errors.Wrap(err, "could not encode qr code")
	}
	q.DisableBorder = true
	code := q.Image(size)
	r := image.Rect(c.width-inset-size, inset, c.width-inset, inset+size)
	draw.NearestNeighbor.Scale(dst, r, code, code.Bounds(), draw.Src, nil)
	return nil
}

// coverCrop scales src to cover a width x height canvas and crops the centre
func coverCrop(src image.Image, width, height int) *image.RGBA {
	b := src.Bounds()
	sw, sh := b.Dx(), b.Dy()
	crop := b
	if sw*height > sh*width {
		cw := max(sh*width/height, 1)
		x0 := b.Min.X + (sw-cw)/2
		crop = image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	} else if sw*height < sh*width {
		ch := max(sw*height/width, 1)
		y0 := b.Min.Y + (sh-ch)/2
		crop = image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst
}

func plainBackground(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 0xfb, G: 0xf7, B: 0xec, A: 0xff}), image.Point{}, draw.Src)
	border := width / 90
	frame := image.NewUniform(color.RGBA{R: 0x1f, G: 0x3a, B: 0x5f, A: 0xff})
	for _, r := range []image.Rectangle{
		image.Rect(0, 0, width, border),
		image.Rect(0, height-border, width, height),
		image.Rect(0, 0, border, height),
		image.Rect(width-border, 0, width, height),
	} {
		draw.Draw(img, r, frame, image.Point{}, draw.Src)
	}
	return img
}

package render

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/fogleman/gg"

	"github.com/omero-web/client/internal/model"
)

var strokeColor = color.RGBA{255, 215, 0, 255}

// Overlay rasterizes shapes on top of a rendered tile. offsetX/offsetY is
// the tile origin in image pixels and scale maps image pixels to tile
// pixels, so shapes defined at full resolution land correctly on downsampled
// tiles.
func Overlay(base image.Image, shapes []model.Shape, offsetX, offsetY, scale float64) image.Image {
	if scale <= 0 {
		scale = 1
	}
	b := base.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), base, b.Min, draw.Src)

	dc := gg.NewContextForRGBA(canvas)
	dc.SetColor(strokeColor)
	dc.SetLineWidth(1.5)

	tx := func(x float64) float64 { return (x - offsetX) * scale }
	ty := func(y float64) float64 { return (y - offsetY) * scale }

	for _, s := range shapes {
		switch sh := s.(type) {
		case *model.Rectangle:
			dc.DrawRectangle(tx(sh.X), ty(sh.Y), sh.Width*scale, sh.Height*scale)
			dc.Stroke()
		case *model.Ellipse:
			dc.DrawEllipse(tx(sh.X), ty(sh.Y), sh.RadiusX*scale, sh.RadiusY*scale)
			dc.Stroke()
		case *model.Line:
			dc.DrawLine(tx(sh.X1), ty(sh.Y1), tx(sh.X2), ty(sh.Y2))
			dc.Stroke()
		case *model.Polygon:
			drawVertices(dc, sh.Points, tx, ty, true)
		case *model.Polyline:
			drawVertices(dc, sh.Points, tx, ty, false)
		case *model.Point:
			dc.DrawCircle(tx(sh.X), ty(sh.Y), 3)
			dc.Fill()
		case *model.Label:
			dc.DrawString(sh.Text, tx(sh.X), ty(sh.Y))
		}
	}
	return canvas
}

func drawVertices(dc *gg.Context, pts []model.Point2D, tx, ty func(float64) float64, closed bool) {
	if len(pts) < 2 {
		return
	}
	dc.MoveTo(tx(pts[0].X), ty(pts[0].Y))
	for _, p := range pts[1:] {
		dc.LineTo(tx(p.X), ty(p.Y))
	}
	if closed {
		dc.ClosePath()
	}
	dc.Stroke()
}

// EmptyTile creates a transparent placeholder tile.
func EmptyTile(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
		img.Pix[i+1] = 255
		img.Pix[i+2] = 255
		img.Pix[i+3] = 0
	}
	return img
}

// EncodePNG encodes a tile with the fast PNG encoder.
func EncodePNG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

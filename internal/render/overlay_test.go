package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/omero-web/client/internal/model"
)

func blankTile(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func TestOverlayRectangle(t *testing.T) {
	shapes := []model.Shape{
		&model.Rectangle{X: 10, Y: 10, Width: 40, Height: 20},
	}
	out := Overlay(blankTile(64, 64), shapes, 0, 0, 1)

	onEdge := color.RGBAModel.Convert(out.At(30, 10)).(color.RGBA)
	if onEdge.R == 0 && onEdge.G == 0 {
		t.Error("rectangle edge not stroked")
	}
	center := color.RGBAModel.Convert(out.At(30, 20)).(color.RGBA)
	if center.R != 0 || center.G != 0 || center.B != 0 {
		t.Errorf("rectangle interior filled: %v", center)
	}
}

func TestOverlayScalesAndOffsets(t *testing.T) {
	// A rectangle at full-resolution (100,100) drawn on a tile whose origin
	// is (100,100) with a 0.5 downsample lands at the tile origin.
	shapes := []model.Shape{
		&model.Rectangle{X: 100, Y: 100, Width: 64, Height: 64},
	}
	out := Overlay(blankTile(64, 64), shapes, 100, 100, 0.5)

	onEdge := color.RGBAModel.Convert(out.At(16, 0)).(color.RGBA)
	if onEdge.R == 0 && onEdge.G == 0 {
		t.Error("scaled rectangle edge not stroked at tile origin")
	}
	inside := color.RGBAModel.Convert(out.At(16, 16)).(color.RGBA)
	if inside.R != 0 {
		t.Errorf("scaled rectangle interior touched: %v", inside)
	}
}

func TestOverlayPolyline(t *testing.T) {
	shapes := []model.Shape{
		&model.Polyline{Points: []model.Point2D{{X: 0, Y: 32}, {X: 63, Y: 32}}},
	}
	out := Overlay(blankTile(64, 64), shapes, 0, 0, 1)
	mid := color.RGBAModel.Convert(out.At(32, 32)).(color.RGBA)
	if mid.R == 0 && mid.G == 0 {
		t.Error("polyline not stroked")
	}
}

func TestOverlayDegenerateVertexList(t *testing.T) {
	shapes := []model.Shape{
		&model.Polygon{Points: []model.Point2D{{X: 5, Y: 5}}},
		&model.Polyline{},
	}
	// Must not panic or draw anything.
	out := Overlay(blankTile(8, 8), shapes, 0, 0, 1)
	c := color.RGBAModel.Convert(out.At(5, 5)).(color.RGBA)
	if c.R != 0 || c.G != 0 {
		t.Errorf("single-vertex polygon drew pixels: %v", c)
	}
}

func TestOverlayDoesNotMutateBase(t *testing.T) {
	base := blankTile(32, 32).(*image.RGBA)
	Overlay(base, []model.Shape{&model.Line{X1: 0, Y1: 0, X2: 31, Y2: 31}}, 0, 0, 1)
	c := base.RGBAAt(16, 16)
	if c.R != 0 || c.G != 0 || c.B != 0 {
		t.Errorf("base tile mutated: %v", c)
	}
}

func TestEmptyTile(t *testing.T) {
	img := EmptyTile(16, 8)
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	_, _, _, a := img.At(4, 4).RGBA()
	if a != 0 {
		t.Errorf("placeholder tile not transparent, alpha = %d", a)
	}
}

func TestEncodePNG(t *testing.T) {
	data, err := EncodePNG(EmptyTile(4, 4))
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 4 {
		t.Errorf("decoded bounds = %v", img.Bounds())
	}
}

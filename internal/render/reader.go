// Package render maps requested image regions onto webgateway rendering
// calls: pyramid level translation, region/tile mode selection, client-side
// channel compositing and resizing.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	xdraw "golang.org/x/image/draw"

	"github.com/omero-web/client/pkg/lut"

	"github.com/omero-web/client/internal/rest"
)

// Options controls rendering quality and resize behavior.
type Options struct {
	Quality     int  // JPEG quality, 0-100
	AllowSmooth bool // permit smooth interpolation when resizing tiles
	Concurrency int  // max in-flight channel requests per tile
}

// Metadata describes an image's rendering geometry as advertised by the
// webgateway imgData document.
type Metadata struct {
	Width      int
	Height     int
	SizeC      int
	SizeZ      int
	SizeT      int
	Levels     int
	TileWidth  int
	TileHeight int
	PixelType  string
	RGB        bool
	Tiled      bool
}

// TileRequest is a read-only descriptor of a pyramid level and pixel region.
// Level 0 is the finest resolution; X/Y are the pixel origin within that
// level. On tiled images the origin must sit on a tile boundary.
type TileRequest struct {
	Level  int
	X      int
	Y      int
	Width  int
	Height int
	Z      int
	T      int
}

// InvertLevel translates a finest-first pyramid level index into the
// server's coarsest-first numbering. This inversion is a contract point:
// for a 4-level pyramid, requested level 1 dispatches to server level 2.
func InvertLevel(numLevels, level int) int {
	return numLevels - level - 1
}

// Reader reads pixel regions of one remote image.
type Reader struct {
	rc      *rest.Client
	host    string
	imageID int64
	meta    Metadata
	opts    Options
}

// NewReader fetches the image's rendering metadata and builds a reader.
func NewReader(ctx context.Context, rc *rest.Client, host string, imageID int64, opts Options) (*Reader, bool) {
	var doc struct {
		Size struct {
			Width  int `json:"width"`
			Height int `json:"height"`
			C      int `json:"c"`
			Z      int `json:"z"`
			T      int `json:"t"`
		} `json:"size"`
		Levels   int  `json:"levels"`
		Tiles    bool `json:"tiles"`
		TileSize struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"tile_size"`
		Meta struct {
			PixelsType string `json:"pixelsType"`
		} `json:"meta"`
		Rdefs struct {
			Model string `json:"model"`
		} `json:"rdefs"`
	}
	uri := fmt.Sprintf("%s/webgateway/imgData/%d/", host, imageID)
	if !rc.GetJSON(ctx, uri, &doc) {
		return nil, false
	}

	meta := Metadata{
		Width:      doc.Size.Width,
		Height:     doc.Size.Height,
		SizeC:      doc.Size.C,
		SizeZ:      doc.Size.Z,
		SizeT:      doc.Size.T,
		Levels:     doc.Levels,
		TileWidth:  doc.TileSize.Width,
		TileHeight: doc.TileSize.Height,
		PixelType:  doc.Meta.PixelsType,
		RGB:        doc.Rdefs.Model == "color",
		Tiled:      doc.Tiles && doc.Levels > 1,
	}
	if meta.Levels <= 0 {
		meta.Levels = 1
	}
	if meta.TileWidth <= 0 {
		meta.TileWidth = 256
	}
	if meta.TileHeight <= 0 {
		meta.TileHeight = 256
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 90
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	return &Reader{rc: rc, host: host, imageID: imageID, meta: meta, opts: opts}, true
}

// Metadata returns the image's rendering geometry.
func (r *Reader) Metadata() Metadata { return r.meta }

// ReadTile reads one tile. True multi-resolution images always use tile
// mode; single-level images use region mode. If the returned pixel size
// differs from the preferred size the tile is resized client-side:
// nearest-neighbor unless smooth interpolation is both allowed and the
// request went through tile mode (smooth resampling of region-mode default
// renders would make overview thumbnails misleading).
func (r *Reader) ReadTile(ctx context.Context, req TileRequest, prefW, prefH int) (image.Image, bool) {
	if req.Width <= 0 || req.Height <= 0 {
		return nil, false
	}

	var img image.Image
	var ok bool
	smooth := false
	if r.meta.Tiled {
		img, ok = r.readTileMode(ctx, req)
		smooth = r.opts.AllowSmooth
	} else {
		img, ok = r.readRegionMode(ctx, req)
	}
	if !ok {
		return nil, false
	}

	if prefW > 0 && prefH > 0 {
		b := img.Bounds()
		if b.Dx() != prefW || b.Dy() != prefH {
			img = Resize(img, prefW, prefH, smooth)
		}
	}
	return img, true
}

func (r *Reader) readTileMode(ctx context.Context, req TileRequest) (image.Image, bool) {
	if req.Level < 0 || req.Level >= r.meta.Levels {
		log.Printf("[Render] image %d: level %d outside pyramid of %d", r.imageID, req.Level, r.meta.Levels)
		return nil, false
	}
	if req.X%r.meta.TileWidth != 0 || req.Y%r.meta.TileHeight != 0 {
		log.Printf("[Render] image %d: origin %d,%d not aligned to %dx%d tiles", r.imageID, req.X, req.Y, r.meta.TileWidth, r.meta.TileHeight)
		return nil, false
	}
	serverLevel := InvertLevel(r.meta.Levels, req.Level)
	tx := req.X / r.meta.TileWidth
	ty := req.Y / r.meta.TileHeight
	spec := fmt.Sprintf("%d,%d,%d,%d,%d", serverLevel, tx, ty, req.Width, req.Height)
	return r.fetch(ctx, req, "tile", spec)
}

func (r *Reader) readRegionMode(ctx context.Context, req TileRequest) (image.Image, bool) {
	spec := fmt.Sprintf("%d,%d,%d,%d", req.X, req.Y, req.Width, req.Height)
	return r.fetch(ctx, req, "region", spec)
}

// fetch issues the rendering call(s) for one tile: a single composited JPEG
// for RGB images, otherwise one plane per channel composited client-side.
func (r *Reader) fetch(ctx context.Context, req TileRequest, specKey, spec string) (image.Image, bool) {
	if r.meta.RGB {
		q := url.Values{}
		q.Set(specKey, spec)
		q.Set("m", "c")
		q.Set("p", "normal")
		q.Set("q", quality(r.opts.Quality))
		img, ok := r.rc.GetImage(ctx, r.renderURL(req, q))
		return img, ok
	}
	return r.composite(ctx, req, specKey, spec)
}

// composite fetches one grayscale plane per channel concurrently and merges
// them. A failed sub-request invalidates the whole tile; partial-channel
// tiles are never returned.
func (r *Reader) composite(ctx context.Context, req TileRequest, specKey, spec string) (image.Image, bool) {
	channels := r.meta.SizeC
	if channels <= 0 {
		channels = 1
	}

	planes := make([]image.Image, channels)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(r.opts.Concurrency)
	for i := 0; i < channels; i++ {
		i := i
		eg.Go(func() error {
			q := url.Values{}
			q.Set(specKey, spec)
			q.Set("m", "g")
			q.Set("p", "normal")
			q.Set("q", quality(r.opts.Quality))
			q.Set("c", fmt.Sprintf("%d|0:255$FFFFFF", i+1))
			img, ok := r.rc.GetImage(ectx, r.renderURL(req, q))
			if !ok {
				return fmt.Errorf("channel %d failed", i+1)
			}
			planes[i] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		log.Printf("[Render] image %d: %v; dropping tile", r.imageID, err)
		return nil, false
	}

	w := planes[0].Bounds().Dx()
	h := planes[0].Bounds().Dy()
	for _, p := range planes[1:] {
		if p.Bounds().Dx() != w || p.Bounds().Dy() != h {
			log.Printf("[Render] image %d: mismatched plane geometry; dropping tile", r.imageID)
			return nil, false
		}
	}

	if channels <= 3 {
		return compositeRGB(planes, w, h), true
	}

	t, known := ParseSampleType(r.meta.PixelType)
	if !known {
		log.Printf("[Render] image %d: unknown sample type %q, storing as uint8", r.imageID, r.meta.PixelType)
	}
	stack := NewPlaneStack(w, h, channels, t)
	for i, p := range planes {
		stack.FillBand(i, p)
	}
	return stack.Render(), true
}

// compositeRGB merges up to three planes through the fixed red/green/blue
// linear ramps, clipping each band to 0-255.
func compositeRGB(planes []image.Image, w, h int) image.Image {
	ramps := lut.Primaries()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [3]uint32
			for i, p := range planes {
				b := p.Bounds()
				g := color.GrayModel.Convert(p.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				ramp := ramps[i]
				acc[0] += uint32(ramp.R) * uint32(g.Y) / 255
				acc[1] += uint32(ramp.G) * uint32(g.Y) / 255
				acc[2] += uint32(ramp.B) * uint32(g.Y) / 255
			}
			out.SetRGBA(x, y, color.RGBA{clip8(acc[0]), clip8(acc[1]), clip8(acc[2]), 255})
		}
	}
	return out
}

func clip8(v uint32) uint8 {
	if v > 255 {
		return 255
	}
	return uint8(v)
}

func (r *Reader) renderURL(req TileRequest, q url.Values) string {
	return fmt.Sprintf("%s/webgateway/render_image_region/%d/%d/%d/?%s",
		r.host, r.imageID, req.Z, req.T, q.Encode())
}

// quality renders a 0-100 quality as the endpoint's 0-1 fraction.
func quality(q int) string {
	return strconv.FormatFloat(float64(q)/100, 'f', 2, 64)
}

// Resize scales an image to the given size. Nearest-neighbor keeps blocky
// but faithful pixels; smooth selects Catmull-Rom resampling.
func Resize(img image.Image, w, h int, smooth bool) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if smooth {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	} else {
		xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	}
	return dst
}

package render

import (
	"image"
	"image/color"
)

// SampleType is an image's native per-sample storage type.
type SampleType int

const (
	U8 SampleType = iota
	I8
	U16
	I16
	U32
	I32
	F32
	F64
)

// ParseSampleType maps the server's pixelsType strings onto sample types.
func ParseSampleType(s string) (SampleType, bool) {
	switch s {
	case "uint8":
		return U8, true
	case "int8":
		return I8, true
	case "uint16":
		return U16, true
	case "int16":
		return I16, true
	case "uint32":
		return U32, true
	case "int32":
		return I32, true
	case "float":
		return F32, true
	case "double":
		return F64, true
	default:
		return U8, false
	}
}

// PlaneStack is a generic per-channel raster used when an image carries more
// channels than the false-color composite can express. One band per channel,
// stored in the image's native sample type.
type PlaneStack struct {
	Width    int
	Height   int
	Channels int
	Type     SampleType

	u8  []uint8
	i8  []int8
	u16 []uint16
	i16 []int16
	u32 []uint32
	i32 []int32
	f32 []float32
	f64 []float64
}

// NewPlaneStack allocates a zeroed stack.
func NewPlaneStack(width, height, channels int, t SampleType) *PlaneStack {
	s := &PlaneStack{Width: width, Height: height, Channels: channels, Type: t}
	n := width * height * channels
	switch t {
	case U8:
		s.u8 = make([]uint8, n)
	case I8:
		s.i8 = make([]int8, n)
	case U16:
		s.u16 = make([]uint16, n)
	case I16:
		s.i16 = make([]int16, n)
	case U32:
		s.u32 = make([]uint32, n)
	case I32:
		s.i32 = make([]int32, n)
	case F32:
		s.f32 = make([]float32, n)
	case F64:
		s.f64 = make([]float64, n)
	}
	return s
}

func (s *PlaneStack) index(band, x, y int) int {
	return (band*s.Height+y)*s.Width + x
}

// Set stores one normalized sample (0-1) into a band, scaled to the native
// type's range.
func (s *PlaneStack) Set(band, x, y int, v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	i := s.index(band, x, y)
	switch s.Type {
	case U8:
		s.u8[i] = uint8(v * 255)
	case I8:
		s.i8[i] = int8(v*255 - 128)
	case U16:
		s.u16[i] = uint16(v * 65535)
	case I16:
		s.i16[i] = int16(v*65535 - 32768)
	case U32:
		s.u32[i] = uint32(v * 4294967295)
	case I32:
		s.i32[i] = int32(v*4294967295 - 2147483648)
	case F32:
		s.f32[i] = float32(v)
	case F64:
		s.f64[i] = v
	}
}

// At returns one sample normalized back to 0-1.
func (s *PlaneStack) At(band, x, y int) float64 {
	i := s.index(band, x, y)
	switch s.Type {
	case U8:
		return float64(s.u8[i]) / 255
	case I8:
		return (float64(s.i8[i]) + 128) / 255
	case U16:
		return float64(s.u16[i]) / 65535
	case I16:
		return (float64(s.i16[i]) + 32768) / 65535
	case U32:
		return float64(s.u32[i]) / 4294967295
	case I32:
		return (float64(s.i32[i]) + 2147483648) / 4294967295
	case F32:
		return float64(s.f32[i])
	default:
		return s.f64[i]
	}
}

// FillBand copies a fetched plane into one band, normalizing from the
// plane's 8-bit render range.
func (s *PlaneStack) FillBand(band int, plane image.Image) {
	b := plane.Bounds()
	for y := 0; y < s.Height && y < b.Dy(); y++ {
		for x := 0; x < s.Width && x < b.Dx(); x++ {
			g := color.GrayModel.Convert(plane.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			s.Set(band, x, y, float64(g.Y)/255)
		}
	}
}

// Render flattens the stack into a grayscale image by averaging bands.
func (s *PlaneStack) Render() image.Image {
	out := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	if s.Channels == 0 {
		return out
	}
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			sum := 0.0
			for band := 0; band < s.Channels; band++ {
				sum += s.At(band, x, y)
			}
			out.SetGray(x, y, color.Gray{Y: uint8(sum / float64(s.Channels) * 255)})
		}
	}
	return out
}

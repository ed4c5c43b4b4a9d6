package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Annotation defaults for absent grammar fields.
const (
	NoClass  = "NoClass"
	NoParent = "NoParent"
)

// Annotation is the 4-field colon-delimited text attached to a shape,
// encoding the originating local object: kind, classification path,
// unique id, parent id. The encoding round-trips exactly.
type Annotation struct {
	Kind           string
	Classification string
	ObjectID       string
	ParentID       string
}

// ParseAnnotation parses the grammar, applying defaults for absent fields.
func ParseAnnotation(text string) Annotation {
	parts := strings.SplitN(text, ":", 4)
	a := Annotation{
		Kind:           parts[0],
		Classification: NoClass,
		ParentID:       NoParent,
	}
	if len(parts) > 1 && parts[1] != "" {
		a.Classification = parts[1]
	}
	if len(parts) > 2 {
		a.ObjectID = parts[2]
	}
	if len(parts) > 3 && parts[3] != "" {
		a.ParentID = parts[3]
	}
	return a
}

// String renders the annotation back into the 4-field grammar.
func (a Annotation) String() string {
	cls := a.Classification
	if cls == "" {
		cls = NoClass
	}
	parent := a.ParentID
	if parent == "" {
		parent = NoParent
	}
	return strings.Join([]string{a.Kind, cls, a.ObjectID, parent}, ":")
}

// Plane locates a shape on one 2D plane of an image.
type Plane struct {
	C int `json:"TheC"`
	Z int `json:"TheZ"`
	T int `json:"TheT"`
}

// ShapeBase carries the fields shared by every shape.
type ShapeBase struct {
	ShapeID int64  `json:"@id"`
	ROIID   int64  `json:"-"`
	Text    string `json:"Text"`
	Plane
}

// OldID is the composite "roiID:shapeID" reference used for deletion.
func (s *ShapeBase) OldID() string {
	return fmt.Sprintf("%d:%d", s.ROIID, s.ShapeID)
}

// At returns the plane coordinate of the shape.
func (s *ShapeBase) At() Plane { return s.Plane }

// Annotation parses the shape's text field.
func (s *ShapeBase) Annotation() Annotation { return ParseAnnotation(s.Text) }

// SetROI tags the shape with its owning ROI container id.
func (s *ShapeBase) SetROI(roiID int64) { s.ROIID = roiID }

// Shape is a geometric ROI element tied to an image.
type Shape interface {
	OldID() string
	At() Plane
	Annotation() Annotation
	SetROI(roiID int64)
	ShapeKind() string
	base() *ShapeBase
	geometry(m map[string]any)
}

func (s *ShapeBase) base() *ShapeBase { return s }

// Point2D is one vertex of a polygon or polyline.
type Point2D struct {
	X float64
	Y float64
}

// Rectangle is an axis-aligned box.
type Rectangle struct {
	ShapeBase
	X      float64 `json:"X"`
	Y      float64 `json:"Y"`
	Width  float64 `json:"Width"`
	Height float64 `json:"Height"`
}

func (*Rectangle) ShapeKind() string { return "rectangle" }

func (r *Rectangle) geometry(m map[string]any) {
	m["X"], m["Y"], m["Width"], m["Height"] = r.X, r.Y, r.Width, r.Height
}

// Ellipse is centered at X,Y with the given radii.
type Ellipse struct {
	ShapeBase
	X       float64 `json:"X"`
	Y       float64 `json:"Y"`
	RadiusX float64 `json:"RadiusX"`
	RadiusY float64 `json:"RadiusY"`
}

func (*Ellipse) ShapeKind() string { return "ellipse" }

func (e *Ellipse) geometry(m map[string]any) {
	m["X"], m["Y"], m["RadiusX"], m["RadiusY"] = e.X, e.Y, e.RadiusX, e.RadiusY
}

// Line is a segment between two points.
type Line struct {
	ShapeBase
	X1 float64 `json:"X1"`
	Y1 float64 `json:"Y1"`
	X2 float64 `json:"X2"`
	Y2 float64 `json:"Y2"`
}

func (*Line) ShapeKind() string { return "line" }

func (l *Line) geometry(m map[string]any) {
	m["X1"], m["Y1"], m["X2"], m["Y2"] = l.X1, l.Y1, l.X2, l.Y2
}

// Point is a single marker.
type Point struct {
	ShapeBase
	X float64 `json:"X"`
	Y float64 `json:"Y"`
}

func (*Point) ShapeKind() string { return "point" }

func (p *Point) geometry(m map[string]any) {
	m["X"], m["Y"] = p.X, p.Y
}

// Polygon is a closed vertex list.
type Polygon struct {
	ShapeBase
	Points []Point2D
}

func (*Polygon) ShapeKind() string { return "polygon" }

func (p *Polygon) geometry(m map[string]any) {
	m["Points"] = formatPoints(p.Points)
}

// Polyline is an open vertex list.
type Polyline struct {
	ShapeBase
	Points []Point2D
}

func (*Polyline) ShapeKind() string { return "polyline" }

func (p *Polyline) geometry(m map[string]any) {
	m["Points"] = formatPoints(p.Points)
}

// Label is a text anchor at X,Y; its text doubles as the annotation carrier.
type Label struct {
	ShapeBase
	X float64 `json:"X"`
	Y float64 `json:"Y"`
}

func (*Label) ShapeKind() string { return "label" }

func (l *Label) geometry(m map[string]any) {
	m["X"], m["Y"] = l.X, l.Y
}

// formatPoints renders vertices in the wire form "x1,y1 x2,y2 ...".
func formatPoints(pts []Point2D) string {
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = strconv.FormatFloat(p.X, 'f', -1, 64) + "," +
			strconv.FormatFloat(p.Y, 'f', -1, 64)
	}
	return strings.Join(parts, " ")
}

// parsePoints parses the wire form, skipping malformed pairs.
func parsePoints(s string) []Point2D {
	fields := strings.Fields(s)
	out := make([]Point2D, 0, len(fields))
	for _, f := range fields {
		xy := strings.SplitN(f, ",", 2)
		if len(xy) != 2 {
			continue
		}
		x, errX := strconv.ParseFloat(xy[0], 64)
		y, errY := strconv.ParseFloat(xy[1], 64)
		if errX != nil || errY != nil {
			continue
		}
		out = append(out, Point2D{x, y})
	}
	return out
}

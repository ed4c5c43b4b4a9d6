package model

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"
)

const schemaPrefix = "http://www.openmicroscopy.org/Schemas/OME/2016-06#"

// DecodeShape converts a raw JSON node into a typed shape. Unknown type
// tags decode to nothing with a warning, mirroring the entity codec.
func DecodeShape(raw json.RawMessage) (Shape, bool) {
	var s Shape
	switch typeTag(raw) {
	case "rectangle":
		s = &Rectangle{}
	case "ellipse":
		s = &Ellipse{}
	case "line":
		s = &Line{}
	case "polygon":
		s = &Polygon{}
	case "polyline":
		s = &Polyline{}
	case "point":
		s = &Point{}
	case "label":
		s = &Label{}
	default:
		log.Printf("[Codec] skipping shape with unknown type tag %q", typeTag(raw))
		return nil, false
	}

	if err := json.Unmarshal(raw, s); err != nil {
		log.Printf("[Codec] malformed %s shape: %v", s.ShapeKind(), err)
		return nil, false
	}

	// Vertex lists and the oldId reference need explicit handling.
	var extra struct {
		Points string `json:"Points"`
		OldID  string `json:"oldId"`
	}
	if err := json.Unmarshal(raw, &extra); err == nil {
		switch p := s.(type) {
		case *Polygon:
			p.Points = parsePoints(extra.Points)
		case *Polyline:
			p.Points = parsePoints(extra.Points)
		}
		if roiID, shapeID, ok := splitOldID(extra.OldID); ok {
			s.base().ROIID = roiID
			if s.base().ShapeID == 0 {
				s.base().ShapeID = shapeID
			}
		}
	}
	return s, true
}

// DecodeShapeList decodes a list of raw shape nodes, skipping bad elements.
func DecodeShapeList(raws []json.RawMessage) []Shape {
	out := make([]Shape, 0, len(raws))
	for _, raw := range raws {
		if s, ok := DecodeShape(raw); ok {
			out = append(out, s)
		}
	}
	return out
}

// EncodeShape renders a shape into the JSON object form used by the ROI
// persistence endpoint. Decoding the result yields an equal shape.
func EncodeShape(s Shape) map[string]any {
	b := s.base()
	m := map[string]any{
		"@type": schemaPrefix + shapeTypeName(s),
		"TheC":  b.C,
		"TheZ":  b.Z,
		"TheT":  b.T,
		"Text":  b.Text,
		"oldId": b.OldID(),
	}
	if b.ShapeID != 0 {
		m["@id"] = b.ShapeID
	}
	s.geometry(m)
	return m
}

func shapeTypeName(s Shape) string {
	kind := s.ShapeKind()
	return strings.ToUpper(kind[:1]) + kind[1:]
}

// splitOldID parses the composite "roiID:shapeID" deletion reference.
func splitOldID(oldID string) (roiID, shapeID int64, ok bool) {
	parts := strings.SplitN(oldID, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	roiID, errR := strconv.ParseInt(parts[0], 10, 64)
	shapeID, errS := strconv.ParseInt(parts[1], 10, 64)
	if errR != nil || errS != nil {
		return 0, 0, false
	}
	return roiID, shapeID, true
}

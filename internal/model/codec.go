package model

import (
	"encoding/json"
	"log"
	"strings"
)

// typeTag extracts the lowercased fragment of an @type URI, e.g.
// ".../Schemas/OME/2016-06#Project" -> "project".
func typeTag(raw json.RawMessage) string {
	var probe struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	tag := probe.Type
	if i := strings.LastIndex(tag, "#"); i >= 0 {
		tag = tag[i+1:]
	}
	return strings.ToLower(tag)
}

// details is the nested ownership node shared by entities and shapes.
type details struct {
	Owner struct {
		ID        int64  `json:"@id"`
		FirstName string `json:"FirstName"`
		LastName  string `json:"LastName"`
	} `json:"owner"`
	Group struct {
		ID   int64  `json:"@id"`
		Name string `json:"Name"`
	} `json:"group"`
}

// injectDetails overwrites the sentinel owner/group if the node carries an
// omero:details object. Absent or partial details leave the sentinels in
// place; decoding never fails on them.
func injectDetails(raw json.RawMessage, b *Base) {
	var node struct {
		Details *details `json:"omero:details"`
	}
	if err := json.Unmarshal(raw, &node); err != nil || node.Details == nil {
		return
	}
	var o Owner
	var g Group
	if node.Details.Owner.ID != 0 {
		o = Owner{
			ID:        node.Details.Owner.ID,
			FirstName: node.Details.Owner.FirstName,
			LastName:  node.Details.Owner.LastName,
		}
	}
	if node.Details.Group.ID != 0 {
		g = Group{ID: node.Details.Group.ID, Name: node.Details.Group.Name}
	}
	b.SetDetails(o, g)
}

// DecodeEntity converts a raw JSON node into a typed entity. Unknown type
// tags decode to nothing with a warning; this keeps the codec forward
// compatible with server-side schema additions.
func DecodeEntity(raw json.RawMessage) (Entity, bool) {
	switch typeTag(raw) {
	case "project":
		return decodeSimple(raw, &Project{})
	case "dataset":
		return decodeSimple(raw, &Dataset{})
	case "screen":
		return decodeSimple(raw, &Screen{})
	case "plate":
		return decodeSimple(raw, &Plate{})
	case "plateacquisition":
		return decodeSimple(raw, &PlateAcquisition{})
	case "well":
		return decodeWell(raw)
	case "image":
		return decodeImage(raw)
	default:
		log.Printf("[Codec] skipping node with unknown type tag %q", typeTag(raw))
		return nil, false
	}
}

// DecodeEntityList decodes a list of raw nodes, skipping undecodable
// elements. One bad element never fails the whole list.
func DecodeEntityList(raws []json.RawMessage) []Entity {
	out := make([]Entity, 0, len(raws))
	for _, raw := range raws {
		if e, ok := DecodeEntity(raw); ok {
			out = append(out, e)
		}
	}
	return out
}

type baseHolder interface {
	Entity
	base() *Base
}

func (b *Base) base() *Base { return b }

func decodeSimple[E baseHolder](raw json.RawMessage, e E) (Entity, bool) {
	if err := json.Unmarshal(raw, e); err != nil {
		log.Printf("[Codec] malformed %s node: %v", e.Kind(), err)
		return nil, false
	}
	injectDetails(raw, e.base())
	return e, true
}

func decodeImage(raw json.RawMessage) (Entity, bool) {
	img := &Image{}
	if err := json.Unmarshal(raw, img); err != nil {
		log.Printf("[Codec] malformed image node: %v", err)
		return nil, false
	}
	// The sample type sits one level deeper than the rest of Pixels.
	var node struct {
		Pixels struct {
			Type struct {
				Value string `json:"value"`
			} `json:"Type"`
		} `json:"Pixels"`
	}
	if err := json.Unmarshal(raw, &node); err == nil {
		img.Pixels.PixelType = node.Pixels.Type.Value
	}
	injectDetails(raw, &img.Base)
	return img, true
}

func decodeWell(raw json.RawMessage) (Entity, bool) {
	w := &Well{}
	if err := json.Unmarshal(raw, w); err != nil {
		log.Printf("[Codec] malformed well node: %v", err)
		return nil, false
	}
	var node struct {
		WellSamples []struct {
			Image            json.RawMessage `json:"Image"`
			PlateAcquisition struct {
				ID int64 `json:"@id"`
			} `json:"PlateAcquisition"`
		} `json:"WellSamples"`
	}
	if err := json.Unmarshal(raw, &node); err == nil {
		for _, ws := range node.WellSamples {
			sample := WellSample{AcquisitionID: ws.PlateAcquisition.ID}
			if len(ws.Image) > 0 {
				if img, ok := decodeImage(ws.Image); ok {
					sample.Image = img.(*Image)
				}
			}
			w.Samples = append(w.Samples, sample)
		}
	}
	injectDetails(raw, &w.Base)
	return w, true
}

// Package model defines the typed OMERO entities and ROI shapes exchanged
// with the server, and the codecs that build them from raw JSON nodes.
package model

// Owner is the experimenter owning an entity.
type Owner struct {
	ID        int64
	FirstName string
	LastName  string
}

// Group is the permission group an entity belongs to.
type Group struct {
	ID   int64
	Name string
}

// Sentinel values used when the server omits ownership details.
var (
	AllMembers = Owner{ID: -1, FirstName: "All", LastName: "members"}
	AllGroups  = Group{ID: -1, Name: "All groups"}
)

// FullName returns "First Last", or the sentinel label.
func (o Owner) FullName() string {
	if o.FirstName == "" {
		return o.LastName
	}
	return o.FirstName + " " + o.LastName
}

// Kind identifies a concrete entity type.
type Kind string

const (
	KindProject          Kind = "project"
	KindDataset          Kind = "dataset"
	KindScreen           Kind = "screen"
	KindPlate            Kind = "plate"
	KindPlateAcquisition Kind = "plateacquisition"
	KindWell             Kind = "well"
	KindImage            Kind = "image"
)

// Entity is a server-side object identified by a 64-bit id unique within
// its kind. Equality is id-based per kind, never structural.
type Entity interface {
	ID() int64
	Name() string
	Kind() Kind
	Details() (Owner, Group)
}

// Same reports id-based equality of two entities.
func Same(a, b Entity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Kind() == b.Kind() && a.ID() == b.ID()
}

// Base carries the fields shared by every entity.
type Base struct {
	EntityID   int64  `json:"@id"`
	EntityName string `json:"Name"`
	ChildCount int    `json:"omero:childCount"`

	owner Owner
	group Group
}

func (b *Base) ID() int64    { return b.EntityID }
func (b *Base) Name() string { return b.EntityName }

// Details returns the owner and group, defaulting to the "all" sentinels.
func (b *Base) Details() (Owner, Group) {
	o, g := b.owner, b.group
	if o == (Owner{}) {
		o = AllMembers
	}
	if g == (Group{}) {
		g = AllGroups
	}
	return o, g
}

// SetDetails overwrites the sentinel defaults; used by the codec only.
func (b *Base) SetDetails(o Owner, g Group) {
	b.owner = o
	b.group = g
}

// Project groups datasets.
type Project struct{ Base }

func (*Project) Kind() Kind { return KindProject }

// Dataset groups images.
type Dataset struct{ Base }

func (*Dataset) Kind() Kind { return KindDataset }

// Screen groups plates in the HCS hierarchy.
type Screen struct{ Base }

func (*Screen) Kind() Kind { return KindScreen }

// Plate holds wells laid out on a grid, optionally split into acquisitions.
type Plate struct {
	Base
	Columns int `json:"Columns"`
	Rows    int `json:"Rows"`
}

func (*Plate) Kind() Kind { return KindPlate }

// PlateAcquisition is one pass over a plate's wells.
type PlateAcquisition struct {
	Base
	StartTime int64 `json:"StartTime"`
	EndTime   int64 `json:"EndTime"`
}

func (*PlateAcquisition) Kind() Kind { return KindPlateAcquisition }

// WellSample links a well position to an image, optionally within an
// acquisition.
type WellSample struct {
	Image         *Image
	AcquisitionID int64
}

// Well is one position on a plate.
type Well struct {
	Base
	Column  int `json:"Column"`
	Row     int `json:"Row"`
	Samples []WellSample
}

func (*Well) Kind() Kind { return KindWell }

// SamplesFor partitions the well's images by acquisition: id 0 selects
// samples that belong to no acquisition.
func (w *Well) SamplesFor(acquisitionID int64) []*Image {
	var out []*Image
	for _, s := range w.Samples {
		if s.AcquisitionID == acquisitionID && s.Image != nil {
			out = append(out, s.Image)
		}
	}
	return out
}

// Pixels describes an image's pixel geometry and native sample type.
type Pixels struct {
	SizeX     int    `json:"SizeX"`
	SizeY     int    `json:"SizeY"`
	SizeZ     int    `json:"SizeZ"`
	SizeC     int    `json:"SizeC"`
	SizeT     int    `json:"SizeT"`
	PixelType string `json:"-"`
}

// Image is a single acquired image.
type Image struct {
	Base
	AcquisitionDate int64  `json:"AcquisitionDate"`
	Pixels          Pixels `json:"Pixels"`
}

func (*Image) Kind() Kind { return KindImage }

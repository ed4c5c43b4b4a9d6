package model

import (
	"encoding/json"
	"testing"
)

const schema = "http://www.openmicroscopy.org/Schemas/OME/2016-06#"

func rawEntity(t *testing.T, m map[string]any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return data
}

func TestDecodeEntity_Dispatch(t *testing.T) {
	cases := []struct {
		tag  string
		kind Kind
	}{
		{"Project", KindProject},
		{"Dataset", KindDataset},
		{"Screen", KindScreen},
		{"Plate", KindPlate},
		{"PlateAcquisition", KindPlateAcquisition},
		{"Well", KindWell},
		{"Image", KindImage},
	}
	for _, tc := range cases {
		t.Run(tc.tag, func(t *testing.T) {
			raw := rawEntity(t, map[string]any{
				"@type": schema + tc.tag,
				"@id":   7,
				"Name":  "thing",
			})
			e, ok := DecodeEntity(raw)
			if !ok {
				t.Fatal("expected decode to succeed")
			}
			if e.Kind() != tc.kind {
				t.Errorf("expected kind %q, got %q", tc.kind, e.Kind())
			}
			if e.ID() != 7 || e.Name() != "thing" {
				t.Errorf("unexpected id/name: %d %q", e.ID(), e.Name())
			}
		})
	}
}

func TestDecodeEntity_CaseInsensitiveTag(t *testing.T) {
	raw := rawEntity(t, map[string]any{"@type": schema + "PROJECT", "@id": 1})
	if _, ok := DecodeEntity(raw); !ok {
		t.Fatal("tag matching must be case-insensitive")
	}
}

func TestDecodeEntity_UnknownTag(t *testing.T) {
	raw := rawEntity(t, map[string]any{"@type": schema + "Detector", "@id": 1})
	if _, ok := DecodeEntity(raw); ok {
		t.Fatal("unknown tags must decode to nothing")
	}
}

func TestDecodeEntity_IdempotentEquality(t *testing.T) {
	raw := rawEntity(t, map[string]any{"@type": schema + "Dataset", "@id": 42, "Name": "d"})
	a, _ := DecodeEntity(raw)
	b, _ := DecodeEntity(raw)
	if a == b {
		t.Fatal("expected distinct instances")
	}
	if !Same(a, b) {
		t.Fatal("expected id-based equality")
	}
	other, _ := DecodeEntity(rawEntity(t, map[string]any{"@type": schema + "Project", "@id": 42}))
	if Same(a, other) {
		t.Fatal("ids are unique per kind, not globally")
	}
}

func TestDecodeEntity_SentinelDetails(t *testing.T) {
	raw := rawEntity(t, map[string]any{"@type": schema + "Project", "@id": 1})
	e, _ := DecodeEntity(raw)
	owner, group := e.Details()
	if owner != AllMembers {
		t.Errorf("expected AllMembers sentinel, got %+v", owner)
	}
	if group != AllGroups {
		t.Errorf("expected AllGroups sentinel, got %+v", group)
	}
}

func TestDecodeEntity_DetailsInjected(t *testing.T) {
	raw := rawEntity(t, map[string]any{
		"@type": schema + "Project",
		"@id":   1,
		"omero:details": map[string]any{
			"owner": map[string]any{"@id": 5, "FirstName": "Rosalind", "LastName": "Franklin"},
			"group": map[string]any{"@id": 3, "Name": "lab"},
		},
	})
	e, _ := DecodeEntity(raw)
	owner, group := e.Details()
	if owner.ID != 5 || owner.FullName() != "Rosalind Franklin" {
		t.Errorf("unexpected owner: %+v", owner)
	}
	if group.ID != 3 || group.Name != "lab" {
		t.Errorf("unexpected group: %+v", group)
	}
}

func TestDecodeEntity_ImagePixels(t *testing.T) {
	raw := rawEntity(t, map[string]any{
		"@type": schema + "Image",
		"@id":   9,
		"Pixels": map[string]any{
			"SizeX": 2048, "SizeY": 1024, "SizeC": 3, "SizeZ": 5, "SizeT": 1,
			"Type": map[string]any{"value": "uint16"},
		},
	})
	e, _ := DecodeEntity(raw)
	img := e.(*Image)
	if img.Pixels.SizeX != 2048 || img.Pixels.SizeC != 3 {
		t.Errorf("unexpected pixel sizes: %+v", img.Pixels)
	}
	if img.Pixels.PixelType != "uint16" {
		t.Errorf("expected uint16 sample type, got %q", img.Pixels.PixelType)
	}
}

func TestDecodeEntity_WellSamplePartition(t *testing.T) {
	raw := rawEntity(t, map[string]any{
		"@type": schema + "Well",
		"@id":   4,
		"Row":   1, "Column": 2,
		"WellSamples": []map[string]any{
			{
				"Image":            map[string]any{"@type": schema + "Image", "@id": 100},
				"PlateAcquisition": map[string]any{"@id": 9},
			},
			{
				"Image": map[string]any{"@type": schema + "Image", "@id": 101},
			},
		},
	})
	e, ok := DecodeEntity(raw)
	if !ok {
		t.Fatal("expected well to decode")
	}
	w := e.(*Well)
	if len(w.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(w.Samples))
	}
	if got := w.SamplesFor(9); len(got) != 1 || got[0].ID() != 100 {
		t.Errorf("unexpected acquisition partition: %v", got)
	}
	if got := w.SamplesFor(0); len(got) != 1 || got[0].ID() != 101 {
		t.Errorf("unexpected direct-well partition: %v", got)
	}
}

func TestDecodeEntityList_PartialTolerant(t *testing.T) {
	raws := []json.RawMessage{
		rawEntity(t, map[string]any{"@type": schema + "Project", "@id": 1}),
		json.RawMessage(`{"@type": 5}`),
		rawEntity(t, map[string]any{"@type": schema + "Mystery", "@id": 2}),
		rawEntity(t, map[string]any{"@type": schema + "Project", "@id": 3}),
	}
	got := DecodeEntityList(raws)
	if len(got) != 2 {
		t.Fatalf("expected 2 decoded entities, got %d", len(got))
	}
	if got[0].ID() != 1 || got[1].ID() != 3 {
		t.Errorf("unexpected survivors: %v", got)
	}
}

// Package tree builds the lazily-populated entity hierarchy over a gateway:
// server root, projects/datasets/images, screens/plates/wells, and the
// orphaned-images folder.
package tree

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/omero-web/client/internal/client"
	"github.com/omero-web/client/internal/model"
)

// State tracks a node's population lifecycle.
type State int

const (
	Unpopulated State = iota
	Populating
	Populated
)

func (s State) String() string {
	switch s {
	case Unpopulated:
		return "unpopulated"
	case Populating:
		return "populating"
	default:
		return "populated"
	}
}

// Node is one element of the hierarchy. Entity is nil for synthetic nodes
// (the server root and the orphaned-images folder).
type Node struct {
	Entity model.Entity

	label    string
	populate func(ctx context.Context, n *Node) []*Node

	mu       sync.Mutex
	once     sync.Once
	state    State
	children []*Node
}

// Label returns the display name: the entity name, or the synthetic label.
func (n *Node) Label() string {
	if n.Entity != nil && n.Entity.Name() != "" {
		return n.Entity.Name()
	}
	return n.label
}

// State reports the node's population state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Node) setState(s State) {
	n.mu.Lock()
	n.state = s
	n.mu.Unlock()
}

// Children populates the node on first call and returns its children.
// Concurrent callers trigger exactly one population; later calls are
// served from the populated list.
func (n *Node) Children(ctx context.Context) []*Node {
	n.once.Do(func() {
		n.setState(Populating)
		if n.populate != nil {
			loaded := n.populate(ctx, n)
			n.mu.Lock()
			n.children = append(n.children, loaded...)
			n.mu.Unlock()
		}
		n.setState(Populated)
	})
	return n.Snapshot()
}

// Snapshot returns the current children without triggering population;
// observers use it to watch incremental loads.
func (n *Node) Snapshot() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) appendChildren(nodes []*Node) {
	n.mu.Lock()
	n.children = append(n.children, nodes...)
	n.mu.Unlock()
}

// leaf builds a node that is populated at construction.
func leaf(e model.Entity) *Node {
	return &Node{Entity: e, state: Populated}
}

// childHint reads the server's child-count hint for container entities.
func childHint(e model.Entity) (int, bool) {
	switch v := e.(type) {
	case *model.Project:
		return v.ChildCount, true
	case *model.Dataset:
		return v.ChildCount, true
	case *model.Screen:
		return v.ChildCount, true
	case *model.Plate:
		return v.ChildCount, true
	}
	return 0, false
}

// container builds a lazily-populated node. A zero child-count hint marks
// the node populated immediately so expanding it never issues a call.
func container(e model.Entity, populate func(ctx context.Context, n *Node) []*Node) *Node {
	if hint, ok := childHint(e); ok && hint == 0 {
		return leaf(e)
	}
	return &Node{Entity: e, populate: populate}
}

// NewServer builds the hierarchy root for one gateway: projects and screens
// side by side, plus the orphaned-images folder.
func NewServer(gw *client.Gateway) *Node {
	return &Node{
		label: gw.Host(),
		populate: func(ctx context.Context, n *Node) []*Node {
			var out []*Node
			for _, e := range gw.Projects(ctx) {
				out = append(out, projectNode(gw, e))
			}
			for _, e := range gw.Screens(ctx) {
				out = append(out, screenNode(gw, e))
			}
			out = append(out, orphanedFolder(gw))
			return out
		},
	}
}

func projectNode(gw *client.Gateway, e model.Entity) *Node {
	return container(e, func(ctx context.Context, n *Node) []*Node {
		var out []*Node
		for _, d := range gw.Datasets(ctx, e.ID()) {
			out = append(out, datasetNode(gw, d))
		}
		return out
	})
}

func datasetNode(gw *client.Gateway, e model.Entity) *Node {
	return container(e, func(ctx context.Context, n *Node) []*Node {
		var out []*Node
		for _, img := range gw.Images(ctx, e.ID()) {
			out = append(out, leaf(img))
		}
		return out
	})
}

func screenNode(gw *client.Gateway, e model.Entity) *Node {
	return container(e, func(ctx context.Context, n *Node) []*Node {
		var out []*Node
		for _, p := range gw.Plates(ctx, e.ID()) {
			out = append(out, plateNode(gw, p))
		}
		return out
	})
}

// plateNode lists acquisitions and wells in one population pass. Well
// samples split by acquisition: each acquisition node carries the wells
// with images acquired in that run, each top-level well node the images
// outside any run.
func plateNode(gw *client.Gateway, e model.Entity) *Node {
	return container(e, func(ctx context.Context, n *Node) []*Node {
		acqs := gw.PlateAcquisitions(ctx, e.ID())
		wells := make([]*model.Well, 0)
		for _, w := range gw.Wells(ctx, e.ID()) {
			if well, ok := w.(*model.Well); ok {
				wells = append(wells, well)
			}
		}

		var out []*Node
		for _, a := range acqs {
			out = append(out, acquisitionNode(a, wells))
		}
		for _, w := range wells {
			out = append(out, wellNode(w, 0))
		}
		return out
	})
}

func acquisitionNode(e model.Entity, wells []*model.Well) *Node {
	return &Node{Entity: e, populate: func(ctx context.Context, n *Node) []*Node {
		var out []*Node
		for _, w := range wells {
			if len(w.SamplesFor(e.ID())) > 0 {
				out = append(out, wellNode(w, e.ID()))
			}
		}
		return out
	}}
}

// wellNode holds the well's images for one acquisition; id 0 selects the
// samples outside any run.
func wellNode(w *model.Well, acquisitionID int64) *Node {
	return &Node{Entity: w, populate: func(ctx context.Context, n *Node) []*Node {
		var out []*Node
		for _, img := range w.SamplesFor(acquisitionID) {
			out = append(out, leaf(img))
		}
		return out
	}}
}

// OrphanedLabel names the synthetic folder of images outside any dataset.
const OrphanedLabel = "Orphaned images"

// orphanedFolder populates in batches: children appear incrementally as
// each id batch resolves, so a snapshot taken mid-population sees partial
// progress.
func orphanedFolder(gw *client.Gateway) *Node {
	return &Node{
		label: OrphanedLabel,
		populate: func(ctx context.Context, n *Node) []*Node {
			gw.PopulateOrphanedImages(ctx, func(batch []*model.Image) {
				nodes := make([]*Node, 0, len(batch))
				for _, img := range batch {
					nodes = append(nodes, leaf(img))
				}
				n.appendChildren(nodes)
			})
			return nil
		},
	}
}

// Filter selects entities by group, owner and name. Zero-valued (or
// sentinel "all") fields match everything; Name matches case-insensitive
// substrings.
type Filter struct {
	Group model.Group
	Owner model.Owner
	Name  string
}

// Matches reports whether an entity passes the filter. Synthetic nodes
// (nil entity) always pass.
func (f Filter) Matches(e model.Entity) bool {
	if e == nil {
		return true
	}
	owner, group := e.Details()
	if f.Group != (model.Group{}) && f.Group != model.AllGroups && f.Group.ID != group.ID {
		return false
	}
	if f.Owner != (model.Owner{}) && f.Owner != model.AllMembers && f.Owner.ID != owner.ID {
		return false
	}
	if f.Name != "" && !strings.Contains(strings.ToLower(e.Name()), strings.ToLower(f.Name)) {
		return false
	}
	return true
}

// FilterChildren populates a node and returns the children passing the
// filter. The node's own child list is untouched; filtering never refetches.
func (n *Node) FilterChildren(ctx context.Context, f Filter) []*Node {
	var out []*Node
	for _, c := range n.Children(ctx) {
		if f.Matches(c.Entity) {
			out = append(out, c)
		}
	}
	return out
}

// Describe renders one line per node for the CLI tree printer.
func (n *Node) Describe() string {
	if n.Entity == nil {
		return n.Label()
	}
	return fmt.Sprintf("%s %q (id=%d)", n.Entity.Kind(), n.Label(), n.Entity.ID())
}

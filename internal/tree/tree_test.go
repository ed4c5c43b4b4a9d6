package tree

import (
	"context"
	"sync"
	"testing"

	"github.com/omero-web/client/internal/client"
	"github.com/omero-web/client/internal/config"
	"github.com/omero-web/client/internal/model"
	"github.com/omero-web/client/internal/omerotest"
)

func connect(t *testing.T, srv *omerotest.Server) *client.Gateway {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Host = srv.URL()
	cfg.Requests.TimeoutSeconds = 5
	g, err := client.Connect(context.Background(), client.NewRegistry(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func TestServerRoot(t *testing.T) {
	srv := omerotest.New()
	defer srv.Close()
	srv.Projects = []omerotest.Obj{
		omerotest.WithChildCount(omerotest.Entity("Project", 1, "p1"), 2),
	}
	srv.Screens = []omerotest.Obj{
		omerotest.WithChildCount(omerotest.Entity("Screen", 2, "s1"), 1),
	}
	root := NewServer(connect(t, srv))

	if root.State() != Unpopulated {
		t.Errorf("fresh root state = %v", root.State())
	}
	children := root.Children(context.Background())
	if len(children) != 3 {
		t.Fatalf("root has %d children, want project + screen + orphaned folder", len(children))
	}
	if children[0].Entity.Kind() != model.KindProject {
		t.Errorf("first child = %v", children[0].Describe())
	}
	if children[1].Entity.Kind() != model.KindScreen {
		t.Errorf("second child = %v", children[1].Describe())
	}
	last := children[2]
	if last.Entity != nil || last.Label() != OrphanedLabel {
		t.Errorf("last child = %v", last.Describe())
	}
	if root.State() != Populated {
		t.Errorf("root state after Children = %v", root.State())
	}
}

func TestChildrenPopulatesExactlyOnce(t *testing.T) {
	srv := omerotest.New()
	defer srv.Close()
	srv.Datasets[1] = []omerotest.Obj{
		omerotest.WithChildCount(omerotest.Entity("Dataset", 10, "d10"), 3),
	}
	gw := connect(t, srv)

	srv.Projects = []omerotest.Obj{omerotest.WithChildCount(omerotest.Entity("Project", 1, "p1"), 1)}
	projects := gw.Projects(context.Background())
	if len(projects) != 1 {
		t.Fatalf("got %d projects", len(projects))
	}
	node := projectNode(gw, projects[0])

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := node.Children(context.Background()); len(got) != 1 {
				t.Errorf("got %d children", len(got))
			}
		}()
	}
	wg.Wait()

	if n := srv.Count("/api/v0/m/projects/1/datasets/"); n != 1 {
		t.Errorf("concurrent expansion issued %d list calls, want 1", n)
	}
}

func TestZeroChildHintSkipsNetwork(t *testing.T) {
	srv := omerotest.New()
	defer srv.Close()
	srv.Projects = []omerotest.Obj{
		omerotest.WithChildCount(omerotest.Entity("Project", 1, "empty"), 0),
	}
	gw := connect(t, srv)

	projects := gw.Projects(context.Background())
	if len(projects) != 1 {
		t.Fatalf("got %d projects", len(projects))
	}
	node := projectNode(gw, projects[0])
	if node.State() != Populated {
		t.Errorf("zero-child node state = %v, want populated at construction", node.State())
	}
	if got := node.Children(context.Background()); len(got) != 0 {
		t.Errorf("zero-child node has %d children", len(got))
	}
	if n := srv.Count("/api/v0/m/projects/1/datasets/"); n != 0 {
		t.Errorf("zero-child expansion issued %d list calls, want 0", n)
	}
}

func TestProjectDatasetImagePath(t *testing.T) {
	srv := omerotest.New()
	defer srv.Close()
	srv.Projects = []omerotest.Obj{omerotest.WithChildCount(omerotest.Entity("Project", 1, "p1"), 1)}
	srv.Datasets[1] = []omerotest.Obj{omerotest.WithChildCount(omerotest.Entity("Dataset", 10, "d10"), 2)}
	srv.Images[10] = []omerotest.Obj{
		omerotest.ImageObj(100, "a.tiff", 64, 64, 1, 1, 1, "uint8"),
		omerotest.ImageObj(101, "b.tiff", 64, 64, 1, 1, 1, "uint8"),
	}
	root := NewServer(connect(t, srv))
	ctx := context.Background()

	project := root.Children(ctx)[0]
	datasets := project.Children(ctx)
	if len(datasets) != 1 {
		t.Fatalf("got %d datasets", len(datasets))
	}
	images := datasets[0].Children(ctx)
	if len(images) != 2 {
		t.Fatalf("got %d images", len(images))
	}
	if images[0].State() != Populated {
		t.Error("image leaf not populated at construction")
	}
	if len(images[0].Children(ctx)) != 0 {
		t.Error("image leaf has children")
	}
}

func TestPlatePartition(t *testing.T) {
	srv := omerotest.New()
	defer srv.Close()
	srv.Screens = []omerotest.Obj{omerotest.WithChildCount(omerotest.Entity("Screen", 1, "s1"), 1)}
	srv.Plates[1] = []omerotest.Obj{omerotest.WithChildCount(omerotest.Entity("Plate", 20, "pl"), 2)}
	srv.Acqs[20] = []omerotest.Obj{omerotest.Entity("PlateAcquisition", 30, "run1")}
	srv.Wells[20] = []omerotest.Obj{
		omerotest.WellObj(40, 0, 0,
			omerotest.WellSampleObj(omerotest.ImageObj(100, "in-run", 8, 8, 1, 1, 1, "uint8"), 30),
			omerotest.WellSampleObj(omerotest.ImageObj(101, "direct", 8, 8, 1, 1, 1, "uint8"), 0),
		),
		omerotest.WellObj(41, 0, 1,
			omerotest.WellSampleObj(omerotest.ImageObj(102, "direct-only", 8, 8, 1, 1, 1, "uint8"), 0),
		),
	}
	root := NewServer(connect(t, srv))
	ctx := context.Background()

	screen := root.Children(ctx)[0]
	plates := screen.Children(ctx)
	if len(plates) != 1 {
		t.Fatalf("got %d plates", len(plates))
	}
	children := plates[0].Children(ctx)
	if len(children) != 3 {
		t.Fatalf("plate has %d children, want acquisition + two wells", len(children))
	}

	acq, well := children[0], children[1]
	if acq.Entity.Kind() != model.KindPlateAcquisition || well.Entity.Kind() != model.KindWell {
		t.Fatalf("plate children = %v, %v", acq.Describe(), well.Describe())
	}

	// Acquisitions nest a well layer: only wells imaged in that run appear,
	// and each holds just the run's samples.
	runWells := acq.Children(ctx)
	if len(runWells) != 1 || runWells[0].Entity.Kind() != model.KindWell || runWells[0].Entity.ID() != 40 {
		t.Fatalf("acquisition wells = %v", runWells)
	}
	inRun := runWells[0].Children(ctx)
	if len(inRun) != 1 || inRun[0].Entity.ID() != 100 {
		t.Errorf("acquisition well images = %v", inRun)
	}

	direct := well.Children(ctx)
	if len(direct) != 1 || direct[0].Entity.ID() != 101 {
		t.Errorf("direct well images = %v", direct)
	}
	other := children[2].Children(ctx)
	if len(other) != 1 || other[0].Entity.ID() != 102 {
		t.Errorf("second well images = %v", other)
	}
}

func TestOrphanedFolderPopulation(t *testing.T) {
	srv := omerotest.New()
	defer srv.Close()
	for i := int64(1); i <= 20; i++ {
		srv.Orphaned = append(srv.Orphaned, omerotest.ImageObj(i, "orphan", 8, 8, 1, 1, 1, "uint8"))
		srv.ImageByID[i] = omerotest.ImageObj(i, "orphan", 8, 8, 1, 1, 1, "uint8")
	}
	gw := connect(t, srv)
	root := NewServer(gw)
	ctx := context.Background()

	children := root.Children(ctx)
	folder := children[len(children)-1]
	if folder.Label() != OrphanedLabel {
		t.Fatalf("last root child = %v", folder.Describe())
	}

	images := folder.Children(ctx)
	if len(images) != 20 {
		t.Fatalf("orphaned folder has %d images, want 20", len(images))
	}
	if loaded, total := gw.Counters().Orphaned(); loaded != 20 || total != 20 {
		t.Errorf("orphan progress = %d/%d, want 20/20", loaded, total)
	}
}

func TestFilter(t *testing.T) {
	alice := model.Owner{ID: 7, FirstName: "Alice", LastName: "A"}
	lab := model.Group{ID: 3, Name: "lab"}

	mine := &model.Project{}
	mine.EntityID = 1
	mine.EntityName = "Spleen Sections"
	mine.SetDetails(alice, lab)

	other := &model.Project{}
	other.EntityID = 2
	other.EntityName = "Kidney"
	other.SetDetails(model.Owner{ID: 8}, model.Group{ID: 4})

	t.Run("zero filter matches all", func(t *testing.T) {
		f := Filter{}
		if !f.Matches(mine) || !f.Matches(other) {
			t.Error("zero filter rejected an entity")
		}
	})
	t.Run("sentinels match all", func(t *testing.T) {
		f := Filter{Group: model.AllGroups, Owner: model.AllMembers}
		if !f.Matches(mine) || !f.Matches(other) {
			t.Error("sentinel filter rejected an entity")
		}
	})
	t.Run("owner", func(t *testing.T) {
		f := Filter{Owner: alice}
		if !f.Matches(mine) || f.Matches(other) {
			t.Error("owner filter misclassified")
		}
	})
	t.Run("group", func(t *testing.T) {
		f := Filter{Group: lab}
		if !f.Matches(mine) || f.Matches(other) {
			t.Error("group filter misclassified")
		}
	})
	t.Run("name substring is case-insensitive", func(t *testing.T) {
		f := Filter{Name: "spleen"}
		if !f.Matches(mine) || f.Matches(other) {
			t.Error("name filter misclassified")
		}
	})
	t.Run("synthetic nodes always pass", func(t *testing.T) {
		f := Filter{Name: "nothing matches this"}
		if !f.Matches(nil) {
			t.Error("nil entity rejected")
		}
	})
}

func TestFilterChildren(t *testing.T) {
	srv := omerotest.New()
	defer srv.Close()
	srv.Projects = []omerotest.Obj{
		omerotest.WithChildCount(omerotest.Entity("Project", 1, "Spleen"), 1),
		omerotest.WithChildCount(omerotest.Entity("Project", 2, "Kidney"), 1),
	}
	root := NewServer(connect(t, srv))
	ctx := context.Background()

	got := root.FilterChildren(ctx, Filter{Name: "kid"})
	// The synthetic orphaned folder passes every filter.
	if len(got) != 2 {
		t.Fatalf("filtered children = %d, want project + orphaned folder", len(got))
	}
	if got[0].Entity.ID() != 2 {
		t.Errorf("filtered project = %v", got[0].Describe())
	}

	if n := srv.Count("/api/v0/m/projects/"); n != 1 {
		t.Errorf("filtering refetched: %d list calls", n)
	}
}

// Package client provides the orchestrating gateway for one OMERO web
// connection: endpoint discovery, session/CSRF handling, routed metadata
// calls, icon/thumbnail caches, loading counters and keep-alive.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/omero-web/client/internal/config"
	"github.com/omero-web/client/internal/model"
	"github.com/omero-web/client/internal/render"
	"github.com/omero-web/client/internal/rest"
	"github.com/omero-web/client/internal/roi"
)

// Link names the gateway requires from the discovery map. A missing link
// fails connection creation outright.
var requiredLinks = []string{
	"url:projects", "url:datasets", "url:images", "url:screens",
	"url:plates", "url:token", "url:servers", "url:login",
}

// Credentials are submitted to the login endpoint. Password bytes are
// scrubbed once the request is dispatched.
type Credentials struct {
	Username string
	Password []byte
	Skip     bool // request anonymous access instead of authenticating
}

// LoginResult is the typed outcome of an authentication attempt.
type LoginResult int

const (
	LoginSuccess LoginResult = iota
	LoginBadCredentials
	LoginCanceled
	LoginSkipNotPermitted
	LoginTransportFailed
)

func (r LoginResult) String() string {
	switch r {
	case LoginSuccess:
		return "success"
	case LoginBadCredentials:
		return "bad credentials"
	case LoginCanceled:
		return "canceled"
	case LoginSkipNotPermitted:
		return "anonymous access not permitted"
	default:
		return "transport failure"
	}
}

// Gateway is the façade for one remote connection. It routes each logical
// call to the sub-endpoint serving it: metadata lists to the JSON API,
// icons/thumbnails/tiles to webgateway, keep-alive and logout to webclient,
// ROI writes to iviewer.
type Gateway struct {
	host     string
	cfg      *config.Config
	rest     *rest.Client
	registry *Registry

	links    map[string]string
	token    string
	roisURL  string
	counters *Counters

	thumbs *bigcache.BigCache
	icons  *lru.Cache[string, image.Image]

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu       sync.Mutex
	loggedIn bool
}

// Connect discovers the server's endpoint map and creates a gateway. The
// registry guarantees at most one live gateway per host: connecting to a
// host that already has one returns the existing gateway.
//
// Discovery is all-or-nothing: a failed version fetch, link map fetch or
// token fetch yields an error and no partial gateway.
func Connect(ctx context.Context, registry *Registry, cfg *config.Config) (*Gateway, error) {
	host := NormalizeHost(cfg.Server.Host)
	if existing := registry.Get(host); existing != nil {
		return existing, nil
	}

	rc := rest.NewClient(rest.Config{
		Timeout:         cfg.Requests.Timeout(),
		PageConcurrency: cfg.Requests.PageConcurrency,
	})

	var versions struct {
		Data []map[string]any `json:"data"`
	}
	if !rc.GetJSON(ctx, host+"/api/", &versions) || len(versions.Data) == 0 {
		return nil, fmt.Errorf("discovery failed: no API versions at %s", host)
	}
	base, _ := versions.Data[len(versions.Data)-1]["url:base"].(string)
	if base == "" {
		return nil, fmt.Errorf("discovery failed: latest version has no base URL")
	}

	var rawLinks map[string]any
	if !rc.GetJSON(ctx, base, &rawLinks) {
		return nil, fmt.Errorf("discovery failed: cannot fetch link map at %s", base)
	}
	links := make(map[string]string, len(rawLinks))
	for k, v := range rawLinks {
		if s, ok := v.(string); ok {
			links[k] = s
		}
	}
	for _, name := range requiredLinks {
		if links[name] == "" {
			return nil, fmt.Errorf("discovery failed: link map missing %s", name)
		}
	}

	var token struct {
		Data string `json:"data"`
	}
	if !rc.GetJSON(ctx, links["url:token"], &token) || token.Data == "" {
		return nil, fmt.Errorf("discovery failed: no CSRF token")
	}

	roisURL := links["url:rois"]
	if roisURL == "" {
		roisURL = host + "/api/v0/m/rois/"
	}

	thumbs, err := bigcache.New(context.Background(), bigcache.Config{
		Shards:             256,
		LifeWindow:         time.Duration(cfg.Cache.ThumbnailTTLHours) * time.Hour,
		CleanWindow:        time.Hour,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       256 * 1024,
		HardMaxCacheSize:   cfg.Cache.ThumbnailSizeMB,
		Verbose:            false,
	})
	if err != nil {
		return nil, fmt.Errorf("creating thumbnail cache: %w", err)
	}
	icons, err := lru.New[string, image.Image](cfg.Cache.IconEntries)
	if err != nil {
		return nil, fmt.Errorf("creating icon cache: %w", err)
	}

	gctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		host:     host,
		cfg:      cfg,
		rest:     rc,
		registry: registry,
		links:    links,
		token:    token.Data,
		roisURL:  roisURL,
		counters: &Counters{},
		thumbs:   thumbs,
		icons:    icons,
		ctx:      gctx,
		cancel:   cancel,
	}
	winner, added := registry.addIfAbsent(g)
	if !added {
		// A concurrent connect to the same host finished first; release
		// this gateway's resources and hand back the registered one.
		cancel()
		thumbs.Close()
		log.Printf("[Gateway] reusing live connection for %s", host)
		return winner, nil
	}
	return g, nil
}

// Host returns the normalized host this gateway serves.
func (g *Gateway) Host() string { return g.host }

// Token returns the session CSRF token.
func (g *Gateway) Token() string { return g.token }

// Counters returns the gateway's progress counters.
func (g *Gateway) Counters() *Counters { return g.counters }

// Login authenticates against the first advertised server. On success the
// periodic keep-alive loop starts. The result is typed: bad credentials,
// a canceled attempt (empty credentials) and anonymous-access refusal are
// distinct outcomes, none of them panics or errors.
func (g *Gateway) Login(ctx context.Context, creds Credentials) LoginResult {
	if creds.Skip {
		// The web API offers no anonymous session endpoint.
		return LoginSkipNotPermitted
	}
	if creds.Username == "" {
		return LoginCanceled
	}

	var servers struct {
		Data []struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if !g.rest.GetJSON(ctx, g.links["url:servers"], &servers) || len(servers.Data) == 0 {
		return LoginTransportFailed
	}

	// The password section is appended as raw bytes after encoding the rest
	// of the form, then scrubbed along with the assembled body.
	prefix := fmt.Sprintf("server=%d&username=%s&password=",
		servers.Data[0].ID, url.QueryEscape(creds.Username))
	body := append([]byte(prefix), creds.Password...)
	scrubBytes(creds.Password)

	_, status := g.rest.PostFormStatus(ctx, g.links["url:login"], body, g.host+"/", g.token)
	switch {
	case status == 0:
		return LoginTransportFailed
	case status >= 200 && status <= 299:
		g.mu.Lock()
		alreadyIn := g.loggedIn
		g.loggedIn = true
		g.mu.Unlock()
		if !alreadyIn {
			g.wg.Add(1)
			go g.keepAliveLoop()
		}
		return LoginSuccess
	default:
		return LoginBadCredentials
	}
}

// Ping checks the webclient session keep-alive endpoint.
func (g *Gateway) Ping(ctx context.Context) bool {
	_, ok := g.rest.Get(ctx, g.host+"/webclient/keepalive_ping/")
	return ok
}

// keepAliveLoop pings the webclient endpoint periodically. After
// MissThreshold consecutive failures the gateway tears itself down; this is
// the sole automatic-disconnect trigger.
func (g *Gateway) keepAliveLoop() {
	defer g.wg.Done()

	interval := g.cfg.KeepAlive.Interval()
	threshold := g.cfg.KeepAlive.MissThreshold
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			if g.Ping(g.ctx) {
				misses = 0
				continue
			}
			misses++
			log.Printf("[Gateway] keep-alive miss %d/%d for %s", misses, threshold, g.host)
			if misses >= threshold {
				log.Printf("[Gateway] closing %s after %d missed pings", g.host, misses)
				go g.Close()
				return
			}
		}
	}
}

// Close cancels the keep-alive scope, sends a best-effort logout and removes
// the gateway from the registry. In-flight requests complete and their
// results are discarded by callers.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		g.cancel()
		g.registry.remove(g)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.rest.PostForm(ctx, g.host+"/webclient/logout/", nil, g.host+"/", g.token)

		g.wg.Wait()
		g.thumbs.Close()
		log.Printf("[Gateway] closed %s", g.host)
	})
}

// listEntities wraps a paginated list fetch with the loading counter and the
// entity codec.
func (g *Gateway) listEntities(ctx context.Context, uri string) []model.Entity {
	g.counters.AddEntitiesLoading(1)
	defer g.counters.AddEntitiesLoading(-1)
	return model.DecodeEntityList(g.rest.GetPaginated(ctx, uri))
}

// Projects lists every project visible in the session.
func (g *Gateway) Projects(ctx context.Context) []model.Entity {
	return g.listEntities(ctx, g.links["url:projects"]+"?childCount=true")
}

// Datasets lists a project's datasets.
func (g *Gateway) Datasets(ctx context.Context, projectID int64) []model.Entity {
	uri := fmt.Sprintf("%s%d/datasets/?childCount=true", g.links["url:projects"], projectID)
	return g.listEntities(ctx, uri)
}

// Images lists a dataset's images.
func (g *Gateway) Images(ctx context.Context, datasetID int64) []model.Entity {
	uri := fmt.Sprintf("%s%d/images/?childCount=true", g.links["url:datasets"], datasetID)
	return g.listEntities(ctx, uri)
}

// Screens lists every screen visible in the session.
func (g *Gateway) Screens(ctx context.Context) []model.Entity {
	return g.listEntities(ctx, g.links["url:screens"]+"?childCount=true")
}

// Plates lists a screen's plates.
func (g *Gateway) Plates(ctx context.Context, screenID int64) []model.Entity {
	uri := fmt.Sprintf("%s%d/plates/?childCount=true", g.links["url:screens"], screenID)
	return g.listEntities(ctx, uri)
}

// PlateAcquisitions lists a plate's acquisitions.
func (g *Gateway) PlateAcquisitions(ctx context.Context, plateID int64) []model.Entity {
	uri := fmt.Sprintf("%s%d/plateacquisitions/", g.links["url:plates"], plateID)
	return g.listEntities(ctx, uri)
}

// Wells lists a plate's wells, including their well samples.
func (g *Gateway) Wells(ctx context.Context, plateID int64) []model.Entity {
	uri := fmt.Sprintf("%s%d/wells/", g.links["url:plates"], plateID)
	return g.listEntities(ctx, uri)
}

// Image fetches one image's full metadata node.
func (g *Gateway) Image(ctx context.Context, id int64) (*model.Image, bool) {
	var node struct {
		Data json.RawMessage `json:"data"`
	}
	uri := fmt.Sprintf("%s%d/", g.links["url:images"], id)
	if !g.rest.GetJSON(ctx, uri, &node) {
		return nil, false
	}
	e, ok := model.DecodeEntity(node.Data)
	if !ok {
		return nil, false
	}
	img, ok := e.(*model.Image)
	return img, ok
}

// OrphanedImageIDs fetches the ids of every image with no parent dataset.
func (g *Gateway) OrphanedImageIDs(ctx context.Context) []int64 {
	raws := g.rest.GetPaginated(ctx, g.links["url:images"]+"?orphaned=true")
	ids := make([]int64, 0, len(raws))
	for _, raw := range raws {
		var probe struct {
			ID int64 `json:"@id"`
		}
		if err := json.Unmarshal(raw, &probe); err == nil && probe.ID != 0 {
			ids = append(ids, probe.ID)
		}
	}
	return ids
}

// PopulateOrphanedImages fetches full image nodes for every orphaned id in
// fixed-size batches with bounded fan-out, feeding each completed batch to
// the sink. The batch boundary is also the progress-reporting boundary: the
// loaded counter advances once per batch and never exceeds the total.
func (g *Gateway) PopulateOrphanedImages(ctx context.Context, sink func([]*model.Image)) {
	batchSize := g.cfg.Requests.OrphanBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	ids := g.OrphanedImageIDs(ctx)
	g.counters.SetOrphanedTotal(len(ids))

	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		images := make([]*model.Image, len(batch))
		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(batchSize)
		for i, id := range batch {
			i, id := i, id
			eg.Go(func() error {
				if img, ok := g.Image(ectx, id); ok {
					images[i] = img
				}
				return nil
			})
		}
		eg.Wait()

		loaded := images[:0]
		for _, img := range images {
			if img != nil {
				loaded = append(loaded, img)
			}
		}
		g.counters.AddOrphanedLoaded(len(batch))
		if sink != nil {
			sink(loaded)
		}
	}
}

// Thumbnail fetches an image thumbnail, serving repeats from the cache.
// Concurrent first requests for the same key are not deduplicated; they
// converge on the same cached value afterward.
func (g *Gateway) Thumbnail(ctx context.Context, id int64, size int) (image.Image, bool) {
	key := fmt.Sprintf("%d:%d", id, size)
	if data, err := g.thumbs.Get(key); err == nil {
		if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
			return img, true
		}
	}

	g.counters.AddThumbnailsLoading(1)
	defer g.counters.AddThumbnailsLoading(-1)

	uri := fmt.Sprintf("%s/webgateway/render_thumbnail/%d/%d/", g.host, id, size)
	data, ok := g.rest.Get(ctx, uri)
	if !ok {
		return nil, false
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Printf("[Gateway] thumbnail %s undecodable: %v", key, err)
		return nil, false
	}
	g.thumbs.Set(key, data)
	return img, true
}

// Icon fetches a webclient icon by file name, e.g. "folder16.png".
func (g *Gateway) Icon(ctx context.Context, name string) (image.Image, bool) {
	if img, ok := g.icons.Get(name); ok {
		return img, true
	}
	img, ok := g.rest.GetImage(ctx, g.host+"/static/webclient/image/"+name)
	if !ok {
		return nil, false
	}
	g.icons.Add(name, img)
	return img, true
}

// IconForKind returns the standard icon for an entity kind.
func (g *Gateway) IconForKind(ctx context.Context, kind model.Kind) (image.Image, bool) {
	return g.Icon(ctx, "folder_"+string(kind)+"16.png")
}

// TileReader builds a tile reader for an image, fetching its rendering
// metadata from webgateway.
func (g *Gateway) TileReader(ctx context.Context, imageID int64) (*render.Reader, bool) {
	return render.NewReader(ctx, g.rest, g.host, imageID, render.Options{
		Quality:     g.cfg.Tiles.JPEGQuality,
		AllowSmooth: g.cfg.Tiles.SmoothInterpolate,
		Concurrency: g.cfg.Requests.PageConcurrency,
	})
}

// ROIs reads every shape attached to an image.
func (g *Gateway) ROIs(ctx context.Context, imageID int64) []model.Shape {
	return roi.Read(ctx, g.rest, g.roisURL, imageID)
}

// WriteROIs persists shape additions and removals in one atomic-looking
// call.
func (g *Gateway) WriteROIs(ctx context.Context, imageID int64, add, remove []model.Shape) bool {
	uri := g.host + "/iviewer/persist_rois/"
	return roi.Write(ctx, g.rest, uri, g.host+"/", g.token, imageID, add, remove)
}

func scrubBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

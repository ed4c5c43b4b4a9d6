// Package omerotest provides an in-process fake OMERO web server for tests.
//
// The fake serves the discovery map, token and login endpoints, paginated
// metadata lists, webgateway thumbnails/regions and the iviewer ROI
// persistence endpoint, and counts requests per path so tests can assert
// exactly-once behavior.
package omerotest

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Schema is the @type URI prefix used by the OMERO JSON API.
const Schema = "http://www.openmicroscopy.org/Schemas/OME/2016-06#"

// Token is the CSRF token handed out by the fake.
const Token = "csrf-test-token"

// Obj is a raw JSON object fixture.
type Obj = map[string]any

// Server is a configurable fake OMERO web server.
type Server struct {
	httpServer *httptest.Server

	mu     sync.Mutex
	counts map[string]int

	// Fixture knobs; set before issuing requests.
	PageLimit   int
	Username    string
	Password    string
	KeepaliveOK bool
	PersistFail bool

	Projects  []Obj
	Datasets  map[int64][]Obj // by project
	Images    map[int64][]Obj // by dataset
	ImageByID map[int64]Obj
	Orphaned  []Obj
	Screens   []Obj
	Plates    map[int64][]Obj // by screen
	Acqs      map[int64][]Obj // by plate
	Wells     map[int64][]Obj // by plate
	ROIs      map[int64][]Obj // roi containers by image
	ImgData   map[int64]Obj   // webgateway imgData by image

	Persisted    []Obj    // recorded persist_rois bodies
	TileRequests []string // recorded render_image_region URLs
}

// New starts a fake server with empty fixtures.
func New() *Server {
	s := &Server{
		counts:      make(map[string]int),
		PageLimit:   10,
		Username:    "demo",
		Password:    "secret",
		KeepaliveOK: true,
		Datasets:    make(map[int64][]Obj),
		Images:      make(map[int64][]Obj),
		ImageByID:   make(map[int64]Obj),
		Plates:      make(map[int64][]Obj),
		Acqs:        make(map[int64][]Obj),
		Wells:       make(map[int64][]Obj),
		ROIs:        make(map[int64][]Obj),
		ImgData:     make(map[int64]Obj),
	}
	s.httpServer = httptest.NewServer(s.router())
	return s
}

// URL returns the base URL of the fake server.
func (s *Server) URL() string { return s.httpServer.URL }

// Close shuts the fake down.
func (s *Server) Close() { s.httpServer.Close() }

// Count returns how many requests hit the given path.
func (s *Server) Count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[path]
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.counts[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Referer", "X-CSRFToken"},
		AllowCredentials: true,
	}))
	r.Use(s.record)

	r.Get("/api/", s.handleVersions)
	r.Route("/api/v0", func(r chi.Router) {
		r.Get("/", s.handleLinks)
		r.Get("/token/", s.handleToken)
		r.Get("/servers/", s.handleServers)
		r.Post("/login/", s.handleLogin)
		r.Route("/m", func(r chi.Router) {
			r.Get("/projects/", func(w http.ResponseWriter, r *http.Request) {
				s.paginate(w, r, s.Projects)
			})
			r.Get("/projects/{id}/datasets/", s.childList(func(id int64) []Obj { return s.Datasets[id] }))
			r.Get("/datasets/{id}/images/", s.childList(func(id int64) []Obj { return s.Images[id] }))
			r.Get("/screens/", func(w http.ResponseWriter, r *http.Request) {
				s.paginate(w, r, s.Screens)
			})
			r.Get("/screens/{id}/plates/", s.childList(func(id int64) []Obj { return s.Plates[id] }))
			r.Get("/plates/{id}/plateacquisitions/", s.childList(func(id int64) []Obj { return s.Acqs[id] }))
			r.Get("/plates/{id}/wells/", s.childList(func(id int64) []Obj { return s.Wells[id] }))
			r.Get("/images/", s.handleImages)
			r.Get("/images/{id}/", s.handleImage)
			r.Get("/rois/", s.handleROIs)
		})
	})

	r.Get("/webclient/keepalive_ping/", s.handleKeepalive)
	r.Post("/webclient/logout/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/static/webclient/image/{name}", s.handleIcon)
	r.Get("/webgateway/render_thumbnail/{id}/{size}/", s.handleThumbnail)
	r.Get("/webgateway/imgData/{id}/", s.handleImgData)
	r.Get("/webgateway/render_image_region/{id}/{z}/{t}/", s.handleRegion)

	r.Post("/iviewer/persist_rois/", s.handlePersist)

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, Obj{"data": []Obj{
		{"version": "0", "url:base": s.URL() + "/api/v0/"},
	}})
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	base := s.URL()
	writeJSON(w, Obj{
		"url:projects": base + "/api/v0/m/projects/",
		"url:datasets": base + "/api/v0/m/datasets/",
		"url:images":   base + "/api/v0/m/images/",
		"url:screens":  base + "/api/v0/m/screens/",
		"url:plates":   base + "/api/v0/m/plates/",
		"url:rois":     base + "/api/v0/m/rois/",
		"url:token":    base + "/api/v0/token/",
		"url:servers":  base + "/api/v0/servers/",
		"url:login":    base + "/api/v0/login/",
	})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: Token, Path: "/"})
	writeJSON(w, Obj{"data": Token})
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, Obj{"data": []Obj{
		{"id": 1, "server": "omero", "host": "localhost", "port": 4064},
	}})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-CSRFToken") != Token {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, Obj{"message": "CSRF token missing"})
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.PostFormValue("username") != s.Username || r.PostFormValue("password") != s.Password {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, Obj{"message": "Invalid credentials"})
		return
	}
	writeJSON(w, Obj{"success": true, "eventContext": Obj{"userName": s.Username}})
}

func (s *Server) handleKeepalive(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ok := s.KeepaliveOK
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write([]byte("OK"))
}

// SetKeepalive toggles keep-alive ping success.
func (s *Server) SetKeepalive(ok bool) {
	s.mu.Lock()
	s.KeepaliveOK = ok
	s.mu.Unlock()
}

func (s *Server) childList(get func(id int64) []Obj) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.paginate(w, r, get(id))
	}
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("orphaned") == "true" {
		s.paginate(w, r, s.Orphaned)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	obj, ok := s.ImageByID[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, Obj{"data": obj})
}

func (s *Server) handleROIs(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("image"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.paginate(w, r, s.ROIs[id])
}

// paginate serves one page of a list in the OMERO envelope.
func (s *Server) paginate(w http.ResponseWriter, r *http.Request, items []Obj) {
	limit := s.PageLimit
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, _ = strconv.Atoi(v)
	}
	end := offset + limit
	if offset > len(items) {
		offset = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	writeJSON(w, Obj{
		"meta": Obj{"limit": limit, "offset": offset, "totalCount": len(items)},
		"data": items[offset:end],
	})
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var sum int64
	for _, c := range name {
		sum += int64(c)
	}
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	fill(img, color.RGBA{uint8(sum * 31), uint8(sum * 17), uint8(sum * 7), 255})
	w.Header().Set("Content-Type", "image/png")
	png.Encode(w, img)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	size, err := strconv.Atoi(chi.URLParam(r, "size"))
	if err != nil || size <= 0 {
		size = 96
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	fill(img, color.RGBA{uint8(id * 37), uint8(id * 59), uint8(id * 83), 255})
	w.Header().Set("Content-Type", "image/png")
	png.Encode(w, img)
}

func (s *Server) handleImgData(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	obj, ok := s.ImgData[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, obj)
}

// handleRegion serves render_image_region in both region and tile mode.
// Grayscale requests (m=g) get a PNG plane whose uniform value encodes the
// requested channel; anything else gets a JPEG RGB fill.
func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.TileRequests = append(s.TileRequests, r.URL.RequestURI())
	s.mu.Unlock()

	q := r.URL.Query()
	width, height := 256, 256
	if spec := q.Get("region"); spec != "" {
		if parts := strings.Split(spec, ","); len(parts) == 4 {
			width, _ = strconv.Atoi(parts[2])
			height, _ = strconv.Atoi(parts[3])
		}
	} else if spec := q.Get("tile"); spec != "" {
		if parts := strings.Split(spec, ","); len(parts) >= 5 {
			width, _ = strconv.Atoi(parts[3])
			height, _ = strconv.Atoi(parts[4])
		}
	}
	if width <= 0 || height <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if q.Get("m") == "g" {
		// One plane per channel: value 50*(channel+1).
		channel := 0
		if c := q.Get("c"); c != "" {
			idx := strings.SplitN(c, "|", 2)[0]
			channel, _ = strconv.Atoi(strings.TrimPrefix(idx, "+"))
			if channel < 0 {
				channel = -channel
			}
		}
		img := image.NewGray(image.Rect(0, 0, width, height))
		v := uint8(50 * channel)
		for i := range img.Pix {
			img.Pix[i] = v
		}
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, img)
		return
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill(img, color.RGBA{200, 100, 50, 255})
	w.Header().Set("Content-Type", "image/jpeg")
	jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-CSRFToken") != Token {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var payload Obj
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.Persisted = append(s.Persisted, payload)
	fail := s.PersistFail
	s.mu.Unlock()
	if fail {
		writeJSON(w, Obj{"error": "persist failed"})
		return
	}
	writeJSON(w, Obj{"ids": []string{}})
}

func fill(img *image.RGBA, c color.RGBA) {
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		for x := img.Rect.Min.X; x < img.Rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// --- fixture builders ---

// Entity builds a minimal typed node.
func Entity(kind string, id int64, name string) Obj {
	return Obj{"@type": Schema + kind, "@id": id, "Name": name}
}

// WithChildCount sets the child-count hint on a node.
func WithChildCount(o Obj, n int) Obj {
	o["omero:childCount"] = n
	return o
}

// WithDetails attaches owner/group details to a node.
func WithDetails(o Obj, ownerID int64, first, last string, groupID int64, group string) Obj {
	o["omero:details"] = Obj{
		"owner": Obj{"@id": ownerID, "FirstName": first, "LastName": last},
		"group": Obj{"@id": groupID, "Name": group},
	}
	return o
}

// ImageObj builds an image node with pixel geometry.
func ImageObj(id int64, name string, sizeX, sizeY, sizeC, sizeZ, sizeT int, pixelType string) Obj {
	o := Entity("Image", id, name)
	o["Pixels"] = Obj{
		"SizeX": sizeX, "SizeY": sizeY, "SizeC": sizeC, "SizeZ": sizeZ, "SizeT": sizeT,
		"Type": Obj{"value": pixelType},
	}
	return o
}

// WellObj builds a well node with its samples.
func WellObj(id int64, row, col int, samples ...Obj) Obj {
	o := Entity("Well", id, "")
	o["Row"] = row
	o["Column"] = col
	o["WellSamples"] = samples
	return o
}

// WellSampleObj pairs a sample image with an acquisition; id 0 leaves the
// sample outside any acquisition.
func WellSampleObj(img Obj, acquisitionID int64) Obj {
	s := Obj{"Image": img}
	if acquisitionID != 0 {
		s["PlateAcquisition"] = Obj{"@id": acquisitionID}
	}
	return s
}

// ROIObj builds a roi container with nested shapes.
func ROIObj(id int64, shapes ...Obj) Obj {
	return Obj{"@type": Schema + "Roi", "@id": id, "shapes": shapes}
}

// RectangleObj builds a rectangle shape node.
func RectangleObj(id int64, x, y, w, h float64) Obj {
	return Obj{"@type": Schema + "Rectangle", "@id": id, "X": x, "Y": y, "Width": w, "Height": h}
}

// ImgDataObj builds the webgateway imgData metadata document.
func ImgDataObj(width, height, c, z, t, levels, tileW, tileH int, pixelType string, rgb bool) Obj {
	model := "greyscale"
	if rgb {
		model = "color"
	}
	return Obj{
		"size": Obj{
			"width": width, "height": height,
			"c": c, "z": z, "t": t,
		},
		"levels":    levels,
		"tiles":     levels > 1,
		"tile_size": Obj{"width": tileW, "height": tileH},
		"meta":      Obj{"pixelsType": pixelType},
		"rdefs":     Obj{"model": model},
	}
}

// RegionURL formats a fake-relative render_image_region URL for assertions.
func RegionURL(imageID int64, z, t int) string {
	return fmt.Sprintf("/webgateway/render_image_region/%d/%d/%d/", imageID, z, t)
}

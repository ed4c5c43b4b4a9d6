// Package roi synchronizes ROI shapes between an image and the server.
package roi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/omero-web/client/internal/model"
	"github.com/omero-web/client/internal/rest"
)

// Read fetches every shape attached to an image. ROI containers arrive
// paginated; each nested shape is tagged with its owning ROI id so it can
// later be referenced for deletion.
func Read(ctx context.Context, rc *rest.Client, roisURL string, imageID int64) []model.Shape {
	uri := fmt.Sprintf("%s?image=%d", roisURL, imageID)
	raws := rc.GetPaginated(ctx, uri)

	var out []model.Shape
	for _, raw := range raws {
		var container struct {
			ID     int64             `json:"@id"`
			Shapes []json.RawMessage `json:"shapes"`
		}
		if err := json.Unmarshal(raw, &container); err != nil {
			log.Printf("[ROI] skipping malformed roi container: %v", err)
			continue
		}
		for _, s := range model.DecodeShapeList(container.Shapes) {
			s.SetROI(container.ID)
			out = append(out, s)
		}
	}
	return out
}

// Write persists shape additions and removals in a single POST: the body
// carries the full payload of every addition and the id-references of every
// removal, so a replace never exposes a window with zero ROIs. The server
// either accepts the whole batch or answers with a body containing "error",
// which is treated as total failure; partial success is not detectable.
func Write(ctx context.Context, rc *rest.Client, persistURL, referer, token string, imageID int64, add, remove []model.Shape) bool {
	newShapes := make([]map[string]any, 0, len(add))
	for _, s := range add {
		newShapes = append(newShapes, model.EncodeShape(s))
	}

	deleted := make(map[string][]string)
	for _, s := range remove {
		parts := strings.SplitN(s.OldID(), ":", 2)
		if len(parts) != 2 || parts[0] == "0" {
			log.Printf("[ROI] skipping removal without a server id: %s", s.OldID())
			continue
		}
		deleted[parts[0]] = append(deleted[parts[0]], parts[1])
	}

	body := map[string]any{
		"imageId": strconv.FormatInt(imageID, 10),
		"rois": map[string]any{
			"count":      len(add) + len(remove),
			"empty_rois": map[string]any{},
			"new":        newShapes,
			"deleted":    deleted,
		},
	}

	resp, ok := rc.PostJSON(ctx, persistURL, body, referer, token)
	if !ok {
		return false
	}
	if strings.Contains(strings.ToLower(string(resp)), "error") {
		log.Printf("[ROI] persist rejected for image %d", imageID)
		return false
	}
	return true
}

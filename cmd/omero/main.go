// Package main is the command line client for browsing an OMERO web server:
// printing the entity hierarchy, exporting rendered tiles and dumping ROIs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/omero-web/client/internal/client"
	"github.com/omero-web/client/internal/config"
	"github.com/omero-web/client/internal/model"
	"github.com/omero-web/client/internal/render"
	"github.com/omero-web/client/internal/tree"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: omero [flags] <command>

Commands:
  tree    print the server's entity hierarchy
  tile    export one rendered tile as PNG
  rois    dump an image's ROI shapes as JSON

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "config/client.yaml", "Path to configuration file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Server.Host == "" {
		log.Fatal("No server host configured")
	}

	ctx := context.Background()
	registry := client.NewRegistry()
	gw, err := client.Connect(ctx, registry, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", cfg.Server.Host, err)
	}
	defer registry.CloseAll()

	if cfg.Server.Username != "" {
		result := gw.Login(ctx, client.Credentials{
			Username: cfg.Server.Username,
			Password: []byte(cfg.Server.Password),
		})
		if result != client.LoginSuccess {
			log.Fatalf("Login as %s failed: %s", cfg.Server.Username, result)
		}
		log.Printf("Logged in to %s as %s", gw.Host(), cfg.Server.Username)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]
	switch command {
	case "tree":
		err = runTree(ctx, gw, args)
	case "tile":
		err = runTile(ctx, gw, cfg, args)
	case "rois":
		err = runROIs(ctx, gw, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func runTree(ctx context.Context, gw *client.Gateway, args []string) error {
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	name := fs.String("name", "", "Only list entities whose name contains this substring")
	depth := fs.Int("depth", 3, "Maximum expansion depth")
	fs.Parse(args)

	root := tree.NewServer(gw)
	printNode(ctx, root, tree.Filter{Name: *name}, 0, *depth)
	return nil
}

func printNode(ctx context.Context, n *tree.Node, f tree.Filter, depth, maxDepth int) {
	fmt.Printf("%s%s\n", strings.Repeat("  ", depth), n.Describe())
	if depth >= maxDepth {
		return
	}
	for _, c := range n.FilterChildren(ctx, f) {
		printNode(ctx, c, f, depth+1, maxDepth)
	}
}

func runTile(ctx context.Context, gw *client.Gateway, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("tile", flag.ExitOnError)
	imageID := fs.Int64("image", 0, "Image id")
	level := fs.Int("level", 0, "Pyramid level, 0 = full resolution")
	x := fs.Int("x", 0, "Region origin x within the level")
	y := fs.Int("y", 0, "Region origin y within the level")
	width := fs.Int("w", 0, "Region width (default: preferred tile size)")
	height := fs.Int("h", 0, "Region height (default: preferred tile size)")
	z := fs.Int("z", 0, "Z slice")
	tp := fs.Int("t", 0, "Timepoint")
	withROIs := fs.Bool("rois", false, "Overlay the image's ROI shapes")
	out := fs.String("o", "tile.png", "Output PNG path")
	fs.Parse(args)

	if *imageID == 0 {
		return fmt.Errorf("missing -image")
	}
	if *width <= 0 {
		*width = cfg.Tiles.PreferredTileSize
	}
	if *height <= 0 {
		*height = cfg.Tiles.PreferredTileSize
	}

	reader, ok := gw.TileReader(ctx, *imageID)
	if !ok {
		return fmt.Errorf("no rendering metadata for image %d", *imageID)
	}
	req := render.TileRequest{
		Level: *level, X: *x, Y: *y,
		Width: *width, Height: *height,
		Z: *z, T: *tp,
	}
	img, ok := reader.ReadTile(ctx, req, 0, 0)
	if !ok {
		return fmt.Errorf("tile read failed for image %d", *imageID)
	}

	if *withROIs {
		shapes := gw.ROIs(ctx, *imageID)
		// Shapes are stored in full-resolution coordinates; the request
		// origin is in level coordinates of a factor-2 pyramid.
		downsample := float64(int(1) << *level)
		img = render.Overlay(img, shapes,
			float64(*x)*downsample, float64(*y)*downsample, 1/downsample)
		log.Printf("Overlaid %d shapes", len(shapes))
	}

	data, err := render.EncodePNG(img)
	if err != nil {
		return fmt.Errorf("encoding tile: %w", err)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	log.Printf("Wrote %s (%dx%d)", *out, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}

func runROIs(ctx context.Context, gw *client.Gateway, args []string) error {
	fs := flag.NewFlagSet("rois", flag.ExitOnError)
	imageID := fs.Int64("image", 0, "Image id")
	fs.Parse(args)

	if *imageID == 0 {
		return fmt.Errorf("missing -image")
	}

	shapes := gw.ROIs(ctx, *imageID)
	docs := make([]map[string]any, 0, len(shapes))
	for _, s := range shapes {
		docs = append(docs, model.EncodeShape(s))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(docs)
}

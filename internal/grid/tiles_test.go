package grid

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestLatLonToTile(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		zoom     int
		wantX    int
		wantY    int
	}{
		{
			name:  "London at zoom 10",
			lat:   51.5074,
			lon:   -0.1278,
			zoom:  10,
			wantX: 511,
			wantY: 340,
		},
		{
			name:  "Monaco at zoom 12",
			lat:   43.7384,
			lon:   7.4246,
			zoom:  12,
			wantX: 2132,
			wantY: 1493,
		},
		{
			name:  "Origin at zoom 0",
			lat:   0,
			lon:   0,
			zoom:  0,
			wantX: 0,
			wantY: 0,
		},
		{
			name:  "Origin at zoom 1",
			lat:   0,
			lon:   0,
			zoom:  1,
			wantX: 1,
			wantY: 1,
		},
		{
			name:  "Date line clamps to last column",
			lat:   0,
			lon:   180,
			zoom:  2,
			wantX: 3,
			wantY: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tile := LatLonToTile(tt.lat, tt.lon, tt.zoom)
			if tile.X != tt.wantX || tile.Y != tt.wantY {
				t.Errorf("LatLonToTile(%f, %f, %d) = (%d, %d), want (%d, %d)",
					tt.lat, tt.lon, tt.zoom, tile.X, tile.Y, tt.wantX, tt.wantY)
			}
		})
	}
}

func TestTileBound(t *testing.T) {
	b := Tile{Z: 1, X: 1, Y: 0}.Bound()

	if b.Left() != 0 || b.Right() != 180 {
		t.Errorf("lon range = [%f, %f], want [0, 180]", b.Left(), b.Right())
	}
	if math.Abs(b.Bottom()) > 1e-9 {
		t.Errorf("bottom = %f, want 0", b.Bottom())
	}
	if math.Abs(b.Top()-MaxMercatorLat) > 1e-6 {
		t.Errorf("top = %f, want %f", b.Top(), MaxMercatorLat)
	}
}

func TestTileBoundRoundTrip(t *testing.T) {
	// the centre of a tile's bound maps back to the same tile
	for _, tile := range []Tile{{10, 511, 340}, {12, 2132, 1493}, {3, 0, 7}} {
		c := tile.Bound().Center()
		if got := LatLonToTile(c.Lat(), c.Lon(), tile.Z); got != tile {
			t.Errorf("centre of %s maps to %s", tile, got)
		}
	}
}

func TestBoundToTileRange(t *testing.T) {
	// Monaco bounding box
	b := orb.Bound{Min: orb.Point{7.409, 43.724}, Max: orb.Point{7.440, 43.752}}

	r := BoundToTileRange(b, 14)

	if r.TileCount() < 1 {
		t.Error("expected at least one tile")
	}
	if r.MinX > r.MaxX || r.MinY > r.MaxY {
		t.Errorf("invalid range: %+v", r)
	}
	if len(r.Tiles()) != r.TileCount() {
		t.Errorf("Tiles() returned %d tiles, TileCount() = %d", len(r.Tiles()), r.TileCount())
	}
}

func TestSpecs(t *testing.T) {
	area := orb.Bound{Min: orb.Point{-10, -10}, Max: orb.Point{10, 10}}

	specs, err := Specs(1, area, "out/{z}/{x}/{y}.osm.pbf", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 4 {
		t.Fatalf("expected 4 specs, got %d", len(specs))
	}

	want := []string{"out/1/0/0.osm.pbf", "out/1/1/0.osm.pbf", "out/1/0/1.osm.pbf", "out/1/1/1.osm.pbf"}
	tiles := []Tile{{1, 0, 0}, {1, 1, 0}, {1, 0, 1}, {1, 1, 1}}
	for i, s := range specs {
		if s.Output != want[i] {
			t.Errorf("spec %d output = %q, want %q", i, s.Output, want[i])
		}
		if s.Bounds != tiles[i].Bound() {
			t.Errorf("spec %d bounds = %v, want tile bound", i, s.Bounds)
		}
	}
}

func TestSpecsBuffer(t *testing.T) {
	area := orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{2, 2}}

	specs, err := Specs(0, area, "world.osm.pbf", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	if specs[0].Bounds.Left() != -180.5 || specs[0].Bounds.Right() != 180.5 {
		t.Errorf("buffered bounds = %v", specs[0].Bounds)
	}
}

func TestSpecsErrors(t *testing.T) {
	world := orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}

	tests := []struct {
		name     string
		zoom     int
		template string
		buffer   float64
	}{
		{"negative zoom", -1, "{z}/{x}/{y}.pbf", 0},
		{"zoom too high", MaxZoom + 1, "{z}/{x}/{y}.pbf", 0},
		{"too many tiles", 10, "{z}/{x}/{y}.pbf", 0},
		{"template without placeholders", 2, "out.pbf", 0},
		{"negative buffer", 1, "{z}/{x}/{y}.pbf", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Specs(tt.zoom, world, tt.template, tt.buffer); err == nil {
				t.Error("expected error but got none")
			}
		})
	}
}

func TestExpandTemplate(t *testing.T) {
	got := ExpandTemplate("tiles/{z}-{x}-{y}.osm", Tile{Z: 5, X: 17, Y: 9})
	if got != "tiles/5-17-9.osm" {
		t.Errorf("ExpandTemplate = %q", got)
	}
}

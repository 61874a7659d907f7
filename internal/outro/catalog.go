// Package outro holds the static catalog of branded outro clips and the pure
// selection rule that maps a probed source resolution onto one of them.
package outro

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is a coarse resolution bucket an outro was pre-rendered for.
type Tier string

const (
	// Tier720 covers 1280x720 landscape and 720x1280 portrait sources.
	Tier720 Tier = "tier720"
	// TierDefault covers every other source resolution.
	TierDefault Tier = "default"
)

// Orientation is landscape or portrait, derived from the pixel ratio.
type Orientation string

const (
	// Landscape means width/height > 1.
	Landscape Orientation = "landscape"
	// Portrait means width/height <= 1, square included.
	Portrait Orientation = "portrait"
)

// Key addresses one catalog entry.
type Key struct {
	Tier        Tier
	Orientation Orientation
}

func (k Key) String() string {
	return string(k.Tier) + "/" + string(k.Orientation)
}

// ErrMissingEntry is returned when a catalog is built without all four URLs.
var ErrMissingEntry = errors.New("outro: catalog requires a URL for every tier and orientation")

// URLs lists the four outro asset locations a Catalog is built from.
type URLs struct {
	Tier720Landscape     string
	Tier720Portrait      string
	TierDefaultLandscape string
	TierDefaultPortrait  string
}

// Catalog is the read-only mapping from Key to outro asset URL.
// It always holds exactly four entries.
type Catalog struct {
	entries map[Key]string
}

// NewCatalog builds a Catalog. Every URL must be non-empty.
func NewCatalog(u URLs) (*Catalog, error) {
	entries := map[Key]string{
		{Tier720, Landscape}:     u.Tier720Landscape,
		{Tier720, Portrait}:      u.Tier720Portrait,
		{TierDefault, Landscape}: u.TierDefaultLandscape,
		{TierDefault, Portrait}:  u.TierDefaultPortrait,
	}
	for k, v := range entries {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingEntry, k)
		}
	}
	return &Catalog{entries: entries}, nil
}

// Len returns the number of entries, which is always four.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// URL returns the asset URL for k.
func (c *Catalog) URL(k Key) string {
	return c.entries[k]
}

// Select picks the outro for a source of the given pixel dimensions.
// It never fails: resolutions outside the 720 tier fall back to TierDefault.
func (c *Catalog) Select(width, height int) (string, Key) {
	k := KeyFor(width, height)
	return c.entries[k], k
}

// KeyFor derives the catalog key for the given dimensions.
func KeyFor(width, height int) Key {
	return Key{
		Tier:        TierFor(height),
		Orientation: OrientationFor(width, height),
	}
}

// TierFor returns Tier720 when height is 720 or 1280, TierDefault otherwise.
func TierFor(height int) Tier {
	if height == 720 || height == 1280 {
		return Tier720
	}
	return TierDefault
}

// OrientationFor returns Landscape iff width/height > 1.
func OrientationFor(width, height int) Orientation {
	if height > 0 && float64(width)/float64(height) > 1 {
		return Landscape
	}
	return Portrait
}

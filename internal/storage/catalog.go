package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/vitali-fedulov/imagehash2"
	"github.com/vitali-fedulov/images4"

	"image-stand/internal/logging"
	"image-stand/internal/raster"
)

const (
	// imagehash2 parameters for near-duplicate lookup
	hashNumBuckets = 4
	hashEpsilon    = 0.25
)

// Entry describes one stored image.
type Entry struct {
	Name        string    `json:"name"`
	SHA256      string    `json:"sha256"`
	ImageHash   uint64    `json:"image_hash"`
	AddedAt     time.Time `json:"added_at"`
	DuplicateOf string    `json:"duplicate_of,omitempty"`
}

type catalogIndex struct {
	UpdatedAt time.Time `json:"updated_at"`
	Items     []Entry   `json:"items"`
}

// Catalog is a JSON index of stored images with a perceptual hash per image, used
// to flag generated images that look like ones already kept.
type Catalog struct {
	store Store
	key   string
	log   *logging.Logger

	mu    sync.Mutex
	index *catalogIndex
}

func NewCatalog(store Store, key string, log *logging.Logger) *Catalog {
	if log == nil {
		log = logging.Discard()
	}
	return &Catalog{store: store, key: key, log: log}
}

// Fingerprint computes the SHA-256 and the central perceptual hash of an image.
func Fingerprint(data []byte) (Entry, error) {
	entry, _, err := fingerprint(data)
	return entry, err
}

func fingerprint(data []byte) (Entry, images4.IconT, error) {
	img, _, err := raster.Decode(data)
	if err != nil {
		return Entry{}, images4.IconT{}, fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	icon := images4.Icon(img)
	return Entry{
		SHA256:    hex.EncodeToString(sum[:]),
		ImageHash: imagehash2.CentralHash9(icon, hashEpsilon, hashNumBuckets),
	}, icon, nil
}

// HammingDistance counts differing bits between two perceptual hashes.
func HammingDistance(h1, h2 uint64) int {
	return bits.OnesCount64(h1 ^ h2)
}

// Add fingerprints data, records it under name and returns the entry. DuplicateOf is
// set when an existing image has the same bytes or a matching perceptual hash.
func (c *Catalog) Add(ctx context.Context, name string, data []byte) (Entry, error) {
	entry, icon, err := fingerprint(data)
	if err != nil {
		return Entry{}, err
	}
	hashSet := imagehash2.HashSet9(icon, hashEpsilon, hashNumBuckets)

	entry.Name = name
	entry.AddedAt = time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.load(ctx)
	if err != nil {
		return Entry{}, err
	}

	for _, existing := range idx.Items {
		if existing.Name == name {
			continue
		}
		if existing.SHA256 == entry.SHA256 || lo.Contains(hashSet, existing.ImageHash) {
			entry.DuplicateOf = existing.Name
			c.log.Infof("catalog: %s looks like existing image %s", name, existing.Name)
			break
		}
	}

	idx.Items = append(lo.Reject(idx.Items, func(e Entry, _ int) bool { return e.Name == name }), entry)
	return entry, c.save(ctx, idx)
}

// Remove drops name from the index. Unknown names are ignored.
func (c *Catalog) Remove(ctx context.Context, names ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.load(ctx)
	if err != nil {
		return err
	}
	before := len(idx.Items)
	idx.Items = lo.Reject(idx.Items, func(e Entry, _ int) bool { return lo.Contains(names, e.Name) })
	if len(idx.Items) == before {
		return nil
	}
	return c.save(ctx, idx)
}

// Entries returns a copy of the index keyed by image name.
func (c *Catalog) Entries(ctx context.Context) (map[string]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	return lo.KeyBy(idx.Items, func(e Entry) string { return e.Name }), nil
}

func (c *Catalog) load(ctx context.Context) (*catalogIndex, error) {
	if c.index != nil {
		return c.index, nil
	}
	var idx catalogIndex
	found, err := c.store.ReadJSON(ctx, c.key, &idx)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if !found {
		idx = catalogIndex{Items: []Entry{}}
	}
	c.index = &idx
	return c.index, nil
}

func (c *Catalog) save(ctx context.Context, idx *catalogIndex) error {
	idx.UpdatedAt = time.Now().UTC()
	if err := c.store.WriteJSON(ctx, c.key, idx); err != nil {
		// Force a reload next time so memory does not drift from the stored copy.
		c.index = nil
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

package rastreader

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prl900/bandstack/band"
	"github.com/prl900/bandstack/catalog"
)

// DefaultIndex is the name of the index object at the store root.
const DefaultIndex = "catalog.json"

// Catalog implements catalog.Catalog over a Store.
type Catalog struct {
	store     Store
	indexName string
	log       *zap.Logger

	// Workers bounds concurrent tile reads.
	Workers int

	mu  sync.Mutex
	idx Index
}

// NewCatalog serves the index object indexName of s. Tile object names in
// the index are relative to the index location.
func NewCatalog(s Store, indexName string, log *zap.Logger) *Catalog {
	if indexName == "" {
		indexName = DefaultIndex
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Catalog{store: s, indexName: indexName, log: log, Workers: 16}
}

// index loads the index once; failures are not cached so a retry can
// succeed.
func (c *Catalog) index(ctx context.Context) (Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx != nil {
		return c.idx, nil
	}
	idx, err := ReadIndex(ctx, c.store, c.indexName)
	if err != nil {
		return nil, err
	}
	c.idx = idx
	return idx, nil
}

func (c *Catalog) objectName(name string) string {
	return path.Join(path.Dir(c.indexName), name)
}

func (c *Catalog) Search(ctx context.Context, q catalog.Query) ([]catalog.Scene, error) {
	idx, err := c.index(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &catalog.CatalogUnavailableError{CatalogID: q.CatalogID, Cause: err}
	}
	coll, ok := idx[q.CatalogID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownCatalog, q.CatalogID)
	}
	known := make(map[string]bool, len(coll.Bands))
	for _, b := range coll.Bands {
		known[b] = true
	}
	for _, b := range q.Bands {
		if !known[b] {
			return nil, &catalog.UnknownBandError{CatalogID: q.CatalogID, Band: b}
		}
	}

	var scenes []catalog.Scene
	var records []SceneRecord
	for _, rec := range coll.Scenes {
		sc, err := c.sceneInfo(coll, rec)
		if err != nil {
			return nil, fmt.Errorf("%s scene %s: %v", q.CatalogID, rec.ID, err)
		}
		if ok, _ := q.Matches(&sc); !ok {
			continue
		}
		hit, err := sc.Intersects(q.Region)
		if err != nil {
			return nil, err
		}
		if !hit {
			continue
		}
		scenes = append(scenes, sc)
		records = append(records, rec)
	}
	c.log.Debug("Scenes matched", zap.String("catalog", q.CatalogID), zap.Int("scenes", len(scenes)))

	if err := c.readTiles(ctx, q, scenes, records); err != nil {
		return nil, err
	}
	return scenes, nil
}

// sceneInfo builds the scene metadata without reading pixels.
func (c *Catalog) sceneInfo(coll Collection, rec SceneRecord) (catalog.Scene, error) {
	// static collections may leave the date out
	var date time.Time
	if !coll.Static || rec.Date != "" {
		var err error
		if date, err = parseDate(rec.Date); err != nil {
			return catalog.Scene{}, err
		}
	}
	g, err := band.FromGeoTransform(coll.CRS, coll.Scale, rec.Geotransform, rec.XSize, rec.YSize)
	if err != nil {
		return catalog.Scene{}, err
	}
	return catalog.Scene{
		ID:         rec.ID,
		Date:       date,
		Properties: rec.Properties,
		Grid:       g,
		Bands:      make(map[string]*catalog.BandData),
	}, nil
}

type tileJob struct {
	scene  int
	band   string
	object string
	dtype  string
}

// readTiles fetches every requested band tile (and mask) of the selected
// scenes concurrently.
func (c *Catalog) readTiles(ctx context.Context, q catalog.Query, scenes []catalog.Scene, records []SceneRecord) error {
	var jobs []tileJob
	for i, rec := range records {
		for _, name := range q.Bands {
			br, ok := rec.Bands[name]
			if !ok {
				return &catalog.UnknownBandError{CatalogID: q.CatalogID, Band: name, Scene: rec.ID}
			}
			scenes[i].Bands[name] = &catalog.BandData{Scale: br.Scale, Offset: br.Offset}
			if scenes[i].Bands[name].Scale == 0 {
				scenes[i].Bands[name].Scale = 1
			}
			if br.NoData != nil {
				scenes[i].Bands[name].NoData = float32(*br.NoData)
				scenes[i].Bands[name].HasNoData = true
			}
			jobs = append(jobs, tileJob{scene: i, band: name, object: br.Object, dtype: br.DType})
		}
		if rec.Mask != "" {
			jobs = append(jobs, tileJob{scene: i, object: rec.Mask, dtype: "uint8"})
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	sem := make(chan struct{}, max(c.Workers, 1))
	for _, j := range jobs {
		wg.Add(1)
		go func(j tileJob) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			pix, err := c.readTile(ctx, j, scenes[j.scene].Grid)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			sc := &scenes[j.scene]
			if j.band == "" {
				sc.Mask = make([]bool, len(pix))
				for i, v := range pix {
					sc.Mask[i] = v == 0
				}
				return
			}
			sc.Bands[j.band].Raw = pix
		}(j)
	}
	wg.Wait()

	if firstErr != nil {
		return c.tileError(q, firstErr)
	}
	return ctx.Err()
}

func (c *Catalog) readTile(ctx context.Context, j tileJob, g band.Grid) ([]float32, error) {
	name := c.objectName(j.object)
	cdata, err := readObject(ctx, c.store, name)
	if err != nil {
		return nil, err
	}
	pix, err := decodeTile(j.dtype, cdata)
	if err != nil {
		return nil, &corruptTileError{object: name, msg: err.Error()}
	}
	if len(pix) != g.Width*g.Height {
		return nil, &corruptTileError{object: name, msg: fmt.Sprintf("%d pixels for a %dx%d scene", len(pix), g.Width, g.Height)}
	}
	return pix, nil
}

type corruptTileError struct {
	object string
	msg    string
}

func (e *corruptTileError) Error() string {
	return fmt.Sprintf("corrupt tile %s: %s", e.object, e.msg)
}

// tileError keeps missing or corrupt tiles fatal and reports everything
// else as a transient catalog failure.
func (c *Catalog) tileError(q catalog.Query, err error) error {
	var corrupt *corruptTileError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrNotFound), errors.As(err, &corrupt):
		return fmt.Errorf("%s: %w", q.CatalogID, err)
	}
	return &catalog.CatalogUnavailableError{CatalogID: q.CatalogID, Cause: err}
}

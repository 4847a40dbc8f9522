/*
Copyright © 2025 the Clyfar authors.
This file is part of Clyfar.

Clyfar is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Clyfar is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Clyfar.  If not, see <http://www.gnu.org/licenses/>.
*/

package nwp

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/ctessum/requestcache"
	"github.com/ctessum/sparse"

	"github.com/bingham-research-center/clyfar"
)

// Caching wraps a Provider with deduplicated in-memory and on-disk
// caching keyed by (init, lead, variable, resolution, member). Disk
// entries are written atomically, so concurrent writers to distinct keys
// are safe.
type Caching struct {
	Provider Provider
	// Dir is the disk cache directory. If empty, only the memory cache
	// is used.
	Dir string
	// MemCacheEntries is the memory cache size; zero means 100.
	MemCacheEntries int
	// Workers is the number of concurrent underlying fetches; zero
	// means 1.
	Workers int

	cache     *requestcache.Cache
	cacheOnce sync.Once
}

type gridRequest struct {
	init   time.Time
	lead   int
	v      clyfar.Variable
	res    clyfar.Resolution
	member clyfar.Member
}

func (r gridRequest) key() string {
	return fmt.Sprintf("grid_%s_f%03d_%s_%s_%s",
		r.init.UTC().Format("2006010215"), r.lead, r.v, r.res, r.member.GEFSLabel())
}

// gridGob is the serializable form of a Grid: sparse.DenseArray carries
// unexported bookkeeping, so the array is rebuilt on load.
type gridGob struct {
	Elements   []float64
	Shape      []int
	Lats, Lons []float64
	ValidTime  time.Time
	Resolution clyfar.Resolution
}

func marshalGrid(data interface{}) ([]byte, error) {
	g := (*data.(*interface{})).(*Grid)
	w := bytes.NewBuffer(nil)
	e := gob.NewEncoder(w)
	err := e.Encode(gridGob{
		Elements:   g.Data.Elements,
		Shape:      g.Data.Shape,
		Lats:       g.Lats,
		Lons:       g.Lons,
		ValidTime:  g.ValidTime,
		Resolution: g.Resolution,
	})
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func unmarshalGrid(b []byte) (interface{}, error) {
	d := gob.NewDecoder(bytes.NewBuffer(b))
	var gg gridGob
	if err := d.Decode(&gg); err != nil {
		return nil, err
	}
	data := sparse.ZerosDense(gg.Shape...)
	copy(data.Elements, gg.Elements)
	return &Grid{
		Data:       data,
		Lats:       gg.Lats,
		Lons:       gg.Lons,
		ValidTime:  gg.ValidTime,
		Resolution: gg.Resolution,
	}, nil
}

func (c *Caching) init() {
	c.cacheOnce.Do(func() {
		workers := c.Workers
		if workers == 0 {
			workers = 1
		}
		entries := c.MemCacheEntries
		if entries == 0 {
			entries = 100
		}
		cacheFuncs := []requestcache.CacheFunc{
			requestcache.Deduplicate(),
			requestcache.Memory(entries),
		}
		if c.Dir != "" {
			cacheFuncs = append(cacheFuncs,
				requestcache.Disk(c.Dir, marshalGrid, unmarshalGrid))
		}
		c.cache = requestcache.NewCache(c.fetchWorker, workers, cacheFuncs...)
	})
}

func (c *Caching) fetchWorker(ctx context.Context, request interface{}) (interface{}, error) {
	req := request.(gridRequest)
	return c.Provider.Fetch(ctx, req.init, req.lead, req.v, req.res, req.member)
}

// Fetch implements Provider.
func (c *Caching) Fetch(ctx context.Context, init time.Time, lead int, v clyfar.Variable,
	res clyfar.Resolution, member clyfar.Member) (*Grid, error) {

	c.init()
	req := gridRequest{init: init, lead: lead, v: v, res: res, member: member}
	r := c.cache.NewRequest(ctx, req, req.key())
	result, err := r.Result()
	if err != nil {
		return nil, err
	}
	return result.(*Grid), nil
}

package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"xvm/internal/asm"
	"xvm/internal/diag"
	"xvm/internal/source"
)

// DefaultMaxDiagnostics bounds the diagnostics collected per file.
const DefaultMaxDiagnostics = 100

// Result is the outcome of loading one program file.
type Result struct {
	Path   string
	Module *asm.Module // nil when Bag has errors or Err is set
	Bag    *diag.Bag
	Cached bool // loaded from the image cache
	Err    error
}

// Load reads a program: an image is decoded directly, assembly source is
// looked up in cache first and assembled on a miss. Diagnostics are
// reported against fs.
func Load(fs *source.FileSet, path string, cache *Cache) Result {
	res := Result{Path: path, Bag: diag.NewBag(DefaultMaxDiagnostics)}
	if filepath.Ext(path) == Ext {
		f, err := os.Open(path)
		if err != nil {
			res.Err = err
			return res
		}
		defer f.Close()
		res.Module, res.Err = Decode(f)
		return res
	}
	id, err := fs.Load(path)
	if err != nil {
		res.Err = err
		return res
	}
	return assemble(fs, id, path, cache, res)
}

func assemble(fs *source.FileSet, id source.FileID, path string, cache *Cache, res Result) Result {
	key := Key(fs.Get(id).Content)
	if mod, ok, err := cache.Get(key); err == nil && ok {
		res.Module, res.Cached = mod, true
		return res
	}
	res.Module = asm.Parse(fs, id, res.Bag)
	if res.Module == nil {
		return res
	}
	if err := cache.Put(key, res.Module); err != nil {
		res.Err = fmt.Errorf("cache %s: %w", path, err)
	}
	return res
}

// AssembleAll loads paths with at most jobs files in flight. Files are
// read into fs up front; results keep the order of paths.
func AssembleAll(ctx context.Context, fs *source.FileSet, paths []string, jobs int, cache *Cache) ([]Result, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	results := make([]Result, len(paths))
	ids := make([]source.FileID, len(paths))
	for i, path := range paths {
		results[i] = Result{Path: path, Bag: diag.NewBag(DefaultMaxDiagnostics)}
		if filepath.Ext(path) == Ext {
			continue
		}
		id, err := fs.Load(path)
		if err != nil {
			results[i].Err = err
			continue
		}
		ids[i] = id
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(paths)))
	for i, path := range paths {
		if results[i].Err != nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if filepath.Ext(path) == Ext {
				results[i] = Load(fs, path, cache)
				return nil
			}
			results[i] = assemble(fs, ids[i], path, cache, results[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

package storage

import (
	"sort"
	"strings"
	"sync"
)

// index is the in-memory metadata cache every store/read/delete/list/
// search call consults, per spec.md §4.H and the "shared-state
// discipline" of §5 (one RWMutex per long-lived collection).
type index struct {
	mu      sync.RWMutex
	objects map[string]*Object // fileID -> object
	byPath  map[string]string  // virtualPath -> fileID
}

func newIndex() *index {
	return &index{
		objects: make(map[string]*Object),
		byPath:  make(map[string]string),
	}
}

func (ix *index) put(obj *Object) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.objects[obj.FileID] = obj
	ix.byPath[obj.VirtualPath] = obj.FileID
}

func (ix *index) getByPath(virtualPath string) (*Object, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	fileID, ok := ix.byPath[virtualPath]
	if !ok {
		return nil, false
	}
	obj, ok := ix.objects[fileID]
	return obj, ok
}

func (ix *index) remove(virtualPath string) (*Object, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	fileID, ok := ix.byPath[virtualPath]
	if !ok {
		return nil, false
	}
	obj := ix.objects[fileID]
	delete(ix.objects, fileID)
	delete(ix.byPath, virtualPath)
	return obj, true
}

// list returns objects under dir: exact-parent when non-recursive,
// any-descendant when recursive, sorted by ModifiedAt descending, per
// spec.md §4.H.
func (ix *index) list(dir string, recursive bool) []Object {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	prefix := strings.TrimSuffix(dir, "/") + "/"
	var out []Object
	for path, fileID := range ix.byPath {
		rest := strings.TrimPrefix(path, prefix)
		if rest == path {
			continue // not under dir at all
		}
		if !recursive && strings.Contains(rest, "/") {
			continue // nested deeper than the immediate child
		}
		out = append(out, *ix.objects[fileID])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedAt.After(out[j].ModifiedAt) })
	return out
}

// search scores filename-contains (+2) and tag-contains (+1) against a
// lowercased query, intersected with filters, per spec.md §4.H.
func (ix *index) search(query string, filters SearchFilters) []SearchResult {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	q := strings.ToLower(query)
	var results []SearchResult
	for _, obj := range ix.objects {
		if !matchesFilters(obj, filters) {
			continue
		}
		score := 0
		if q != "" {
			if strings.Contains(strings.ToLower(obj.Filename), q) {
				score += 2
			}
			for _, tag := range obj.Tags {
				if strings.Contains(strings.ToLower(tag), q) {
					score++
					break
				}
			}
			if score == 0 {
				continue
			}
		}
		results = append(results, SearchResult{Object: *obj, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

func matchesFilters(obj *Object, f SearchFilters) bool {
	if len(f.MimeTypes) > 0 && !containsStr(f.MimeTypes, obj.MimeType) {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, want := range f.Tags {
			if containsStr(obj.Tags, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SizeRange != nil {
		if obj.Size < f.SizeRange.Min || (f.SizeRange.Max > 0 && obj.Size > f.SizeRange.Max) {
			return false
		}
	}
	if f.TimeRange != nil {
		if obj.ModifiedAt.Before(f.TimeRange.From) || obj.ModifiedAt.After(f.TimeRange.To) {
			return false
		}
	}
	return true
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

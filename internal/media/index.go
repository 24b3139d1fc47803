package media

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Kind classifies a file by extension
type Kind int

const (
	KindOther Kind = iota
	KindImage
	KindVideo
	KindScript
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindScript:
		return "js"
	default:
		return "file"
	}
}

var (
	imageExts  = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}}
	videoExts  = map[string]struct{}{".mp4": {}, ".mov": {}, ".m4v": {}, ".webm": {}}
	scriptExts = map[string]struct{}{".js": {}, ".json": {}}
)

// KindOf classifies name by its extension
func KindOf(name string) Kind {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := imageExts[ext]; ok {
		return KindImage
	}
	if _, ok := videoExts[ext]; ok {
		return KindVideo
	}
	if _, ok := scriptExts[ext]; ok {
		return KindScript
	}
	return KindOther
}

// prefixedName matches "{record_id}-{media_id}.{ext}"
var prefixedName = regexp.MustCompile(`^([0-9]+)-([^.]+)\.(.+)$`)

// SplitPrefixed splits "{record_id}-{key}.{ext}" into its parts
func SplitPrefixed(name string) (id, key, ext string, ok bool) {
	m := prefixedName.FindStringSubmatch(name)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}

// Index maps file basenames below a root to their absolute paths. It is
// rebuilt on every run and read-only afterwards.
type Index struct {
	Root    string
	Files   map[string]string
	Images  map[string]string
	Videos  map[string]string
	Scripts map[string]string
	// Paths lists every indexed file, including basename duplicates
	Paths []string
}

// Scan walks root and indexes every regular, non-hidden, non-empty file.
// When two files share a basename the one walked last wins.
func Scan(root string) (*Index, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	ix := &Index{
		Root:    abs,
		Files:   map[string]string{},
		Images:  map[string]string{},
		Videos:  map[string]string{},
		Scripts: map[string]string{},
	}

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != abs && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(name, ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() == 0 {
			return nil
		}
		ix.add(name, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return ix, nil
}

// NewIndex builds an index from basename -> path pairs without touching disk
func NewIndex(root string, files map[string]string) *Index {
	ix := &Index{
		Root:    root,
		Files:   map[string]string{},
		Images:  map[string]string{},
		Videos:  map[string]string{},
		Scripts: map[string]string{},
	}
	for name, path := range files {
		ix.add(name, path)
	}
	return ix
}

func (ix *Index) add(name, path string) {
	ix.Paths = append(ix.Paths, path)
	ix.Files[name] = path
	switch KindOf(name) {
	case KindImage:
		ix.Images[name] = path
	case KindVideo:
		ix.Videos[name] = path
	case KindScript:
		ix.Scripts[name] = path
	}
}

// Lookup finds name among images, then videos, then all files
func (ix *Index) Lookup(name string) (string, Kind, bool) {
	if ix == nil {
		return "", KindOther, false
	}
	if p, ok := ix.Images[name]; ok {
		return p, KindImage, true
	}
	if p, ok := ix.Videos[name]; ok {
		return p, KindVideo, true
	}
	if p, ok := ix.Files[name]; ok {
		return p, KindOther, true
	}
	return "", KindOther, false
}

// Find returns the path of the named file, if indexed
func (ix *Index) Find(name string) (string, bool) {
	p, ok := ix.Files[name]
	return p, ok
}

// GroupByID groups "{record_id}-{key}.{ext}" files of kind by record id.
// KindOther selects every file.
func (ix *Index) GroupByID(kind Kind) map[string]map[string]string {
	src := ix.Files
	switch kind {
	case KindImage:
		src = ix.Images
	case KindVideo:
		src = ix.Videos
	case KindScript:
		src = ix.Scripts
	}
	groups := map[string]map[string]string{}
	for name, path := range src {
		id, _, _, ok := SplitPrefixed(name)
		if !ok {
			continue
		}
		if groups[id] == nil {
			groups[id] = map[string]string{}
		}
		groups[id][name] = path
	}
	return groups
}

// Sorted returns the basenames of m in order
func Sorted(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove deletes the listed paths, collecting failures. Nothing is removed
// when dryRun is set.
func Remove(paths []string, dryRun bool) (removed []string, err error) {
	for _, p := range paths {
		if dryRun {
			removed = append(removed, p)
			continue
		}
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Append(err, rmErr)
			continue
		}
		removed = append(removed, p)
	}
	return removed, err
}

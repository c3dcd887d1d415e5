package files

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/msageha/taskflow/internal/config"
)

// Mapping is one file declaration. With Expand every matched source gets
// its own destination built from Dest, the path relative to Cwd, Ext and
// Flatten. Without Expand all matches form one group writing to Dest.
type Mapping struct {
	Expand  bool
	Cwd     string
	Src     []string
	Dest    string
	Ext     string
	Flatten bool
}

// Group is a destination with the sources that feed it.
type Group struct {
	Dest string
	Src  []string
}

var ErrInvalidMapping = errors.New("invalid file mapping")

// ParseMappings reads the "files" (or target-level "src"/"dest") entry of a
// resolved target. Accepted shapes:
//
//	files: [{expand: true, cwd: less/, src: ["**/*.less"], dest: dist/css/, ext: .css}]
//	files: {dist/app.js: [a.js, b.js]}
//	files: [components, dist]
//	src: [...], dest: out/
func ParseMappings(target any) ([]Mapping, error) {
	switch v := target.(type) {
	case nil:
		return nil, nil
	case string, []any:
		return parseFiles(v)
	case *config.Map:
		if files, ok := v.Get("files"); ok {
			return parseFiles(files)
		}
		if _, ok := v.Get("src"); ok {
			m, err := mappingFrom(v)
			if err != nil {
				return nil, err
			}
			return []Mapping{m}, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %T", ErrInvalidMapping, target)
	}
}

func parseFiles(v any) ([]Mapping, error) {
	switch f := v.(type) {
	case string:
		return []Mapping{{Src: []string{f}}}, nil
	case []any:
		var out []Mapping
		for i, item := range f {
			switch it := item.(type) {
			case string:
				out = append(out, Mapping{Src: []string{it}})
			case *config.Map:
				m, err := mappingFrom(it)
				if err != nil {
					return nil, fmt.Errorf("files[%d]: %w", i, err)
				}
				out = append(out, m)
			default:
				return nil, fmt.Errorf("%w: files[%d] is %T", ErrInvalidMapping, i, item)
			}
		}
		return out, nil
	case *config.Map:
		if _, ok := f.Get("src"); ok {
			m, err := mappingFrom(f)
			if err != nil {
				return nil, err
			}
			return []Mapping{m}, nil
		}
		var out []Mapping
		for _, dest := range f.Keys() {
			raw, _ := f.Get(dest)
			out = append(out, Mapping{Src: config.AsStrings(raw), Dest: dest})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: files is %T", ErrInvalidMapping, v)
	}
}

func mappingFrom(m *config.Map) (Mapping, error) {
	out := Mapping{
		Expand:  m.GetBool("expand", false),
		Flatten: m.GetBool("flatten", false),
		Cwd:     m.GetString("cwd", ""),
		Dest:    m.GetString("dest", ""),
		Ext:     m.GetString("ext", ""),
		Src:     m.GetStrings("src"),
	}
	if len(out.Src) == 0 {
		return out, fmt.Errorf("%w: src is empty", ErrInvalidMapping)
	}
	return out, nil
}

// Resolve expands m against fs. Paths in the result are relative to the
// filesystem root.
func (m Mapping) Resolve(fs billy.Filesystem) ([]Group, error) {
	cwd := m.Cwd
	if cwd == "" {
		cwd = "."
	}
	matches, err := Match(fs, cwd, m.Src, false)
	if err != nil {
		return nil, err
	}

	if !m.Expand {
		src := make([]string, len(matches))
		for i, rel := range matches {
			src[i] = joinSlash(cwd, rel)
		}
		return []Group{{Dest: m.Dest, Src: src}}, nil
	}

	groups := make([]Group, 0, len(matches))
	for _, rel := range matches {
		dest := rel
		if m.Flatten {
			dest = path.Base(rel)
		}
		if m.Ext != "" {
			dest = replaceExt(dest, m.Ext)
		}
		groups = append(groups, Group{
			Dest: joinSlash(m.Dest, dest),
			Src:  []string{joinSlash(cwd, rel)},
		})
	}
	return groups, nil
}

// ResolveAll expands each mapping in order.
func ResolveAll(fs billy.Filesystem, mappings []Mapping) ([]Group, error) {
	var out []Group
	for _, m := range mappings {
		g, err := m.Resolve(fs)
		if err != nil {
			return nil, err
		}
		out = append(out, g...)
	}
	return out, nil
}

// Match returns the paths under cwd matched by patterns, relative to cwd.
// Patterns apply in order: an exclusion removes earlier matches. Literal
// patterns match existing files, and directories when dirs is set; glob
// patterns match files only unless dirs is set. Order follows the patterns,
// then lexical order within one pattern.
func Match(fs billy.Filesystem, cwd string, patterns []string, dirs bool) ([]string, error) {
	var result []string
	present := map[string]bool{}

	for _, raw := range patterns {
		p, err := CompilePattern(raw)
		if err != nil {
			return nil, err
		}
		if p.Negated() {
			kept := result[:0]
			for _, r := range result {
				if p.Match(r) {
					delete(present, r)
					continue
				}
				kept = append(kept, r)
			}
			result = kept
			continue
		}

		found, err := walkPattern(fs, cwd, p, dirs)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			if !present[f] {
				present[f] = true
				result = append(result, f)
			}
		}
	}
	return result, nil
}

func walkPattern(fs billy.Filesystem, cwd string, p *Pattern, dirs bool) ([]string, error) {
	if p.Literal() {
		info, err := fs.Lstat(filepath.FromSlash(joinSlash(cwd, p.String())))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		if info.IsDir() && !dirs {
			return nil, nil
		}
		return []string{p.String()}, nil
	}

	root := filepath.FromSlash(joinSlash(cwd, p.Base()))
	if _, err := fs.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	prefix := filepath.FromSlash(path.Clean(cwd))
	var found []string
	err := util.Walk(fs, root, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && !dirs {
			return nil
		}
		rel, rerr := filepath.Rel(prefix, name)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && p.Match(rel) {
			found = append(found, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(found)
	return found, nil
}

func joinSlash(elem ...string) string {
	return path.Join(elem...)
}

// replaceExt swaps everything after the first dot of the file name.
func replaceExt(p, ext string) string {
	dir, base := path.Split(p)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	return dir + base + ext
}

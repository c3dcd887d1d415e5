// Package files expands file mapping declarations ({expand, cwd, src, dest,
// ext, flatten}) into concrete source/destination pairs.
package files

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Pattern is a compiled slash-separated glob. "**" spans directories and
// "**/" may also match no directory at all, so "less/**/*.less" matches
// "less/site.less".
type Pattern struct {
	raw     string
	negate  bool
	literal bool
	globs   []glob.Glob
}

var extNot = regexp.MustCompile(`!\((.)\)`)

// CompilePattern compiles p. A leading "!" marks an exclusion; "!(c)"
// inside a segment means any first character except c.
func CompilePattern(p string) (*Pattern, error) {
	pat := &Pattern{}
	if strings.HasPrefix(p, "!") {
		pat.negate = true
		p = p[1:]
	}
	p = path.Clean(strings.TrimPrefix(p, "./"))
	p = extNot.ReplaceAllString(p, "[!$1]")
	pat.raw = p

	if !HasMeta(p) {
		pat.literal = true
		return pat, nil
	}
	for _, variant := range doubleStarVariants(p) {
		g, err := glob.Compile(variant, '/')
		if err != nil {
			return nil, fmt.Errorf("compile glob %q: %w", p, err)
		}
		pat.globs = append(pat.globs, g)
	}
	return pat, nil
}

// MustCompilePattern panics on an invalid pattern.
func MustCompilePattern(p string) *Pattern {
	pat, err := CompilePattern(p)
	if err != nil {
		panic(err)
	}
	return pat
}

func (p *Pattern) String() string {
	if p.negate {
		return "!" + p.raw
	}
	return p.raw
}

func (p *Pattern) Negated() bool { return p.negate }
func (p *Pattern) Literal() bool { return p.literal }

// Match reports whether rel (slash-separated, relative to the pattern's
// root) matches.
func (p *Pattern) Match(rel string) bool {
	rel = path.Clean(strings.TrimPrefix(rel, "./"))
	if p.literal {
		return rel == p.raw
	}
	for _, g := range p.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Covers is Match, extended so that a literal directory pattern also
// covers everything below it.
func (p *Pattern) Covers(rel string) bool {
	if p.Match(rel) {
		return true
	}
	return p.literal && strings.HasPrefix(path.Clean(rel), p.raw+"/")
}

// Base is the longest leading directory without glob metacharacters; it
// is where a walk for this pattern starts.
func (p *Pattern) Base() string {
	if p.literal {
		return p.raw
	}
	segs := strings.Split(p.raw, "/")
	var base []string
	for _, s := range segs[:len(segs)-1] {
		if HasMeta(s) {
			break
		}
		base = append(base, s)
	}
	if len(base) == 0 {
		return "."
	}
	return strings.Join(base, "/")
}

// HasMeta reports whether s contains glob metacharacters.
func HasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// doubleStarVariants returns p plus every form with some "**/" segments
// removed.
func doubleStarVariants(p string) []string {
	variants := []string{p}
	seen := map[string]bool{p: true}
	for i := 0; i < len(variants); i++ {
		v := variants[i]
		for off := 0; ; {
			idx := strings.Index(v[off:], "**/")
			if idx < 0 {
				break
			}
			idx += off
			if idx == 0 || v[idx-1] == '/' {
				next := v[:idx] + v[idx+3:]
				if !seen[next] {
					seen[next] = true
					variants = append(variants, next)
				}
			}
			off = idx + 3
		}
	}
	return variants
}

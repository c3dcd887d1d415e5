package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Path addresses a node of the tree. Numeric segments index into lists.
type Path []string

// ParsePath accepts dotted keys with either bracket or dotted indexes:
// "lessTargets[0].cwd" and "lessTargets.0.cwd" are the same path.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("empty config path")
	}
	var (
		out Path
		seg strings.Builder
	)
	flush := func() error {
		if seg.Len() == 0 {
			return fmt.Errorf("invalid config path %q: empty segment", s)
		}
		out = append(out, seg.String())
		seg.Reset()
		return nil
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '.':
			if i > 0 && s[i-1] == ']' {
				continue
			}
			if err := flush(); err != nil {
				return nil, err
			}
		case '[':
			if i > 0 && s[i-1] != ']' {
				if err := flush(); err != nil {
					return nil, err
				}
			}
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("invalid config path %q: unterminated index", s)
			}
			idx := s[i+1 : i+end]
			if !isIndex(idx) {
				return nil, fmt.Errorf("invalid config path %q: bad index %q", s, idx)
			}
			out = append(out, idx)
			i += end
		default:
			seg.WriteByte(c)
		}
	}
	if seg.Len() > 0 || (len(s) > 0 && s[len(s)-1] != ']') {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// listIndex parses seg as an index into a list of length n.
func listIndex(seg string, n int) (int, bool) {
	if !isIndex(seg) {
		return 0, false
	}
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

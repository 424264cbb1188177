package storage

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidPath is returned for path names a storage cannot represent.
var ErrInvalidPath = errors.New("storage: invalid path")

var multiSlash = regexp.MustCompile(`/+`)

// Path is a normalized absolute remote path: a leading "/", no trailing "/"
// except for the root, no empty segments, NFC-normalized. The zero value is
// the root.
type Path struct {
	name string
}

// Root is the "/" path.
var Root = Path{name: "/"}

// NewPath validates and normalizes name. Control characters and '\' are
// rejected, as are segments with leading or trailing spaces.
func NewPath(name string) (Path, error) {
	for _, r := range name {
		if r < 32 || r == '\\' {
			return Path{}, fmt.Errorf("%w: %q contains invalid character %q", ErrInvalidPath, name, r)
		}
	}

	for _, seg := range strings.Split(name, "/") {
		if strings.TrimSpace(seg) != seg {
			return Path{}, fmt.Errorf("%w: %q contains leading or trailing spaces", ErrInvalidPath, name)
		}
	}

	n := multiSlash.ReplaceAllString(name, "/")
	if len(n) > 1 {
		n = strings.TrimSuffix(n, "/")
	}

	if !strings.HasPrefix(n, "/") {
		n = "/" + n
	}

	return Path{name: norm.NFC.String(n)}, nil
}

// MustPath is NewPath that panics on invalid input. For constants and tests.
func MustPath(name string) Path {
	p, err := NewPath(name)
	if err != nil {
		panic(err)
	}

	return p
}

func (p Path) String() string {
	if p.name == "" {
		return "/"
	}

	return p.name
}

// IsRoot reports whether p is "/".
func (p Path) IsRoot() bool {
	return p.String() == "/"
}

// Base returns the last segment, "" for the root.
func (p Path) Base() string {
	s := p.String()
	return s[strings.LastIndexByte(s, '/')+1:]
}

// Parent returns the containing folder. The parent of the root is the root.
func (p Path) Parent() Path {
	s := p.String()

	i := strings.LastIndexByte(s, '/')
	if i <= 0 {
		return Root
	}

	return Path{name: s[:i]}
}

// Add appends a child segment.
func (p Path) Add(child string) (Path, error) {
	return NewPath(p.String() + "/" + child)
}

// Split returns the segments, none for the root.
func (p Path) Split() []string {
	if p.IsRoot() {
		return nil
	}

	return strings.Split(p.String()[1:], "/")
}

// URLEncoded escapes each segment for use in a URL path.
func (p Path) URLEncoded() string {
	if p.IsRoot() {
		return "/"
	}

	segs := p.Split()
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}

	return "/" + strings.Join(segs, "/")
}

// Equal compares normalized names.
func (p Path) Equal(o Path) bool {
	return p.String() == o.String()
}

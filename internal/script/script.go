// Package script resolves and loads the source a worker executes.
package script

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrUnsupportedProtocol = errors.New("unsupported script protocol")
	ErrEmptyLocation       = errors.New("empty script location")
	ErrRead                = errors.New("cannot read script")
	ErrNotText             = errors.New("script is not text")
)

// ProtocolFile is the only location protocol a worker can load from
const ProtocolFile = "file"

// Location identifies the worker's main script
type Location struct {
	Protocol string
	Pathname string
	Href     string
}

// Source is a loaded script ready for execution
type Source struct {
	Name string
	Code []byte
}

// ParseLocation parses the script argument a worker was launched with.
// Bare paths are treated as file locations.
func ParseLocation(raw string) (Location, error) {
	if strings.TrimSpace(raw) == "" {
		return Location{}, ErrEmptyLocation
	}

	if !strings.Contains(raw, "://") {
		return Location{
			Protocol: ProtocolFile,
			Pathname: raw,
			Href:     (&url.URL{Scheme: ProtocolFile, Path: raw}).String(),
		}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid script location %q: %w", raw, err)
	}

	loc := Location{
		Protocol: strings.ToLower(u.Scheme),
		Pathname: u.Path,
		Href:     u.String(),
	}
	if loc.Protocol != ProtocolFile {
		return loc, fmt.Errorf("%w '%s'", ErrUnsupportedProtocol, loc.Protocol)
	}
	if loc.Pathname == "" {
		return loc, fmt.Errorf("%w: %q has no path", ErrEmptyLocation, raw)
	}
	return loc, nil
}

// Load reads the script a location points at
func Load(loc Location) (*Source, error) {
	if loc.Protocol != ProtocolFile {
		return nil, fmt.Errorf("%w '%s'", ErrUnsupportedProtocol, loc.Protocol)
	}
	return ReadFile(loc.Pathname)
}

// ReadFile reads a script from the local filesystem and rejects binary content
func ReadFile(path string) (*Source, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrRead, path, err)
	}

	if len(code) > 0 && !isText(mimetype.Detect(code)) {
		return nil, fmt.Errorf("%w: %s", ErrNotText, path)
	}

	return &Source{Name: path, Code: code}, nil
}

// Resolve maps a path argument onto dir unless it is already absolute
func Resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

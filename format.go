package framestack

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Format decodes one kind of detector container. Format packages register
// themselves with Register in an init function.
type Format interface {
	Name() string
	// Detect decides from names and headers alone whether path belongs to
	// this format and, if so, suggests open parameters. It must not read
	// payload data.
	Detect(store Store, path string) (params Params, ok bool, err error)
	// Open reads the headers needed to describe the dataset.
	Open(store Store, params Params) (FrameSource, error)
}

// Validator is implemented by frame sources that can check their own
// structure beyond what the engine checks generically.
type Validator interface {
	Validate(store Store) error
}

// Diagnoser is implemented by frame sources that report format specific
// diagnostics.
type Diagnoser interface {
	Diagnostics() []Diagnostic
}

var (
	formatsMu sync.RWMutex
	formats   = map[string]Format{}
)

// Register makes a format available by name. It panics if the name is taken.
func Register(f Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	if _, dup := formats[f.Name()]; dup {
		panic(fmt.Sprintf("framestack: format %q registered twice", f.Name()))
	}
	formats[f.Name()] = f
}

// Formats lists registered format names, sorted.
func Formats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupFormat(name string) (Format, error) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	f, ok := formats[name]
	if !ok {
		return nil, configErrorf("unknown format %q", name)
	}
	return f, nil
}

// DetectResult is a positive detection.
type DetectResult struct {
	Format     string `json:"format"`
	Parameters Params `json:"parameters"`
}

// Detect asks every registered format, in name order, whether it recognizes
// path. It returns ErrNoMatch when none does.
func Detect(store Store, path string) (*DetectResult, error) {
	var errs []error
	for _, name := range Formats() {
		f, err := lookupFormat(name)
		if err != nil {
			return nil, err
		}
		params, ok, err := f.Detect(store, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if ok {
			return &DetectResult{Format: name, Parameters: params}, nil
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoMatch, path, errors.Join(errs...))
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMatch, path)
}

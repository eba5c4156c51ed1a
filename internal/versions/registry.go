package versions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"codeberg.org/sigterm-de/goplay/internal/logging"
	"gopkg.in/yaml.v3"
)

// DefaultRegistry is the npm registry the catalog is read from.
const DefaultRegistry = "https://registry.npmjs.org"

// Options configure Load.
type Options struct {
	Registry string
	Package  string // defaults to "effector"
	// RequiredFile keeps only versions whose package ships this file.
	// Defaults to "effector.cjs.js".
	RequiredFile string
	// CachePath stores the last successful listing; it is served when the
	// registry cannot be reached. Empty disables caching.
	CachePath string
	Client    *http.Client
}

type packument struct {
	Versions map[string]struct {
		Files []string `json:"files"`
	} `json:"versions"`
}

// Load reads the published versions from the registry. On failure the
// cached listing is used; the registry error is returned only when no cache
// is available either.
func Load(ctx context.Context, opts Options) (Catalog, error) {
	if opts.Registry == "" {
		opts.Registry = DefaultRegistry
	}
	if opts.Package == "" {
		opts.Package = "effector"
	}
	if opts.RequiredFile == "" {
		opts.RequiredFile = "effector.cjs.js"
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}

	list, err := fetch(ctx, opts)
	if err == nil {
		if opts.CachePath != "" {
			if werr := writeCache(opts.CachePath, list); werr != nil {
				logging.Log(logging.WARN, "versions", werr.Error())
			}
		}
		return New(list), nil
	}

	logging.Logf(logging.WARN, "versions", "registry unavailable: %v", err)
	if opts.CachePath != "" {
		if cached, cerr := readCache(opts.CachePath); cerr == nil {
			return New(cached), nil
		}
	}
	return nil, err
}

func fetch(ctx context.Context, opts Options) ([]string, error) {
	url := strings.TrimSuffix(opts.Registry, "/") + "/" + opts.Package
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("versions: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("versions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("versions: %s: status %d", url, resp.StatusCode)
	}

	var doc packument
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("versions: decode %s: %w", url, err)
	}
	var out []string
	for v, meta := range doc.Versions {
		if slices.Contains(meta.Files, opts.RequiredFile) {
			out = append(out, v)
		}
	}
	return out, nil
}

func writeCache(path string, list []string) error {
	data, err := yaml.Marshal(list)
	if err != nil {
		return fmt.Errorf("versions: encode cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("versions: cache dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readCache(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("versions: empty cache")
	}
	return list, nil
}

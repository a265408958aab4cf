package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BundleStore reads result bundles by location.
type BundleStore interface {
	// Open returns a reader for the bundle at location.
	Open(ctx context.Context, location string) (io.ReadCloser, error)
	// List returns the bundle locations under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

const gcsScheme = "gs://"

// IsGCS reports whether location names a Cloud Storage object.
func IsGCS(location string) bool {
	return strings.HasPrefix(location, gcsScheme)
}

// ParseGCSLocation splits gs://bucket/object into bucket and object.
func ParseGCSLocation(location string) (bucket, object string, err error) {
	if !IsGCS(location) {
		return "", "", fmt.Errorf("not a gs:// location: %s", location)
	}
	rest := strings.TrimPrefix(location, gcsScheme)
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %s", location)
	}
	return bucket, object, nil
}

// ErrOutsideBundleRoot is returned for a local location that does not
// resolve inside the configured bundle root.
var ErrOutsideBundleRoot = errors.New("location is outside the bundle root")

// FSStore reads bundles from the local filesystem, under Root only.
// An empty Root rejects every location.
type FSStore struct {
	Root string
}

// resolve cleans location and checks that it lies within Root. Symlinks are
// followed for paths that exist.
func (s FSStore) resolve(location string) (string, error) {
	if s.Root == "" {
		return "", fmt.Errorf("%s: no bundle root configured: %w", location, ErrOutsideBundleRoot)
	}
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", err
	}
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	p, err := filepath.Abs(strings.TrimPrefix(location, "file://"))
	if err != nil {
		return "", err
	}
	if r, err := filepath.EvalSymlinks(p); err == nil {
		p = r
	} else if r, err := filepath.EvalSymlinks(filepath.Dir(p)); err == nil {
		p = filepath.Join(r, filepath.Base(p))
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", location, ErrOutsideBundleRoot)
	}
	return p, nil
}

func (s FSStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	p, err := s.resolve(location)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// List walks the directory containing prefix and returns every .json file
// whose path starts with prefix. A prefix naming a directory lists all of it.
func (s FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	prefix, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}
	root := prefix
	if info, err := os.Stat(prefix); err != nil || !info.IsDir() {
		root = filepath.Dir(prefix)
	}

	var out []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".json") || !strings.HasPrefix(p, prefix) {
			return nil
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

// GCSStore reads bundles from Cloud Storage. The client is created on first use.
type GCSStore struct {
	opts []option.ClientOption

	mu     sync.Mutex
	client *storage.Client
}

// NewGCSStore creates a store that dials Cloud Storage lazily with opts.
func NewGCSStore(opts ...option.ClientOption) *GCSStore {
	return &GCSStore{opts: opts}
}

// NewGCSStoreWithClient wraps an existing client.
func NewGCSStoreWithClient(client *storage.Client) *GCSStore {
	return &GCSStore{client: client}
}

func (g *GCSStore) storageClient(ctx context.Context) (*storage.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := storage.NewClient(ctx, g.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	g.client = client
	return client, nil
}

func (g *GCSStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, object, err := ParseGCSLocation(location)
	if err != nil {
		return nil, err
	}
	client, err := g.storageClient(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	return r, nil
}

func (g *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, objPrefix, err := ParseGCSLocation(prefix)
	if err != nil {
		return nil, err
	}
	client, err := g.storageClient(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	it := client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: objPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		if !strings.HasSuffix(attrs.Name, ".json") {
			continue
		}
		out = append(out, gcsScheme+bucket+"/"+attrs.Name)
	}
	sort.Strings(out)
	return out, nil
}

// Close releases the storage client, if one was created.
func (g *GCSStore) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

// Router dispatches gs:// locations to GCS and everything else to the filesystem.
type Router struct {
	FS  BundleStore
	GCS BundleStore
}

// NewRouter creates a Router serving local bundles under root. A nil gcs
// store rejects gs:// locations.
func NewRouter(root string, gcs BundleStore) *Router {
	return &Router{FS: FSStore{Root: root}, GCS: gcs}
}

func (r *Router) pick(location string) (BundleStore, error) {
	if IsGCS(location) {
		if r.GCS == nil {
			return nil, fmt.Errorf("no cloud storage configured for %s", location)
		}
		return r.GCS, nil
	}
	return r.FS, nil
}

func (r *Router) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	s, err := r.pick(location)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, location)
}

func (r *Router) List(ctx context.Context, prefix string) ([]string, error) {
	s, err := r.pick(prefix)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, prefix)
}

var (
	_ BundleStore = FSStore{}
	_ BundleStore = (*GCSStore)(nil)
	_ BundleStore = (*Router)(nil)
)

package fstore

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/spf13/afero"
)

// Logger is the logger used by the file store
var Logger = logger.GetLogger("store")

// Options configure a Store.
type Options struct {
	Fs         afero.Fs     // Filesystem holding the data directory, defaults to the OS filesystem.
	Dir        string       // Data directory, created if missing.
	SyncWrites bool         // fsync files and the directory after every write.
	Metrics    *metrics.Set // Set receiving store metrics, a private set is used if nil.
}

// DefaultOptions returns the options used by the server: OS filesystem, ./data and
// synchronous writes.
func DefaultOptions() Options {
	return Options{
		Fs:         afero.NewOsFs(),
		Dir:        "data",
		SyncWrites: true,
	}
}

type storeMetrics struct {
	rewrites        *metrics.Counter
	rewriteDuration *metrics.Histogram
	corruptLines    *metrics.Counter
}

func newStoreMetrics(set *metrics.Set) *storeMetrics {
	return &storeMetrics{
		rewrites:        set.GetOrCreateCounter("ddoc_store_rewrites_total"),
		rewriteDuration: set.GetOrCreateHistogram("ddoc_store_rewrite_duration_seconds"),
		corruptLines:    set.GetOrCreateCounter("ddoc_store_corrupt_lines_total"),
	}
}

// Store is the registry of collections in one data directory. Collections are
// created on first reference and live until the process exits.
type Store struct {
	opts        Options
	collections *xsync.MapOf[string, *Collection]
	metrics     *storeMetrics
}

// NewStore creates the data directory if needed and returns a registry over it.
func NewStore(opts Options) (*Store, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet()
	}
	if err := opts.Fs.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", opts.Dir, err)
	}

	return &Store{
		opts:        opts,
		collections: xsync.NewMapOf[string, *Collection](),
		metrics:     newStoreMetrics(opts.Metrics),
	}, nil
}

// Collection returns the collection with the given name, creating the in-memory
// handle on first reference. The file itself is created by the first write.
func (s *Store) Collection(name string) (*Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, store.WrapError(store.RetCValidation, fmt.Sprintf("invalid collection name %q", name), err)
	}
	c, _ := s.collections.LoadOrCompute(name, func() *Collection {
		Logger.Debugf("opening collection %q", name)
		return newCollection(name, s.opts, s.metrics)
	})
	return c, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Insert(collection string, doc *document.Object) (string, error) {
	c, err := s.Collection(collection)
	if err != nil {
		return "", err
	}
	return c.Insert(doc)
}

func (s *Store) Update(collection string, filter, patch *document.Object) (int, error) {
	c, err := s.Collection(collection)
	if err != nil {
		return 0, err
	}
	return c.Update(filter, patch)
}

func (s *Store) Delete(collection string, filter *document.Object) (int, error) {
	c, err := s.Collection(collection)
	if err != nil {
		return 0, err
	}
	return c.Delete(filter)
}

func (s *Store) Find(collection string, filter *document.Object) ([]*document.Object, error) {
	c, err := s.Collection(collection)
	if err != nil {
		return nil, err
	}
	return c.Find(filter)
}

func (s *Store) FindOne(collection string, filter *document.Object) (*document.Object, bool, error) {
	c, err := s.Collection(collection)
	if err != nil {
		return nil, false, err
	}
	return c.FindOne(filter)
}

func (s *Store) ListCollections() ([]string, error) {
	seen := make(map[string]struct{})
	s.collections.Range(func(name string, _ *Collection) bool {
		seen[name] = struct{}{}
		return true
	})

	entries, err := afero.ReadDir(s.opts.Fs, s.opts.Dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, store.WrapError(store.RetCStorage, "failed to list data directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FileExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), FileExt)
		if ValidateName(name) == nil {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

var _ store.IStore = (*Store)(nil)

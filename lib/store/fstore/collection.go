package fstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// fileCreateMode is the permission set of newly created collection files.
const fileCreateMode os.FileMode = 0o644

// Collection is the file backed store of a single collection.
//
// The in-memory slice mirrors the committed file and is loaded on first access.
// Writers hold the write lock for the whole scan and persist step, readers share
// the read lock. Stored documents are never mutated in place; an update replaces
// the matched entries with merged copies.
type Collection struct {
	name    string
	path    string
	dir     string
	fs      afero.Fs
	sync    bool
	metrics *storeMetrics

	loadMu sync.Mutex
	loaded atomic.Bool

	mu   sync.RWMutex
	docs []*document.Object
	ids  map[string]struct{}
	// the last line on disk has no terminating newline (torn write)
	needsNewline bool
}

func newCollection(name string, opts Options, m *storeMetrics) *Collection {
	return &Collection{
		name:    name,
		path:    filepath.Join(opts.Dir, name+FileExt),
		dir:     opts.Dir,
		fs:      opts.Fs,
		sync:    opts.SyncWrites,
		metrics: m,
		ids:     make(map[string]struct{}),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Path returns the path of the collection file.
func (c *Collection) Path() string { return c.path }

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Insert stores a copy of doc under a new _id and returns the id.
func (c *Collection) Insert(doc *document.Object) (string, error) {
	if err := c.ensureLoaded(); err != nil {
		return "", err
	}

	stored := doc.Clone()
	if stored == nil {
		stored = document.NewObject()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.NewString()
	for c.hasID(id) {
		id = uuid.NewString()
	}
	stored.SetFront(document.IDField, document.String(id))

	if err := c.appendLine(stored); err != nil {
		Logger.Errorf("insert into %q failed: %v", c.name, err)
		return "", store.WrapError(store.RetCStorage, fmt.Sprintf("failed to persist document in %q", c.name), err)
	}

	c.docs = append(c.docs, stored)
	c.ids[id] = struct{}{}
	return id, nil
}

// Update merges patch into every document matching filter and returns how many
// documents were modified.
func (c *Collection) Update(filter, patch *document.Object) (int, error) {
	q, err := compile(filter)
	if err != nil {
		return 0, err
	}
	changes := patch.Clone()
	changes.Delete(document.IDField)

	if err := c.ensureLoaded(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := make([]*document.Object, len(c.docs))
	modified := 0
	for i, doc := range c.docs {
		if !q.Match(doc) {
			next[i] = doc
			continue
		}
		merged := doc.Clone()
		changes.Range(func(key string, v document.Value) bool {
			merged.Set(key, v.Clone())
			return true
		})
		next[i] = merged
		modified++
	}
	if modified == 0 {
		return 0, nil
	}

	if err := c.rewrite(next); err != nil {
		Logger.Errorf("update of %q failed: %v", c.name, err)
		return 0, store.WrapError(store.RetCStorage, fmt.Sprintf("failed to persist update of %q", c.name), err)
	}
	c.docs = next
	return modified, nil
}

// Delete removes every document matching filter and returns how many were removed.
func (c *Collection) Delete(filter *document.Object) (int, error) {
	q, err := compile(filter)
	if err != nil {
		return 0, err
	}
	if err := c.ensureLoaded(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := make([]*document.Object, 0, len(c.docs))
	var removed []string
	for _, doc := range c.docs {
		if q.Match(doc) {
			id, _ := doc.ID()
			removed = append(removed, id)
			continue
		}
		next = append(next, doc)
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := c.rewrite(next); err != nil {
		Logger.Errorf("delete from %q failed: %v", c.name, err)
		return 0, store.WrapError(store.RetCStorage, fmt.Sprintf("failed to persist delete from %q", c.name), err)
	}
	c.docs = next
	for _, id := range removed {
		delete(c.ids, id)
	}
	return len(removed), nil
}

// Find returns copies of all documents matching filter in insertion order.
func (c *Collection) Find(filter *document.Object) ([]*document.Object, error) {
	q, err := compile(filter)
	if err != nil {
		return nil, err
	}
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	result := []*document.Object{}
	for _, doc := range c.docs {
		if q.Match(doc) {
			result = append(result, doc.Clone())
		}
	}
	return result, nil
}

// FindOne returns a copy of the first document matching filter.
func (c *Collection) FindOne(filter *document.Object) (*document.Object, bool, error) {
	q, err := compile(filter)
	if err != nil {
		return nil, false, err
	}
	if err := c.ensureLoaded(); err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, doc := range c.docs {
		if q.Match(doc) {
			return doc.Clone(), true, nil
		}
	}
	return nil, false, nil
}

// Count returns the number of documents in the collection.
func (c *Collection) Count() (int, error) {
	if err := c.ensureLoaded(); err != nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs), nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func compile(filter *document.Object) (query.Query, error) {
	q, err := query.Compile(filter)
	if err != nil {
		return query.Query{}, store.WrapError(store.RetCValidation, "malformed query", err)
	}
	return q, nil
}

func (c *Collection) hasID(id string) bool {
	_, ok := c.ids[id]
	return ok
}

// ensureLoaded reads the collection file once. A failed load is retried on the
// next access.
func (c *Collection) ensureLoaded() error {
	if c.loaded.Load() {
		return nil
	}
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if c.loaded.Load() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(); err != nil {
		Logger.Errorf("loading %q failed: %v", c.name, err)
		return store.WrapError(store.RetCStorage, fmt.Sprintf("failed to load collection %q", c.name), err)
	}
	c.loaded.Store(true)
	return nil
}

func (c *Collection) load() error {
	c.removeStaleTempFiles()

	f, err := c.fs.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		docs    []*document.Object
		ids     = make(map[string]struct{})
		reader  = bufio.NewReader(f)
		lineNo  = 0
		lastEOL = true
	)
	for {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		if len(line) > 0 {
			lineNo++
			lastEOL = line[len(line)-1] == '\n'
			if doc, reason := parseLine(line, ids); doc != nil {
				id, _ := doc.ID()
				ids[id] = struct{}{}
				docs = append(docs, doc)
			} else if reason != "" {
				Logger.Warningf("skipping corrupt line %d in %s: %s", lineNo, c.path, reason)
				c.metrics.corruptLines.Inc()
			}
		}
		if readErr == io.EOF {
			break
		}
	}

	c.docs = docs
	c.ids = ids
	c.needsNewline = !lastEOL
	Logger.Debugf("loaded %d documents from %s", len(docs), c.path)
	return nil
}

// parseLine decodes one persisted line. It returns nil and an empty reason for blank
// lines, nil and a reason for corrupt ones.
func parseLine(line []byte, seen map[string]struct{}) (*document.Object, string) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ""
	}
	doc, err := document.ParseObject(line)
	if err != nil {
		return nil, err.Error()
	}
	id, ok := doc.ID()
	if !ok {
		return nil, "missing string _id"
	}
	if _, dup := seen[id]; dup {
		return nil, fmt.Sprintf("duplicate _id %q", id)
	}
	return doc, ""
}

// appendLine appends doc as one line and syncs the file. On failure the file is
// truncated back to its previous size, or removed if this append created it.
func (c *Collection) appendLine(doc *document.Object) (err error) {
	created := false
	if _, statErr := c.fs.Stat(c.path); errors.Is(statErr, os.ErrNotExist) {
		created = true
	}

	f, err := c.fs.OpenFile(c.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, fileCreateMode)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	size := info.Size()

	var buf bytes.Buffer
	if c.needsNewline && size > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString(doc.String())
	buf.WriteByte('\n')

	defer func() {
		if err != nil && !created {
			if truncErr := f.Truncate(size); truncErr != nil {
				Logger.Errorf("failed to truncate %s after failed append: %v", c.path, truncErr)
			}
		}
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		// a collection without a committed document has no file
		if err != nil && created {
			if rmErr := c.fs.Remove(c.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				Logger.Errorf("failed to remove %s after failed append: %v", c.path, rmErr)
			}
		}
	}()

	if _, err = f.Write(buf.Bytes()); err != nil {
		return err
	}
	if c.sync {
		if err = f.Sync(); err != nil {
			return err
		}
		if created {
			if err = syncDir(c.fs, c.dir); err != nil {
				return err
			}
		}
	}
	c.needsNewline = false
	return nil
}

// rewrite replaces the collection file with docs: write a temp file in the same
// directory, sync it, rename it over the original and sync the directory.
// The committed file is untouched if any step before the rename fails.
func (c *Collection) rewrite(docs []*document.Object) (err error) {
	start := time.Now()

	tmp, err := afero.TempFile(c.fs, c.dir, c.tempPrefix()+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			_ = tmp.Close()
		}
		if rmErr := c.fs.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			Logger.Warningf("failed to remove temp file %s: %v", tmpName, rmErr)
		}
	}()

	// TempFile creates owner-only files, the rename must not narrow the file mode
	if err = c.fs.Chmod(tmpName, c.fileMode()); err != nil {
		return err
	}

	w := bufio.NewWriter(tmp)
	for _, doc := range docs {
		if _, err = w.WriteString(doc.String()); err != nil {
			return err
		}
		if err = w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if c.sync {
		if err = tmp.Sync(); err != nil {
			return err
		}
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = c.fs.Rename(tmpName, c.path); err != nil {
		return err
	}
	if c.sync {
		// the rename already happened, a failed directory sync only weakens durability
		if dirErr := syncDir(c.fs, c.dir); dirErr != nil {
			Logger.Warningf("failed to sync directory %s: %v", c.dir, dirErr)
		}
	}

	c.needsNewline = false
	c.metrics.rewrites.Inc()
	c.metrics.rewriteDuration.Update(time.Since(start).Seconds())
	return nil
}

// fileMode returns the permissions of the committed file, or the mode new collection
// files are created with.
func (c *Collection) fileMode() os.FileMode {
	if info, err := c.fs.Stat(c.path); err == nil {
		return info.Mode().Perm()
	}
	return fileCreateMode
}

// tempPrefix is the name prefix of rewrite temp files. afero.TempFile replaces the
// trailing '*' with a decimal number.
func (c *Collection) tempPrefix() string {
	return "." + c.name + ".tmp-"
}

// removeStaleTempFiles deletes temp files a crashed rewrite left behind. c.mu must be
// held for writing.
func (c *Collection) removeStaleTempFiles() {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			Logger.Warningf("failed to scan %s for stale temp files: %v", c.dir, err)
		}
		return
	}
	prefix := c.tempPrefix()
	for _, entry := range entries {
		suffix, ok := strings.CutPrefix(entry.Name(), prefix)
		if !ok || entry.IsDir() || !isDigits(suffix) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := c.fs.Remove(path); err != nil {
			Logger.Warningf("failed to remove stale temp file %s: %v", path, err)
			continue
		}
		Logger.Infof("removed stale temp file %s", path)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func syncDir(fs afero.Fs, dir string) error {
	d, err := fs.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

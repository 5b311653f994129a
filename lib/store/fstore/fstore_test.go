package fstore

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/store"
	storetesting "github.com/ValentinKolb/dDoc/lib/store/testing"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	storetesting.RunStoreTests(t, "MemMapFs", func() store.IStore {
		return newTestStore(t, afero.NewMemMapFs(), nil)
	})

	dir := t.TempDir()
	storetesting.RunStoreTests(t, "OsFs", func() store.IStore {
		s, err := NewStore(Options{Fs: afero.NewOsFs(), Dir: dir, SyncWrites: true})
		require.NoError(t, err)
		return s
	})
}

func BenchmarkFileStore(b *testing.B) {
	storetesting.RunStoreBenchmarks(b, "MemMapFs", func() store.IStore {
		s, err := NewStore(Options{Fs: afero.NewMemMapFs(), Dir: "data"})
		if err != nil {
			b.Fatal(err)
		}
		return s
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

var errInjected = errors.New("injected fault")

// faultyFs fails renames or writes on demand.
type faultyFs struct {
	afero.Fs
	failRename atomic.Bool
	failWrite  atomic.Bool
}

func (f *faultyFs) Rename(oldname, newname string) error {
	if f.failRename.Load() {
		return errInjected
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *faultyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil || !f.failWrite.Load() {
		return file, err
	}
	return &faultyFile{File: file}, nil
}

// faultyFile writes half of every buffer and then fails.
type faultyFile struct {
	afero.File
}

func (f *faultyFile) Write(p []byte) (int, error) {
	n, _ := f.File.Write(p[:len(p)/2])
	return n, errInjected
}

func newTestStore(t testing.TB, fs afero.Fs, set *metrics.Set) *Store {
	s, err := NewStore(Options{Fs: fs, Dir: "data", SyncWrites: true, Metrics: set})
	require.NoError(t, err)
	return s
}

func fileHash(t testing.TB, fs afero.Fs, path string) [32]byte {
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return sha256.Sum256(data)
}

func tempFiles(t testing.TB, fs afero.Fs) []string {
	entries, err := afero.ReadDir(fs, "data")
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			out = append(out, e.Name())
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestPersistedLayout(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newTestStore(t, fs, nil)

	id, err := s.Insert("manga", document.MustParseObject(`{"title":"Naruto","chapters":700}`))
	require.NoError(t, err)
	_, err = s.Insert("manga", document.MustParseObject(`{"title":"Monster"}`))
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, filepath.Join("data", "manga.dat"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, `{"_id":"`+id+`","title":"Naruto","chapters":700}`, lines[0])
	require.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestReloadFromDisk(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newTestStore(t, fs, nil)

	var ids []string
	for _, title := range []string{"Naruto", "One Piece", "Monster"} {
		id, err := s.Insert("manga", document.NewObject().Set("title", document.String(title)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	n, err := s.Delete("manga", document.MustParseObject(`{"title":"One Piece"}`))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	reopened := newTestStore(t, fs, nil)
	docs, err := reopened.Find("manga", nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for i, want := range []string{ids[0], ids[2]} {
		got, _ := docs[i].ID()
		require.Equal(t, want, got)
	}
}

func TestCorruptLinesAreSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("data", 0o755))
	content := strings.Join([]string{
		`{"_id":"a","title":"Naruto"}`,
		`{"_id":"b","title":`,
		``,
		`[1,2,3]`,
		`{"title":"no id"}`,
		`{"_id":42,"title":"numeric id"}`,
		`{"_id":"a","title":"duplicate"}`,
		`{"_id":"c","title":"Monster"}`,
	}, "\n") + "\n"
	require.NoError(t, afero.WriteFile(fs, filepath.Join("data", "manga.dat"), []byte(content), 0o644))

	set := metrics.NewSet()
	s := newTestStore(t, fs, set)

	docs, err := s.Find("manga", nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	first, _ := docs[0].Get("title")
	require.Equal(t, `"Naruto"`, first.String())
	require.Equal(t, uint64(5), set.GetOrCreateCounter("ddoc_store_corrupt_lines_total").Get())

	// a rewrite drops the corrupt lines for good
	n, err := s.Update("manga", document.MustParseObject(`{"_id":"c"}`), document.MustParseObject(`{"rating":9.4}`))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	data, err := afero.ReadFile(fs, filepath.Join("data", "manga.dat"))
	require.NoError(t, err)
	require.Equal(t, "{\"_id\":\"a\",\"title\":\"Naruto\"}\n{\"_id\":\"c\",\"title\":\"Monster\",\"rating\":9.4}\n", string(data))
}

func TestTornLastLine(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("data", 0o755))
	path := filepath.Join("data", "manga.dat")
	require.NoError(t, afero.WriteFile(fs, path, []byte(`{"_id":"a","title":"Naruto"}`+"\n"+`{"_id":"b","ti`), 0o644))

	s := newTestStore(t, fs, nil)
	_, err := s.Insert("manga", document.MustParseObject(`{"title":"Monster"}`))
	require.NoError(t, err)

	reopened := newTestStore(t, fs, nil)
	docs, err := reopened.Find("manga", nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	title, _ := docs[1].Get("title")
	require.Equal(t, `"Monster"`, title.String())
}

func TestReadsDoNotModifyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newTestStore(t, fs, nil)
	path := filepath.Join("data", "manga.dat")

	for _, doc := range []string{`{"title":"Naruto","chapters":700}`, `{"title":"Monster","chapters":162}`} {
		_, err := s.Insert("manga", document.MustParseObject(doc))
		require.NoError(t, err)
	}
	before := fileHash(t, fs, path)

	_, err := s.Find("manga", document.MustParseObject(`{"chapters":{"$gt":100}}`))
	require.NoError(t, err)
	_, _, err = s.FindOne("manga", document.MustParseObject(`{"title":"Monster"}`))
	require.NoError(t, err)
	n, err := s.Update("manga", document.MustParseObject(`{"title":"Bleach"}`), document.MustParseObject(`{"x":1}`))
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = s.Delete("manga", document.MustParseObject(`{"title":"Bleach"}`))
	require.NoError(t, err)
	require.Zero(t, n)

	require.Equal(t, before, fileHash(t, fs, path))

	// reads on an unknown collection do not create a file
	_, err = s.Find("unknown", nil)
	require.NoError(t, err)
	exists, err := afero.Exists(fs, filepath.Join("data", "unknown.dat"))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestFailedRewriteKeepsCommittedState(t *testing.T) {
	fs := &faultyFs{Fs: afero.NewMemMapFs()}
	set := metrics.NewSet()
	s := newTestStore(t, fs, set)
	path := filepath.Join("data", "manga.dat")

	for _, doc := range []string{`{"title":"Naruto","chapters":700}`, `{"title":"Monster","chapters":162}`} {
		_, err := s.Insert("manga", document.MustParseObject(doc))
		require.NoError(t, err)
	}
	before := fileHash(t, fs, path)

	fs.failRename.Store(true)

	_, err := s.Update("manga", document.MustParseObject(`{"title":"Naruto"}`), document.MustParseObject(`{"chapters":1}`))
	require.Error(t, err)
	require.True(t, store.IsStorage(err))
	require.ErrorIs(t, err, errInjected)

	_, err = s.Delete("manga", document.MustParseObject(`{}`))
	require.True(t, store.IsStorage(err))

	require.Equal(t, before, fileHash(t, fs, path))
	require.Empty(t, tempFiles(t, fs))

	docs, err := s.Find("manga", nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	chapters, _ := docs[0].Get("chapters")
	require.True(t, document.Equal(document.Int(700), chapters))
	require.Equal(t, uint64(0), set.GetOrCreateCounter("ddoc_store_rewrites_total").Get())

	fs.failRename.Store(false)

	n, err := s.Update("manga", document.MustParseObject(`{"title":"Naruto"}`), document.MustParseObject(`{"chapters":1}`))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NotEqual(t, before, fileHash(t, fs, path))
	require.Equal(t, uint64(1), set.GetOrCreateCounter("ddoc_store_rewrites_total").Get())
}

func TestFailedAppendIsRolledBack(t *testing.T) {
	fs := &faultyFs{Fs: afero.NewMemMapFs()}
	s := newTestStore(t, fs, nil)
	path := filepath.Join("data", "manga.dat")

	_, err := s.Insert("manga", document.MustParseObject(`{"title":"Naruto"}`))
	require.NoError(t, err)
	before := fileHash(t, fs, path)

	fs.failWrite.Store(true)
	_, err = s.Insert("manga", document.MustParseObject(`{"title":"Monster"}`))
	require.True(t, store.IsStorage(err))
	fs.failWrite.Store(false)

	require.Equal(t, before, fileHash(t, fs, path))
	c, err := s.Collection("manga")
	require.NoError(t, err)
	count, err := c.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = s.Insert("manga", document.MustParseObject(`{"title":"Monster"}`))
	require.NoError(t, err)
	reopened := newTestStore(t, fs, nil)
	docs, err := reopened.Find("manga", nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
}

func TestValidationErrors(t *testing.T) {
	s := newTestStore(t, afero.NewMemMapFs(), nil)

	_, err := s.Insert("../etc/passwd", document.NewObject())
	require.True(t, store.IsValidation(err))

	_, err = s.Find("manga", document.MustParseObject(`{"chapters":{"$between":[1,2]}}`))
	require.True(t, store.IsValidation(err))
	require.False(t, store.IsStorage(err))
}

func TestValidateName(t *testing.T) {
	testCases := []struct {
		name  string
		valid bool
	}{
		{"manga", true},
		{"Manga", true},
		{"my-collection_2", true},
		{"漫画", true},
		{"with space", true},
		{"", false},
		{".", false},
		{"..", false},
		{".hidden", false},
		{"../escape", false},
		{"a/b", false},
		{`a\b`, false},
		{"tab\tname", false},
		{"nul\x00", false},
		{strings.Repeat("x", MaxNameLength), true},
		{strings.Repeat("x", MaxNameLength+1), false},
	}
	for _, tc := range testCases {
		err := ValidateName(tc.name)
		if tc.valid {
			require.NoErrorf(t, err, "name %q", tc.name)
		} else {
			require.Errorf(t, err, "name %q", tc.name)
		}
	}
}

func TestListCollectionsScansDataDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("data", 0o755))
	for _, name := range []string{"users.dat", "notes.txt", ".manga.tmp-123", "manga.dat.bak"} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join("data", name), nil, 0o644))
	}
	s := newTestStore(t, fs, nil)

	_, err := s.Find("referenced", nil)
	require.NoError(t, err)

	names, err := s.ListCollections()
	require.NoError(t, err)
	require.Equal(t, []string{"referenced", "users"}, names)
}

func TestRewriteKeepsFileMode(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(Options{Fs: afero.NewOsFs(), Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	path := filepath.Join(dir, "manga.dat")

	for _, doc := range []string{`{"title":"Naruto","chapters":700}`, `{"title":"Monster","chapters":162}`} {
		_, err := s.Insert("manga", document.MustParseObject(doc))
		require.NoError(t, err)
	}
	info, err := os.Stat(path)
	require.NoError(t, err)
	inserted := info.Mode().Perm()

	_, err = s.Update("manga", document.MustParseObject(`{"title":"Naruto"}`), document.MustParseObject(`{"chapters":701}`))
	require.NoError(t, err)
	info, err = os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, inserted, info.Mode().Perm())

	require.NoError(t, os.Chmod(path, 0o640))
	_, err = s.Delete("manga", document.MustParseObject(`{"title":"Monster"}`))
	require.NoError(t, err)
	info, err = os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestConcurrentUpdatesSurviveReload(t *testing.T) {
	testCases := []struct {
		name string
		fs   afero.Fs
		dir  string
	}{
		{"MemMapFs", afero.NewMemMapFs(), "data"},
		{"OsFs", afero.NewOsFs(), t.TempDir()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			open := func() *Store {
				s, err := NewStore(Options{Fs: tc.fs, Dir: tc.dir, SyncWrites: true})
				require.NoError(t, err)
				return s
			}
			s := open()

			const slots = 20
			for i := 0; i < slots; i++ {
				_, err := s.Insert("slots", document.MustParseObject(fmt.Sprintf(`{"slot":%d,"value":0}`, i)))
				require.NoError(t, err)
			}

			var wg sync.WaitGroup
			errs := make([]error, 2*slots)
			for i := 0; i < slots; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = s.Update("slots",
						document.MustParseObject(fmt.Sprintf(`{"slot":%d}`, i)),
						document.MustParseObject(fmt.Sprintf(`{"value":%d}`, i+100)))
				}(i)
				go func(i int) {
					defer wg.Done()
					_, errs[slots+i] = s.Insert("slots", document.MustParseObject(fmt.Sprintf(`{"extra":%d}`, i)))
				}(i)
			}
			wg.Wait()
			for _, err := range errs {
				require.NoError(t, err)
			}

			reopened := open()
			docs, err := reopened.Find("slots", nil)
			require.NoError(t, err)
			require.Len(t, docs, 2*slots)

			for i := 0; i < slots; i++ {
				doc, found, err := reopened.FindOne("slots", document.MustParseObject(fmt.Sprintf(`{"slot":%d}`, i)))
				require.NoError(t, err)
				require.True(t, found)
				value, _ := doc.Get("value")
				require.Truef(t, document.Equal(document.Int(int64(i+100)), value), "update of slot %d not persisted", i)

				_, found, err = reopened.FindOne("slots", document.MustParseObject(fmt.Sprintf(`{"extra":%d}`, i)))
				require.NoError(t, err)
				require.Truef(t, found, "insert %d not persisted", i)
			}
		})
	}
}

func TestStaleTempFilesRemovedOnLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("data", 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join("data", "manga.dat"), []byte(`{"_id":"a","title":"Naruto"}`+"\n"), 0o644))
	for _, name := range []string{".manga.tmp-1234567", ".manga.tmp-x.tmp-42", ".monster.tmp-99"} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join("data", name), []byte(`{"_id":"b"}`+"\n"), 0o600))
	}

	s := newTestStore(t, fs, nil)
	docs, err := s.Find("manga", nil)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	// only the leftovers of "manga" itself are removed
	require.ElementsMatch(t, []string{".manga.tmp-x.tmp-42", ".monster.tmp-99"}, tempFiles(t, fs))
}

func TestFailedFirstAppendLeavesNoFile(t *testing.T) {
	fs := &faultyFs{Fs: afero.NewMemMapFs()}
	s := newTestStore(t, fs, nil)
	path := filepath.Join("data", "manga.dat")

	fs.failWrite.Store(true)
	_, err := s.Insert("manga", document.MustParseObject(`{"title":"Naruto"}`))
	require.True(t, store.IsStorage(err))
	fs.failWrite.Store(false)

	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	require.False(t, exists)

	names, err := newTestStore(t, fs, nil).ListCollections()
	require.NoError(t, err)
	require.NotContains(t, names, "manga")

	_, err = s.Insert("manga", document.MustParseObject(`{"title":"Naruto"}`))
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), "\n"))
}

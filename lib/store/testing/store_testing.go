package testing

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/stretchr/testify/require"
)

// StoreFactory is a function that creates a new instance of an IStore implementation
type StoreFactory func() store.IStore

// RunStoreTests runs a comprehensive test suite for an IStore implementation.
// Every test works on collections with unique names, so the factory may hand out
// stores that share a backend.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&FindOne", func(t *testing.T) {
			testInsertFindOne(t, factory())
		})

		t.Run("UniqueIDs", func(t *testing.T) {
			testUniqueIDs(t, factory())
		})

		t.Run("ValueRoundTrip", func(t *testing.T) {
			testValueRoundTrip(t, factory())
		})

		t.Run("FindFilters", func(t *testing.T) {
			testFindFilters(t, factory())
		})

		t.Run("FindOneMissing", func(t *testing.T) {
			testFindOneMissing(t, factory())
		})

		t.Run("Update", func(t *testing.T) {
			testUpdate(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("CopySemantics", func(t *testing.T) {
			testCopySemantics(t, factory())
		})

		t.Run("InvalidRequests", func(t *testing.T) {
			testInvalidRequests(t, factory())
		})

		t.Run("ListCollections", func(t *testing.T) {
			testListCollections(t, factory())
		})

		t.Run("ConcurrentInserts", func(t *testing.T) {
			testConcurrentInserts(t, factory())
		})

		t.Run("ConcurrentDisjointUpdates", func(t *testing.T) {
			testConcurrentDisjointUpdates(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

var (
	collectionCounter atomic.Uint64
	unsafeChars       = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// uniqueCollection returns a collection name that no other test uses.
func uniqueCollection(t testing.TB, suffix string) string {
	base := unsafeChars.ReplaceAllString(t.Name(), "_")
	if len(base) > 100 {
		base = base[len(base)-100:]
	}
	return fmt.Sprintf("%s_%s_%d", base, suffix, collectionCounter.Add(1))
}

// obj is a shorthand for document.MustParseObject.
func obj(s string) *document.Object {
	return document.MustParseObject(s)
}

func field(t testing.TB, doc *document.Object, key string) document.Value {
	t.Helper()
	v, ok := doc.Get(key)
	require.Truef(t, ok, "expected field %q in %s", key, doc)
	return v
}

func titles(t testing.TB, docs []*document.Object) []string {
	t.Helper()
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		s, ok := field(t, doc, "title").AsString()
		require.True(t, ok)
		out = append(out, s)
	}
	return out
}

// insertManga inserts the fixture used by the filter and update tests.
func insertManga(t testing.TB, s store.IStore, collection string) {
	t.Helper()
	for _, doc := range []string{
		`{"title":"Naruto","author":"Masashi Kishimoto","genres":["Action","Adventure"],"chapters":700,"rating":9.6}`,
		`{"title":"One Piece","author":"Eiichiro Oda","genres":["Action","Adventure","Comedy"],"chapters":1000,"rating":9.1}`,
		`{"title":"Monster","author":"Naoki Urasawa","genres":["Mystery","Drama"],"chapters":162,"rating":9.4}`,
	} {
		_, err := s.Insert(collection, obj(doc))
		require.NoError(t, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertFindOne(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "docs")

	id, err := s.Insert(collection, obj(`{"_id":"client-chosen","title":"Naruto","chapters":700}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NotEqual(t, "client-chosen", id)

	doc, found, err := s.FindOne(collection, obj(fmt.Sprintf(`{"_id":%q}`, id)))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"_id", "title", "chapters"}, doc.Keys())

	gotID, ok := doc.ID()
	require.True(t, ok)
	require.Equal(t, id, gotID)

	_, found, err = s.FindOne(collection, obj(`{"_id":"client-chosen"}`))
	require.NoError(t, err)
	require.False(t, found)
}

func testUniqueIDs(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "ids")

	ids := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		id, err := s.Insert(collection, obj(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
		_, dup := ids[id]
		require.Falsef(t, dup, "duplicate id %s", id)
		ids[id] = struct{}{}
	}

	docs, err := s.Find(collection, nil)
	require.NoError(t, err)
	require.Len(t, docs, 200)
	for i, doc := range docs {
		c, ok := document.CompareNumbers(field(t, doc, "n"), document.Int(int64(i)))
		require.True(t, ok)
		require.Equalf(t, 0, c, "documents must come back in insertion order")
	}
}

func testValueRoundTrip(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "values")

	original := obj(`{"text":"漫画 ünïcödé \"quoted\" \\ \n","zero":0,"neg":-42,"float":3.25,"small":-0.5,` +
		`"big":9007199254740993,"yes":true,"no":false,"nothing":null,` +
		`"nested":{"list":[1,"two",{"three":[3]}],"empty":{}},"emptyList":[]}`)

	id, err := s.Insert(collection, original)
	require.NoError(t, err)

	doc, found, err := s.FindOne(collection, obj(fmt.Sprintf(`{"_id":%q}`, id)))
	require.NoError(t, err)
	require.True(t, found)

	doc.Delete(document.IDField)
	require.Equal(t, original.String(), doc.String())
}

func testFindFilters(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "manga")
	insertManga(t, s, collection)

	testCases := []struct {
		filter string
		want   []string
	}{
		{`{}`, []string{"Naruto", "One Piece", "Monster"}},
		{`{"author":"Eiichiro Oda"}`, []string{"One Piece"}},
		{`{"genres":"Action"}`, []string{"Naruto", "One Piece"}},
		{`{"genres":["Mystery","Drama"]}`, []string{"Monster"}},
		{`{"chapters":{"$gt":500}}`, []string{"Naruto", "One Piece"}},
		{`{"chapters":{"$gte":700}}`, []string{"Naruto", "One Piece"}},
		{`{"chapters":{"$lt":700}}`, []string{"Monster"}},
		{`{"rating":{"$lte":9.4}}`, []string{"One Piece", "Monster"}},
		{`{"genres":"Action","rating":{"$gt":9.5}}`, []string{"Naruto"}},
		{`{"chapters":700.0}`, []string{"Naruto"}},
		{`{"title":{"$gt":1}}`, []string{}},
		{`{"publisher":"Shueisha"}`, []string{}},
	}
	for _, tc := range testCases {
		t.Run(tc.filter, func(t *testing.T) {
			docs, err := s.Find(collection, obj(tc.filter))
			require.NoError(t, err)
			require.Equal(t, tc.want, titles(t, docs))
		})
	}

	// nil filter behaves like the empty filter
	docs, err := s.Find(collection, nil)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	doc, found, err := s.FindOne(collection, obj(`{"genres":"Adventure"}`))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"Naruto"}, titles(t, []*document.Object{doc}))
}

func testFindOneMissing(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "missing")

	doc, found, err := s.FindOne(collection, obj(`{"title":"Nope"}`))
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, doc)

	docs, err := s.Find(collection, obj(`{}`))
	require.NoError(t, err)
	require.Empty(t, docs)
}

func testUpdate(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "update")
	insertManga(t, s, collection)

	before, found, err := s.FindOne(collection, obj(`{"title":"One Piece"}`))
	require.NoError(t, err)
	require.True(t, found)
	id, _ := before.ID()

	n, err := s.Update(collection, obj(`{"title":"One Piece"}`), obj(`{"_id":"hijack","chapters":1100,"status":"ongoing"}`))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	after, found, err := s.FindOne(collection, obj(fmt.Sprintf(`{"_id":%q}`, id)))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"_id", "title", "author", "genres", "chapters", "rating", "status"}, after.Keys())
	require.True(t, document.Equal(document.Int(1100), field(t, after, "chapters")))
	require.True(t, document.Equal(document.String("Eiichiro Oda"), field(t, after, "author")))

	n, err = s.Update(collection, obj(`{"genres":"Action"}`), obj(`{"popular":true}`))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.Update(collection, obj(`{"title":"Bleach"}`), obj(`{"chapters":1}`))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	docs, err := s.Find(collection, obj(`{"popular":true}`))
	require.NoError(t, err)
	require.Equal(t, []string{"Naruto", "One Piece"}, titles(t, docs))
}

func testDelete(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "delete")
	insertManga(t, s, collection)

	n, err := s.Delete(collection, obj(`{"title":"Bleach"}`))
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = s.Delete(collection, obj(`{"genres":"Action"}`))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	docs, err := s.Find(collection, obj(`{}`))
	require.NoError(t, err)
	require.Equal(t, []string{"Monster"}, titles(t, docs))

	n, err = s.Delete(collection, obj(`{}`))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	docs, err = s.Find(collection, obj(`{}`))
	require.NoError(t, err)
	require.Empty(t, docs)
}

func testCopySemantics(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "copies")

	input := obj(`{"title":"Naruto","tags":["ninja"]}`)
	_, err := s.Insert(collection, input)
	require.NoError(t, err)
	input.Set("title", document.String("changed after insert"))
	require.False(t, input.Has(document.IDField), "insert must not modify the caller's document")

	doc, found, err := s.FindOne(collection, nil)
	require.NoError(t, err)
	require.True(t, found)
	doc.Set("title", document.String("changed after find"))

	again, found, err := s.FindOne(collection, nil)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"Naruto"}, titles(t, []*document.Object{again}))
}

func testInvalidRequests(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "invalid")

	for _, name := range []string{"", "../escape", "a/b", `a\b`, ".hidden", "nul\x00byte"} {
		_, err := s.Insert(name, obj(`{"a":1}`))
		require.Errorf(t, err, "collection name %q must be rejected", name)
	}

	_, err := s.Find(collection, obj(`{"chapters":{"$regex":"x"}}`))
	require.Error(t, err)
	_, err = s.Update(collection, obj(`{"chapters":{"$gt":"5"}}`), obj(`{"a":1}`))
	require.Error(t, err)
	_, err = s.Delete(collection, obj(`{"chapters":{"$gt":1,"$lt":3}}`))
	require.Error(t, err)
}

func testListCollections(t *testing.T, s store.IStore) {
	first := uniqueCollection(t, "b")
	second := uniqueCollection(t, "a")

	_, err := s.Insert(first, obj(`{"x":1}`))
	require.NoError(t, err)
	_, err = s.Insert(second, obj(`{"x":2}`))
	require.NoError(t, err)

	names, err := s.ListCollections()
	require.NoError(t, err)
	require.True(t, sort.StringsAreSorted(names))
	require.Contains(t, names, first)
	require.Contains(t, names, second)
}

func testConcurrentInserts(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "concurrent")

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := s.Insert(collection, obj(fmt.Sprintf(`{"worker":%d,"i":%d}`, w, i))); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	docs, err := s.Find(collection, nil)
	require.NoError(t, err)
	require.Len(t, docs, workers*perWorker)
}

func testConcurrentDisjointUpdates(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "disjoint")

	const n = 10
	for i := 0; i < n; i++ {
		_, err := s.Insert(collection, obj(fmt.Sprintf(`{"slot":%d,"value":0}`, i)))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.Update(collection, obj(fmt.Sprintf(`{"slot":%d}`, i)), obj(fmt.Sprintf(`{"value":%d}`, i+100)))
		}(i)
	}
	wg.Wait()
	for _, err := range results {
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		doc, found, err := s.FindOne(collection, obj(fmt.Sprintf(`{"slot":%d}`, i)))
		require.NoError(t, err)
		require.True(t, found)
		require.Truef(t, document.Equal(document.Int(int64(i+100)), field(t, doc, "value")), "update of slot %d lost", i)
	}
}

// testRealisticUsage follows a reading list through its lifecycle.
func testRealisticUsage(t *testing.T, s store.IStore) {
	collection := uniqueCollection(t, "reading")
	insertManga(t, s, collection)

	n, err := s.Update(collection, obj(`{"rating":{"$gte":9.4}}`), obj(`{"shelf":"favorites"}`))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.Update(collection, obj(`{"shelf":"favorites","chapters":{"$lt":500}}`), obj(`{"finished":true}`))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = s.Delete(collection, obj(`{"finished":true}`))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.Insert(collection, obj(`{"title":"Vagabond","genres":["Action","Historical"],"chapters":327,"shelf":"favorites"}`))
	require.NoError(t, err)

	docs, err := s.Find(collection, obj(`{"shelf":"favorites"}`))
	require.NoError(t, err)
	require.Equal(t, []string{"Naruto", "Vagabond"}, titles(t, docs))

	docs, err = s.Find(collection, obj(`{"genres":"Action","chapters":{"$lte":700}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"Naruto", "Vagabond"}, titles(t, docs))
}

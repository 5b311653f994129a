package testing

import (
	"fmt"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/store"
)

// RunStoreBenchmarks runs all benchmarks for an IStore implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Insert", func(b *testing.B) {
			benchmarkInsert(b, factory())
		})

		b.Run("FindOne", func(b *testing.B) {
			benchmarkFindOne(b, factory())
		})

		b.Run("FindRange", func(b *testing.B) {
			benchmarkFindRange(b, factory())
		})

		b.Run("Update", func(b *testing.B) {
			benchmarkUpdate(b, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Insert operation
func benchmarkInsert(b *testing.B, s store.IStore) {
	collection := uniqueCollection(b, "insert")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if _, err := s.Insert(collection, obj(fmt.Sprintf(`{"title":"bench","n":%d}`, counter))); err != nil {
				b.Error(err)
			}
			counter++
		}
	})
}

// Parallel benchmarking for FindOne on a fixed-size collection
func benchmarkFindOne(b *testing.B, s store.IStore) {
	collection := uniqueCollection(b, "findone")
	const size = 1000
	for i := 0; i < size; i++ {
		if _, err := s.Insert(collection, obj(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if _, _, err := s.FindOne(collection, obj(fmt.Sprintf(`{"n":%d}`, counter%size))); err != nil {
				b.Error(err)
			}
			counter++
		}
	})
}

// Benchmark for Find with an operator filter
func benchmarkFindRange(b *testing.B, s store.IStore) {
	collection := uniqueCollection(b, "findrange")
	const size = 1000
	for i := 0; i < size; i++ {
		if _, err := s.Insert(collection, obj(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			b.Fatal(err)
		}
	}
	filter := obj(`{"n":{"$gte":900}}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Find(collection, filter); err != nil {
			b.Error(err)
		}
	}
}

// Benchmark for Update, every call rewrites the collection file
func benchmarkUpdate(b *testing.B, s store.IStore) {
	collection := uniqueCollection(b, "update")
	const size = 100
	for i := 0; i < size; i++ {
		if _, err := s.Insert(collection, obj(fmt.Sprintf(`{"n":%d,"v":0}`, i))); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Update(collection, obj(fmt.Sprintf(`{"n":%d}`, i%size)), obj(fmt.Sprintf(`{"v":%d}`, i))); err != nil {
			b.Error(err)
		}
	}
}

// Package fstore implements store.IStore on top of one line-delimited JSON file per
// collection. It is the storage engine of the dDoc server.
//
// Layout:
//
//	<dir>/<collection>.dat   one JSON document per line, in insertion order
//
// Key Features:
//   - Lazy loading: a collection file is read once, on the first operation that
//     references the collection. Reads are served from memory afterwards.
//   - Durable inserts: a new document is appended as one line and the file is synced
//     before the insert is acknowledged. A failed append is truncated away.
//   - Crash-consistent rewrites: update and delete write the full new contents to a
//     temporary file in the same directory, sync it, rename it over the collection file
//     and sync the directory. A crash at any point leaves either the old or the new file.
//     The in-memory state is only replaced after the rename succeeded.
//   - Corruption tolerance: lines that are not a JSON object with a unique string _id
//     are skipped with a warning and counted in ddoc_store_corrupt_lines_total.
//
// Thread Safety:
//
//	Each collection has its own sync.RWMutex. Insert, update and delete hold the write
//	lock for scan and persist, find and find-one share the read lock. Operations on
//	different collections never contend. The registry of collections is an
//	xsync.MapOf, so looking up a collection does not take a global lock either.
//
// Filesystem access goes through afero, which lets tests run against an in-memory
// filesystem or inject faults.
//
// Usage Example:
//
//	s, err := fstore.NewStore(fstore.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	id, err := s.Insert("manga", document.MustParseObject(`{"title":"Naruto"}`))
package fstore

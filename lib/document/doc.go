// Package document defines the value model shared by the store, the query engine and the
// wire protocol.
//
// A Value is a closed tagged variant over the JSON value space (null, bool, number,
// string, array, object). Consumers switch on Value.Kind instead of type-asserting
// interface{} values, so every code path handles the full set of variants explicitly.
//
// Key Components:
//
//   - Value: the tagged variant. Numbers are kept in their textual form (json.Number) so
//     documents round-trip through the store byte-for-byte; comparisons go through
//     CompareNumbers, which treats 700 and 700.0 as equal.
//
//   - Object: an ordered mapping. Field order survives parsing, mutation and encoding,
//     which keeps persisted lines and responses stable.
//
//   - Parse / ParseObject: order-preserving JSON decoding with UTF-8 validation and a
//     nesting limit.
//
// Usage Example:
//
//	doc := document.MustParseObject(`{"title":"Naruto","chapters":700}`)
//	chapters, _ := doc.Get("chapters")
//	if f, ok := chapters.AsFloat(); ok && f > 500 {
//	  doc.Set("long", document.Bool(true))
//	}
//	fmt.Println(doc) // {"title":"Naruto","chapters":700,"long":true}
package document

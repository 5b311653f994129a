package query

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	naruto := document.MustParseObject(`{"_id":"1","title":"Naruto","genres":["Action","Adventure"],"chapters":700,"rating":9.6,"meta":{"done":true}}`)
	onePiece := document.MustParseObject(`{"_id":"2","title":"One Piece","genres":["Action","Drama"],"chapters":1000,"rating":9.1}`)
	short := document.MustParseObject(`{"_id":"3","title":"Short","genres":"Drama","chapters":200}`)

	testCases := []struct {
		name   string
		filter string
		want   []bool // naruto, onePiece, short
	}{
		{"empty matches all", `{}`, []bool{true, true, true}},
		{"string equality", `{"title":"Naruto"}`, []bool{true, false, false}},
		{"array membership", `{"genres":"Drama"}`, []bool{false, true, true}},
		{"whole array", `{"genres":["Action","Drama"]}`, []bool{false, true, false}},
		{"array order matters", `{"genres":["Drama","Action"]}`, []bool{false, false, false}},
		{"numeric equality across forms", `{"chapters":700.0}`, []bool{true, false, false}},
		{"gt", `{"chapters":{"$gt":500}}`, []bool{true, true, false}},
		{"gte boundary", `{"chapters":{"$gte":700}}`, []bool{true, true, false}},
		{"lt", `{"chapters":{"$lt":700}}`, []bool{false, false, true}},
		{"lte float", `{"rating":{"$lte":9.1}}`, []bool{false, true, false}},
		{"missing field never matches operator", `{"rating":{"$gt":0}}`, []bool{true, true, false}},
		{"non numeric field never matches operator", `{"title":{"$gt":1}}`, []bool{false, false, false}},
		{"conjunction", `{"genres":"Action","chapters":{"$lt":900}}`, []bool{true, false, false}},
		{"object literal", `{"meta":{"done":true}}`, []bool{true, false, false}},
		{"missing field", `{"author":"Oda"}`, []bool{false, false, false}},
		{"null literal needs field", `{"author":null}`, []bool{false, false, false}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := Compile(document.MustParseObject(tc.filter))
			require.NoError(t, err)
			for i, doc := range []*document.Object{naruto, onePiece, short} {
				require.Equalf(t, tc.want[i], q.Match(doc), "document %d", i)
			}
		})
	}
}

func TestMatchNumbersBeyondFloatRange(t *testing.T) {
	huge := document.MustParseObject(`{"x":1e400}`)

	testCases := []struct {
		filter string
		want   bool
	}{
		{`{"x":1e400}`, true},
		{`{"x":2e400}`, false},
		{`{"x":{"$gt":1}}`, true},
		{`{"x":{"$lt":1}}`, false},
		{`{"x":{"$gte":1e400}}`, true},
	}
	for _, tc := range testCases {
		q, err := Compile(document.MustParseObject(tc.filter))
		require.NoError(t, err)
		require.Equalf(t, tc.want, q.Match(huge), "filter %s", tc.filter)
	}
}

func TestCompileRejectsMalformedOperators(t *testing.T) {
	for _, filter := range []string{
		`{"chapters":{"$gt":"500"}}`,
		`{"chapters":{"$gt":500,"$lt":900}}`,
		`{"chapters":{"$regex":"x"}}`,
		`{"chapters":{"$gt":null}}`,
		`{"chapters":{"plain":1,"$gt":2}}`,
	} {
		t.Run(filter, func(t *testing.T) {
			_, err := Compile(document.MustParseObject(filter))
			var qerr *Error
			require.True(t, errors.As(err, &qerr))
			require.Equal(t, "chapters", qerr.Field)
		})
	}
}

func TestZeroAndNilQueries(t *testing.T) {
	doc := document.MustParseObject(`{"a":1}`)
	require.True(t, Query{}.Match(doc))
	require.True(t, All().IsEmpty())

	q, err := Compile(nil)
	require.NoError(t, err)
	require.True(t, q.Match(doc))
}

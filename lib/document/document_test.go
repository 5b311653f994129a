package document

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePreservesFieldOrder(t *testing.T) {
	obj, err := ParseObject([]byte(`{"z":1,"a":2,"m":{"y":true,"b":null}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"z", "a", "m"}, obj.Keys())

	nested, ok := obj.Get("m")
	require.True(t, ok)
	inner, ok := nested.AsObject()
	require.True(t, ok)
	require.Equal(t, []string{"y", "b"}, inner.Keys())

	require.Equal(t, `{"z":1,"a":2,"m":{"y":true,"b":null}}`, obj.String())
}

func TestParseKeepsNumberText(t *testing.T) {
	obj := MustParseObject(`{"i":700,"f":9.6,"neg":-3,"zero":0,"exp":1e21,"big":9007199254740993}`)
	require.Equal(t, `{"i":700,"f":9.6,"neg":-3,"zero":0,"exp":1e21,"big":9007199254740993}`, obj.String())
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"truncated", `{"a":`},
		{"trailing", `{"a":1} {}`},
		{"bare word", `nope`},
		{"invalid utf8", "{\"a\":\"\xff\"}"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.input))
			require.Error(t, err)
		})
	}

	_, err := ParseObject([]byte(`[1,2]`))
	require.ErrorIs(t, err, ErrNotAnObject)
}

func TestParseRejectsDeepNesting(t *testing.T) {
	deep := make([]byte, 0, 2*(maxDepth+10))
	for i := 0; i < maxDepth+5; i++ {
		deep = append(deep, '[')
	}
	for i := 0; i < maxDepth+5; i++ {
		deep = append(deep, ']')
	}
	_, err := Parse(deep)
	require.ErrorIs(t, err, ErrTooDeep)
}

func TestEqualNumbersAcrossRepresentations(t *testing.T) {
	require.True(t, Equal(Int(700), Number("700.0")))
	require.True(t, Equal(Float(1e2), Int(100)))
	require.False(t, Equal(Int(1), String("1")))
	require.False(t, Equal(Int(1), Int(2)))

	c, ok := CompareNumbers(Number("9007199254740993"), Number("9007199254740992"))
	require.True(t, ok)
	require.Equal(t, 1, c)

	_, ok = CompareNumbers(Int(1), String("2"))
	require.False(t, ok)
}

func TestNumbersBeyondFloatRange(t *testing.T) {
	huge := MustParseObject(`{"x":1e400}`)
	x, _ := huge.Get("x")
	require.Equal(t, "1e400", x.String())

	require.True(t, Equal(x, Number("1e400")))
	require.False(t, Equal(x, Number("2e400")))
	require.False(t, Equal(x, Number("-1e400")))

	c, ok := CompareNumbers(x, Int(1))
	require.True(t, ok)
	require.Equal(t, 1, c)

	c, ok = CompareNumbers(Number("-1e400"), x)
	require.True(t, ok)
	require.Equal(t, -1, c)

	_, ok = CompareNumbers(x, Number("2e400"))
	require.False(t, ok)

	f, ok := x.AsFloat()
	require.True(t, ok)
	require.True(t, math.IsInf(f, 1))
}

func TestEqualObjectsIgnoreFieldOrder(t *testing.T) {
	a := ObjectValue(MustParseObject(`{"a":1,"b":[1,"x"]}`))
	b := ObjectValue(MustParseObject(`{"b":[1,"x"],"a":1.0}`))
	c := ObjectValue(MustParseObject(`{"b":["x",1],"a":1}`))
	require.True(t, Equal(a, b))
	require.False(t, Equal(a, c))
}

func TestCloneIsDeep(t *testing.T) {
	orig := MustParseObject(`{"tags":["a"],"meta":{"n":1}}`)
	c := orig.Clone()

	meta, _ := c.Get("meta")
	m, _ := meta.AsObject()
	m.Set("n", Int(2))
	c.Set("tags", Array(String("b")))

	require.Equal(t, `{"tags":["a"],"meta":{"n":1}}`, orig.String())
	require.Equal(t, `{"tags":["b"],"meta":{"n":2}}`, c.String())
}

func TestObjectMutation(t *testing.T) {
	obj := NewObject()
	obj.Set("title", String("One Piece")).Set("rating", Float(9.1))
	obj.Set("title", String("One Piece!"))
	obj.SetFront(IDField, String("abc"))
	require.Equal(t, `{"_id":"abc","title":"One Piece!","rating":9.1}`, obj.String())

	id, ok := obj.ID()
	require.True(t, ok)
	require.Equal(t, "abc", id)

	require.True(t, obj.Delete("title"))
	require.False(t, obj.Delete("title"))
	require.Equal(t, 2, obj.Len())
}

func TestStringEscaping(t *testing.T) {
	obj := NewObject().Set("s", String("quote\" slash\\ nl\n tab\t ctl\x01 <html> ü 漫画"))
	encoded := obj.String()
	require.Equal(t, `{"s":"quote\" slash\\ nl\n tab\t ctl\u0001 <html> ü 漫画"}`, encoded)

	// encoding/json must agree with our encoder on the decoded contents
	var generic map[string]string
	require.NoError(t, json.Unmarshal([]byte(encoded), &generic))
	s, _ := MustParseObject(encoded).Get("s")
	str, _ := s.AsString()
	require.Equal(t, generic["s"], str)
}

func TestJSONInterop(t *testing.T) {
	type envelope struct {
		Doc  *Object `json:"doc"`
		None *Object `json:"none"`
	}
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(`{"doc":{"b":1,"a":2},"none":null}`), &env))
	require.Nil(t, env.None)
	require.Equal(t, []string{"b", "a"}, env.Doc.Keys())

	out, err := json.Marshal(env)
	require.NoError(t, err)
	require.Equal(t, `{"doc":{"b":1,"a":2},"none":null}`, string(out))
}

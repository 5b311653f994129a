package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	data, err := Encode(common.MsgTFind, document.MustParseObject(`{"collection":"manga"}`))
	require.NoError(t, err)

	payload := `{"collection":"manga"}`
	require.Equal(t, byte(4), data[0])
	require.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(data[1:5]))
	require.Equal(t, payload, string(data[5:]))
}

func TestRoundTrip(t *testing.T) {
	payloads := []string{
		`{}`,
		`{"collection":"manga","document":{"title":"漫画","chapters":0,"rating":-1.5,"big":1e300}}`,
		`{"nested":{"deep":[[[{"x":null}]]],"flag":false},"neg":-42,"esc":"a\"b\\c\n\u0001"}`,
		`{"html":"<b>&</b>","emoji":"🙂"}`,
	}
	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			obj := document.MustParseObject(p)
			data, err := Encode(common.MsgTInsert, obj)
			require.NoError(t, err)

			frame, n, err := Decode(data, 0)
			require.NoError(t, err)
			require.Equal(t, len(data), n)
			require.Equal(t, common.MsgTInsert, frame.Kind)

			decoded, err := frame.Object()
			require.NoError(t, err)
			require.Equal(t, obj.String(), decoded.String())
			require.True(t, document.Equal(document.ObjectValue(obj), document.ObjectValue(decoded)))
		})
	}
}

func TestEncodeStructPayload(t *testing.T) {
	data, err := Encode(common.MsgTError, map[string]string{"message": "<nope>"})
	require.NoError(t, err)
	require.Equal(t, `{"message":"<nope>"}`, string(data[HeaderSize:]))
}

func TestReadFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, common.MsgTFind, document.MustParseObject(`{"collection":"a"}`)))
	require.NoError(t, WriteMessage(&buf, common.MsgTListCollections, nil))
	require.NoError(t, WriteFrame(&buf, Frame{Kind: common.MsgTFindOne}))

	f1, err := ReadFrame(&buf, testMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, common.MsgTFind, f1.Kind)

	f2, err := ReadFrame(&buf, testMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, common.MsgTListCollections, f2.Kind)
	require.Equal(t, "{}", string(f2.Payload))

	f3, err := ReadFrame(&buf, testMaxFrameSize)
	require.NoError(t, err)
	require.Empty(t, f3.Payload)
	obj, err := f3.Object()
	require.NoError(t, err)
	require.Equal(t, 0, obj.Len())

	_, err = ReadFrame(&buf, testMaxFrameSize)
	require.Equal(t, io.EOF, err)
}

const testMaxFrameSize = 1 << 20

func TestTruncatedFramesAreFatal(t *testing.T) {
	data, err := Encode(common.MsgTInsert, document.MustParseObject(`{"collection":"manga","document":{}}`))
	require.NoError(t, err)

	for _, cut := range []int{1, 3, HeaderSize, HeaderSize + 1, len(data) - 1} {
		_, _, err := Decode(data[:cut], 0)
		require.Errorf(t, err, "cut at %d", cut)
		require.Truef(t, IsFatal(err), "cut at %d", cut)
		require.ErrorIs(t, err, ErrTruncated)
	}

	_, _, err = Decode(nil, 0)
	require.Equal(t, io.EOF, err)
}

func TestOversizedFrameIsFatal(t *testing.T) {
	header := make([]byte, HeaderSize)
	header[0] = byte(common.MsgTInsert)
	binary.BigEndian.PutUint32(header[1:], 1024)

	_, err := ReadFrame(bytes.NewReader(header), 512)
	require.True(t, IsFatal(err))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestMalformedPayloadIsNotFatal(t *testing.T) {
	for _, payload := range []string{`{"a":`, `[1,2]`, `nope`, "{\"a\":\"\xff\"}"} {
		_, err := Frame{Kind: common.MsgTInsert, Payload: []byte(payload)}.Object()
		require.Error(t, err)

		var pe *ProtocolError
		require.True(t, errors.As(err, &pe))
		require.False(t, pe.Fatal)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestTransportErrorsPassThrough(t *testing.T) {
	_, err := ReadFrame(failingReader{}, 0)
	require.ErrorIs(t, err, io.ErrClosedPipe)
	require.False(t, IsFatal(err))
}

package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/lib/store/fstore"
	storetesting "github.com/ValentinKolb/dDoc/lib/store/testing"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/ValentinKolb/dDoc/rpc/codec"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/ValentinKolb/dDoc/rpc/transport/tcp"
	"github.com/ValentinKolb/dDoc/rpc/transport/unix"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func testServerConfig() common.ServerConfig {
	config := common.DefaultServerConfig()
	config.Endpoint = "127.0.0.1:0"
	config.TimeoutSecond = 10
	return config
}

// startServer starts a server on an in-memory store and stops it when the test ends.
func startServer(t testing.TB, config common.ServerConfig, tr transport.IRPCServerTransport, set *metrics.Set) *RPCServer {
	st, err := fstore.NewStore(fstore.Options{Fs: afero.NewMemMapFs(), Dir: "/data", Metrics: set})
	require.NoError(t, err)

	srv := NewRPCServer(config, tr, st, set)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

func startTCPServer(t testing.TB) *RPCServer {
	return startServer(t, testServerConfig(), tcp.NewTCPDefaultServerTransport(), nil)
}

func newClient(t testing.TB, endpoint string, tr transport.IRPCClientTransport, conns int) store.IStore {
	s, err := client.NewRPCStore(common.ClientConfig{
		Endpoints:              []string{endpoint},
		TimeoutSecond:          5,
		RetryCount:             3,
		ConnectionsPerEndpoint: conns,
	}, tr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return s
}

func dial(t testing.TB, srv *RPCServer) net.Conn {
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// roundTrip writes a raw frame and reads the reply.
func roundTrip(t testing.TB, conn net.Conn, kind common.MessageType, payload string) (common.MessageType, *document.Object) {
	require.NoError(t, codec.WriteFrame(conn, codec.Frame{Kind: kind, Payload: []byte(payload)}))
	frame, err := codec.ReadFrame(conn, common.DefaultMaxFrameSize)
	require.NoError(t, err)
	obj, err := frame.Object()
	require.NoError(t, err)
	return frame.Kind, obj
}

func stringAt(t testing.TB, obj *document.Object, key string) string {
	v, ok := obj.Get(key)
	require.Truef(t, ok, "missing field %q in %s", key, obj)
	s, ok := v.AsString()
	require.Truef(t, ok, "field %q is not a string in %s", key, obj)
	return s
}

// --------------------------------------------------------------------------
// Conformance over the wire
// --------------------------------------------------------------------------

func TestRPCStoreTCP(t *testing.T) {
	srv := startTCPServer(t)
	s := newClient(t, srv.Addr().String(), tcp.NewTCPClientTransport(), 4)

	storetesting.RunStoreTests(t, "tcp", func() store.IStore { return s })
}

func TestRPCStoreUnix(t *testing.T) {
	config := testServerConfig()
	config.Endpoint = filepath.Join(t.TempDir(), "ddoc.sock")
	startServer(t, config, unix.NewUnixDefaultServerTransport(), nil)

	s := newClient(t, config.Endpoint, unix.NewUnixClientTransport(), 2)

	storetesting.RunStoreTests(t, "unix", func() store.IStore { return s })
}

func TestMangaScenario(t *testing.T) {
	srv := startTCPServer(t)
	s := newClient(t, srv.Addr().String(), tcp.NewTCPClientTransport(), 1)

	id, err := s.Insert("manga", document.MustParseObject(`{"title":"Naruto","chapters":700}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, found, err := s.FindOne("manga", document.MustParseObject(`{"title":"Naruto"}`))
	require.NoError(t, err)
	require.True(t, found)
	docID, _ := doc.ID()
	require.Equal(t, id, docID)
	chapters, _ := doc.Get("chapters")
	require.True(t, document.Equal(document.Int(700), chapters))

	deleted, err := s.Delete("manga", document.MustParseObject(`{"title":"Naruto"}`))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	docs, err := s.Find("manga", document.NewObject())
	require.NoError(t, err)
	require.NotNil(t, docs)
	require.Empty(t, docs)
}

// --------------------------------------------------------------------------
// Protocol level
// --------------------------------------------------------------------------

func TestRawWireFormat(t *testing.T) {
	srv := startTCPServer(t)
	conn := dial(t, srv)

	kind, resp := roundTrip(t, conn, common.MsgTInsert, `{"collection":"manga","document":{"title":"One Piece","chapters":1100}}`)
	require.Equal(t, common.MsgTResponse, kind)
	require.Equal(t, common.StatusSuccess, stringAt(t, resp, common.FieldStatus))
	id := stringAt(t, resp, common.FieldID)

	// find without a query defaults to all documents
	kind, resp = roundTrip(t, conn, common.MsgTFind, `{"collection":"manga"}`)
	require.Equal(t, common.MsgTResponse, kind)
	docs, _ := resp.Get(common.FieldDocuments)
	items, ok := docs.AsArray()
	require.True(t, ok)
	require.Len(t, items, 1)
	first, _ := items[0].AsObject()
	require.Equal(t, []string{"_id", "title", "chapters"}, first.Keys())
	firstID, _ := first.ID()
	require.Equal(t, id, firstID)

	kind, resp = roundTrip(t, conn, common.MsgTUpdate, `{"collection":"manga","query":{"title":"One Piece"},"update":{"rating":9.6}}`)
	require.Equal(t, common.MsgTResponse, kind)
	require.Equal(t, `{"status":"success","modified_count":1}`, resp.String())

	kind, resp = roundTrip(t, conn, common.MsgTFindOne, `{"collection":"manga","query":{"title":"Bleach"}}`)
	require.Equal(t, common.MsgTResponse, kind)
	require.Equal(t, `{"status":"success","document":null}`, resp.String())

	kind, resp = roundTrip(t, conn, common.MsgTDelete, `{"collection":"manga","query":{"chapters":{"$gt":1000}}}`)
	require.Equal(t, common.MsgTResponse, kind)
	require.Equal(t, `{"status":"success","deleted_count":1}`, resp.String())

	kind, resp = roundTrip(t, conn, common.MsgTListCollections, ``)
	require.Equal(t, common.MsgTResponse, kind)
	require.Equal(t, `{"status":"success","collections":["manga"]}`, resp.String())
}

func TestErrorsKeepSessionOpen(t *testing.T) {
	srv := startTCPServer(t)
	conn := dial(t, srv)

	tests := []struct {
		name    string
		kind    common.MessageType
		payload string
		msg     string
	}{
		{"malformed json", common.MsgTInsert, `{"collection":`, "malformed payload"},
		{"not a mapping", common.MsgTFind, `[1,2,3]`, "malformed payload"},
		{"unknown kind", common.MessageType(42), `{}`, "unknown message type"},
		{"reply kind", common.MsgTResponse, `{}`, "not a request"},
		{"missing collection", common.MsgTInsert, `{"document":{}}`, `"collection"`},
		{"document not a mapping", common.MsgTInsert, `{"collection":"c","document":[1]}`, `"document"`},
		{"update without query", common.MsgTUpdate, `{"collection":"c","update":{"a":1}}`, `"query"`},
		{"delete without query", common.MsgTDelete, `{"collection":"c"}`, `"query"`},
		{"bad collection name", common.MsgTInsert, `{"collection":"../etc","document":{}}`, "collection"},
		{"bad operator", common.MsgTFind, `{"collection":"c","query":{"a":{"$regex":"x"}}}`, "$regex"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kind, resp := roundTrip(t, conn, tc.kind, tc.payload)
			require.Equal(t, common.MsgTError, kind)
			require.Equal(t, common.StatusError, stringAt(t, resp, common.FieldStatus))
			require.Contains(t, stringAt(t, resp, common.FieldMessage), tc.msg)
		})
	}

	// the same session still serves valid requests
	kind, resp := roundTrip(t, conn, common.MsgTInsert, `{"collection":"c","document":{"ok":true}}`)
	require.Equal(t, common.MsgTResponse, kind)
	require.NotEmpty(t, stringAt(t, resp, common.FieldID))
}

func TestRemoteErrorsCarryRemoteCode(t *testing.T) {
	srv := startTCPServer(t)
	s := newClient(t, srv.Addr().String(), tcp.NewTCPClientTransport(), 1)

	_, err := s.Find("c", document.MustParseObject(`{"n":{"$gt":"high"}}`))
	require.Error(t, err)
	require.Equal(t, store.RetCRemote, store.CodeOf(err))
	require.Contains(t, err.Error(), "$gt")
}

func TestOversizedFrameClosesSession(t *testing.T) {
	config := testServerConfig()
	config.MaxFrameSize = 1024
	srv := startServer(t, config, tcp.NewTCPDefaultServerTransport(), nil)
	conn := dial(t, srv)

	// a request within the limit is answered
	kind, _ := roundTrip(t, conn, common.MsgTListCollections, `{}`)
	require.Equal(t, common.MsgTResponse, kind)

	header := make([]byte, codec.HeaderSize)
	header[0] = byte(common.MsgTInsert)
	binary.BigEndian.PutUint32(header[1:], 4096)
	_, err := conn.Write(header)
	require.NoError(t, err)

	_, err = codec.ReadFrame(conn, common.DefaultMaxFrameSize)
	require.Error(t, err)
}

func TestTruncatedFrameClosesSession(t *testing.T) {
	srv := startTCPServer(t)
	conn := dial(t, srv)

	data, err := codec.Encode(common.MsgTInsert, document.MustParseObject(`{"collection":"c","document":{}}`))
	require.NoError(t, err)
	_, err = conn.Write(data[:len(data)-3])
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	_, err = codec.ReadFrame(conn, common.DefaultMaxFrameSize)
	require.Equal(t, io.EOF, err)
}

func TestResponseLargerThanFrameLimit(t *testing.T) {
	config := testServerConfig()
	config.MaxFrameSize = 512
	srv := startServer(t, config, tcp.NewTCPDefaultServerTransport(), nil)
	conn := dial(t, srv)

	for i := 0; i < 10; i++ {
		kind, _ := roundTrip(t, conn, common.MsgTInsert, fmt.Sprintf(`{"collection":"big","document":{"i":%d,"pad":"0123456789012345678901234567890123456789"}}`, i))
		require.Equal(t, common.MsgTResponse, kind)
	}

	kind, resp := roundTrip(t, conn, common.MsgTFind, `{"collection":"big"}`)
	require.Equal(t, common.MsgTError, kind)
	require.Contains(t, stringAt(t, resp, common.FieldMessage), "maximum frame size")
}

// --------------------------------------------------------------------------
// Connection handling
// --------------------------------------------------------------------------

func TestConnectionsAreIndependent(t *testing.T) {
	srv := startTCPServer(t)
	a := dial(t, srv)
	b := dial(t, srv)

	// a half-written frame on one connection does not block the other
	_, err := a.Write([]byte{byte(common.MsgTInsert), 0, 0})
	require.NoError(t, err)

	kind, _ := roundTrip(t, b, common.MsgTListCollections, `{}`)
	require.Equal(t, common.MsgTResponse, kind)
}

func TestMaxConnections(t *testing.T) {
	config := testServerConfig()
	config.MaxConnections = 1
	srv := startServer(t, config, tcp.NewTCPDefaultServerTransport(), nil)

	first := dial(t, srv)
	kind, _ := roundTrip(t, first, common.MsgTListCollections, `{}`)
	require.Equal(t, common.MsgTResponse, kind)

	second := dial(t, srv)
	_ = codec.WriteFrame(second, codec.Frame{Kind: common.MsgTListCollections})
	_, err := codec.ReadFrame(second, common.DefaultMaxFrameSize)
	require.Error(t, err)

	// the first session is unaffected
	kind, _ = roundTrip(t, first, common.MsgTListCollections, `{}`)
	require.Equal(t, common.MsgTResponse, kind)
}

func TestShutdown(t *testing.T) {
	srv := startTCPServer(t)
	tr := tcp.NewTCPClientTransport()
	s := newClient(t, srv.Addr().String(), tr, 2)

	_, err := s.Insert("c", document.MustParseObject(`{"a":1}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.Zero(t, srv.transport.ActiveConnections())

	_, err = s.Insert("c", document.MustParseObject(`{"a":2}`))
	require.Error(t, err)

	_, err = net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.Error(t, err)

	// a second shutdown is a no-op
	require.NoError(t, srv.Shutdown(ctx))
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

func TestMetrics(t *testing.T) {
	set := metrics.NewSet()
	config := testServerConfig()
	config.MetricsEndpoint = "127.0.0.1:0"
	srv := startServer(t, config, tcp.NewTCPDefaultServerTransport(), set)
	conn := dial(t, srv)

	roundTrip(t, conn, common.MsgTInsert, `{"collection":"m","document":{"a":1}}`)
	roundTrip(t, conn, common.MsgTInsert, `{"collection":"m","document":{"a":2}}`)
	roundTrip(t, conn, common.MsgTUpdate, `{"collection":"m","query":{"a":1},"update":{"b":true}}`)
	roundTrip(t, conn, common.MsgTFind, `{"collection":"m","query":{"a":{"$in":[1]}}}`)

	var buf bytes.Buffer
	set.WritePrometheus(&buf)
	out := buf.String()
	require.Contains(t, out, `ddoc_requests_total{kind="insert"} 2`)
	require.Contains(t, out, `ddoc_requests_total{kind="update"} 1`)
	require.Contains(t, out, `ddoc_request_errors_total{kind="find"} 1`)
	require.Contains(t, out, `ddoc_connections_active 1`)
	require.Contains(t, out, `ddoc_store_rewrites_total 1`)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.MetricsAddr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `ddoc_requests_total{kind="insert"} 2`)
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

func BenchmarkRPCStore(b *testing.B) {
	srv := startTCPServer(b)
	s := newClient(b, srv.Addr().String(), tcp.NewTCPClientTransport(), 4)

	storetesting.RunStoreBenchmarks(b, "tcp", func() store.IStore { return s })
}

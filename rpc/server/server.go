package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/codec"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// shutdownTimeout bounds how long Serve waits for open sessions after its context ends.
const shutdownTimeout = 10 * time.Second

// NewRPCServer creates a new RPC server
// It takes a config, transport, the store all requests are executed on and the metrics
// set request metrics are registered in (a private set is used if nil).
//
// Usage:
//
//	st, _ := fstore.NewStore(fstore.Options{Fs: afero.NewOsFs(), Dir: "data", SyncWrites: true})
//	s := server.NewRPCServer(
//		common.DefaultServerConfig(),
//		tcp.NewTCPDefaultServerTransport(),
//		st,
//		nil,
//	)
//
//	if err := s.Serve(ctx); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	store store.IStore,
	set *metrics.Set,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if config.MaxFrameSize == 0 {
		config.MaxFrameSize = common.DefaultMaxFrameSize
	}
	if set == nil {
		set = metrics.NewSet()
	}

	s := &RPCServer{
		config:    config,
		transport: transport,
		store:     store,
		adapter:   NewIStoreServerAdapter(),
		metrics:   set,
	}
	set.NewGauge("ddoc_connections_active", func() float64 {
		return float64(transport.ActiveConnections())
	})
	transport.RegisterHandler(s.handle)

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return s
}

// RPCServer answers framed requests from the transport against a single store.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	store      store.IStore
	adapter    IRPCServerAdapter
	metrics    *metrics.Set
	metricsSrv *http.Server
	metricsLn  net.Listener
}

// Start binds the transport (and the metrics endpoint, if configured) and returns
// once the server accepts connections.
func (s *RPCServer) Start() error {
	if s.config.MetricsEndpoint != "" {
		if err := s.startMetricsEndpoint(); err != nil {
			return err
		}
	}
	if err := s.transport.Listen(s.config); err != nil {
		if s.metricsSrv != nil {
			_ = s.metricsSrv.Close()
		}
		return err
	}
	Logger.Infof("dDoc server ready on %s", s.transport.Addr())
	return nil
}

// Serve starts the server and blocks until ctx is done, then shuts down gracefully.
func (s *RPCServer) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	Logger.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the transport and the metrics endpoint. Sessions still open when ctx
// is done are closed forcibly.
func (s *RPCServer) Shutdown(ctx context.Context) error {
	err := s.transport.Shutdown(ctx)
	if s.metricsSrv != nil {
		if mErr := s.metricsSrv.Shutdown(ctx); mErr != nil && err == nil {
			err = mErr
		}
	}
	return err
}

// Addr returns the address of the RPC listener, nil before Start.
func (s *RPCServer) Addr() net.Addr {
	return s.transport.Addr()
}

// MetricsAddr returns the address of the metrics endpoint, nil if it is disabled.
func (s *RPCServer) MetricsAddr() net.Addr {
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

// --------------------------------------------------------------------------
// Request Handling
// --------------------------------------------------------------------------

// handle is registered with the transport. Every frame gets exactly one reply.
func (s *RPCServer) handle(req codec.Frame) codec.Frame {
	start := time.Now()
	resp := s.dispatch(req)

	label := req.Kind.String()
	if !req.Kind.IsRequest() {
		label = "invalid"
	}
	s.metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_requests_total{kind=%q}`, label)).Inc()
	if resp.MsgType == common.MsgTError {
		s.metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_request_errors_total{kind=%q}`, label)).Inc()
	}
	s.metrics.GetOrCreateHistogram(fmt.Sprintf(`ddoc_request_duration_seconds{kind=%q}`, label)).Update(time.Since(start).Seconds())

	return s.encode(resp)
}

func (s *RPCServer) dispatch(frame codec.Frame) *common.Response {
	payload, err := frame.Object()
	if err != nil {
		Logger.Debugf("Rejected %s request: %v", frame.Kind, err)
		return common.NewErrorResponse(err.Error())
	}

	req, err := common.ParseRequest(frame.Kind, payload)
	if err != nil {
		Logger.Debugf("Rejected %s request: %v", frame.Kind, err)
		return errorResponse(err)
	}

	return s.adapter.Handle(req, s.store)
}

// encode renders resp as a frame. A reply that would not fit into a frame is replaced
// by an error, since the client would have to drop the connection reading it.
func (s *RPCServer) encode(resp *common.Response) codec.Frame {
	payload := []byte(resp.Payload().String())
	if uint64(len(payload)) > uint64(s.config.MaxFrameSize) {
		Logger.Warningf("Response of %d bytes exceeds the frame limit of %d bytes", len(payload), s.config.MaxFrameSize)
		resp = common.NewErrorResponse(fmt.Sprintf("response of %d bytes exceeds maximum frame size", len(payload)))
		payload = []byte(resp.Payload().String())
	}
	return codec.Frame{Kind: resp.MsgType, Payload: payload}
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

func (s *RPCServer) startMetricsEndpoint() error {
	listener, err := net.Listen("tcp", s.config.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics endpoint: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		s.metrics.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
	s.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.metricsLn = listener

	go func() {
		if err := s.metricsSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("Metrics endpoint stopped: %v", err)
		}
	}()

	Logger.Infof("Serving metrics on http://%s/metrics", listener.Addr())
	return nil
}

package base

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/rpc/codec"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	handler    transport.ServerHandleFunc
	config     common.ServerConfig
	bufferSize int

	listener   net.Listener
	connPool   *ants.Pool // bounds concurrent sessions, nil = unlimited
	conns      *xsync.MapOf[net.Conn, struct{}]
	sessions   sync.WaitGroup
	acceptDone chan struct{}
	closing    atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport. bufferSize is the size
// of the per-connection read buffer.
func NewBaseServerTransport(connector IServerConnector, bufferSize int) transport.IRPCServerTransport {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	return &serverTransport{
		connector:  connector,
		bufferSize: bufferSize,
		conns:      xsync.NewMapOf[net.Conn, struct{}](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return errors.New("no handler registered")
	}
	if t.listener != nil {
		return errors.New("transport is already listening")
	}
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	if config.MaxConnections > 0 {
		pool, err := ants.NewPool(config.MaxConnections,
			ants.WithNonblocking(true),
			ants.WithPanicHandler(func(v any) {
				Logger.Errorf("Connection handler panic: %v", v)
			}))
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		t.connPool = pool
	}

	t.listener = listener
	t.acceptDone = make(chan struct{})

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), listener.Addr())

	go t.acceptLoop()
	return nil
}

func (t *serverTransport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *serverTransport) ActiveConnections() int {
	return t.conns.Size()
}

func (t *serverTransport) Shutdown(ctx context.Context) error {
	if t.listener == nil || !t.closing.CompareAndSwap(false, true) {
		return nil
	}

	// Stop accepting
	_ = t.listener.Close()
	<-t.acceptDone

	// Wake up sessions blocked in a read. A session that is processing a request
	// writes its reply and then fails on the next read.
	t.conns.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.SetReadDeadline(time.Now())
		return true
	})

	done := make(chan struct{})
	go func() {
		t.sessions.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		t.conns.Range(func(conn net.Conn, _ struct{}) bool {
			_ = conn.Close()
			return true
		})
		<-done
	}

	if t.connPool != nil {
		if releaseErr := t.connPool.ReleaseTimeout(3 * time.Second); releaseErr != nil {
			Logger.Warningf("Connection pool did not drain: %v", releaseErr)
		}
	}

	Logger.Infof("%s server on %s stopped", t.connector.GetName(), t.listener.Addr())
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop accepts connections until the listener is closed. The loop never waits
// on session work.
func (t *serverTransport) acceptLoop() {
	defer close(t.acceptDone)

	var backoff time.Duration
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			Logger.Errorf("Accept error: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		t.conns.Store(conn, struct{}{})
		t.sessions.Add(1)
		session := func() {
			defer t.sessions.Done()
			t.handleConnection(conn)
		}

		if t.connPool == nil {
			go session()
			continue
		}
		if err := t.connPool.Submit(session); err != nil {
			// pool is full (or released): refuse the connection right away
			t.sessions.Done()
			t.conns.Delete(conn)
			_ = conn.Close()
			Logger.Warningf("Rejected connection from %s: %v", conn.RemoteAddr(), err)
		}
	}
}

// handleConnection runs one session: read a frame, hand it to the handler, write the
// reply, repeat. Requests on one connection are processed strictly in order.
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer func() {
		t.conns.Delete(conn)
		_ = conn.Close()
	}()

	Logger.Debugf("New connection from %s", conn.RemoteAddr())

	// Timeout in seconds
	timeout := time.Duration(t.config.TimeoutSecond) * time.Second
	reader := bufio.NewReaderSize(conn, t.bufferSize)

	for {
		if timeout > 0 && !t.closing.Load() {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set read deadline: %v", err)
				return
			}
			// Shutdown may have expired the deadline in between
			if t.closing.Load() {
				_ = conn.SetReadDeadline(time.Now())
			}
		}

		req, err := codec.ReadFrame(reader, t.config.MaxFrameSize)
		if err != nil {
			t.logSessionEnd(conn, err)
			return
		}

		resp := t.handler(req)

		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}
		if err := codec.WriteFrame(conn, resp); err != nil {
			Logger.Errorf("Failed to write response to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func (t *serverTransport) logSessionEnd(conn net.Conn, err error) {
	var netErr net.Error
	switch {
	case err == io.EOF:
		Logger.Debugf("Connection closed by client %s", conn.RemoteAddr())
	case t.closing.Load():
		Logger.Debugf("Closing connection %s for shutdown", conn.RemoteAddr())
	case codec.IsFatal(err):
		Logger.Warningf("Closing connection %s: %v", conn.RemoteAddr(), err)
	case errors.As(err, &netErr) && netErr.Timeout():
		Logger.Infof("Closing idle connection %s", conn.RemoteAddr())
	default:
		Logger.Errorf("Error reading from %s: %v", conn.RemoteAddr(), err)
	}
}

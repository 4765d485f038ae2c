package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pchastel/causerie/pkg/database"
	"github.com/pchastel/causerie/pkg/protocol"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// ErrClientDisconnecting is returned by a handler when the client requested a
// graceful LOGOUT, so the read loop exits cleanly.
var ErrClientDisconnecting = errors.New("client disconnecting")

// Server accepts client streams, owns the session registry, and dispatches
// protocol commands against the store.
type Server struct {
	store    database.Store
	registry *Registry
	config   ServerConfig
	metrics  *Metrics

	listener  net.Listener
	shutdown  chan struct{}
	wg        sync.WaitGroup
	startTime time.Time

	// Every live session, authenticated or not, keyed by session id.
	// Shutdown must reach pre-auth connections too; the registry only
	// knows logged-in users.
	liveMu sync.Mutex
	live   map[uint64]*Session

	nextSessionID atomic.Uint64
	openConns     atomic.Int64
	stopOnce      sync.Once

	// Connection deltas for the periodic metrics log line
	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64
}

// InitLogging routes the error log to stderr plus errors.log under dataDir
// and the standard log to stdout plus server.log. Debug logging stays off
// until EnableDebugLogging.
func InitLogging(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	errorFile, err := os.OpenFile(filepath.Join(dataDir, "errors.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	// Startup marker, for distinguishing between runs
	if _, err := fmt.Fprintf(errorFile, "=== Server started at %s ===\n", time.Now().Format(time.RFC3339)); err != nil {
		return err
	}
	errorLog = log.New(io.MultiWriter(os.Stderr, errorFile), "ERROR: ", log.LstdFlags)

	serverLogFile, err := os.OpenFile(filepath.Join(dataDir, "server.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, serverLogFile))

	return nil
}

// EnableDebugLogging enables per-frame debug logging to debug.log.
func EnableDebugLogging(dataDir string) {
	debugLogFile, err := os.OpenFile(filepath.Join(dataDir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		log.Printf("Failed to open debug.log: %v", err)
		return
	}
	debugLog = log.New(debugLogFile, "DEBUG: ", log.LstdFlags)
	debugLog.Println("Debug logging enabled")
}

// NewServer creates a server instance over an already-open store. The store
// handle is injected here once and passed to everything that needs it; there
// is no ambient global persistence state.
func NewServer(store database.Store, config ServerConfig) *Server {
	return &Server{
		store:     store,
		registry:  NewRegistry(),
		config:    config,
		metrics:   NewMetrics(),
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
		live:      make(map[uint64]*Session),
	}
}

// Start begins listening for connections. A store that cannot be reached at
// boot, or a busy port, is a fatal startup error.
func (s *Server) Start() error {
	// Reset presence first: a crash that skipped disconnect cleanup must
	// not leave users stuck ONLINE. This also proves the store reachable.
	if err := s.store.SetAllOffline(); err != nil {
		return fmt.Errorf("store unreachable at startup: %w", err)
	}

	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("TCP listener on %s", listener.Addr())

	if s.config.MetricsPort > 0 {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", s.metrics.Handler())
			metricsMux.HandleFunc("/health", s.HealthHandler)
			addr := fmt.Sprintf(":%d", s.config.MetricsPort)
			log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", addr)
			if err := http.ListenAndServe(addr, metricsMux); err != nil {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	if s.config.HTTPPort > 0 {
		go func() {
			publicMux := http.NewServeMux()
			publicMux.HandleFunc("/ws", s.HandleWebSocket)
			addr := fmt.Sprintf(":%d", s.config.HTTPPort)
			log.Printf("Public HTTP server listening on %s (/ws)", addr)
			if err := http.ListenAndServe(addr, publicMux); err != nil {
				log.Printf("Public HTTP server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.metricsLoggingLoop()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the address the TCP listener is bound to.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server: release the listener, close every live
// session through the shared cleanup path, and wait for the loops to finish.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		log.Println("Graceful shutdown initiated...")
		close(s.shutdown)

		if s.listener != nil {
			s.listener.Close()
		}

		s.liveMu.Lock()
		sessions := make([]*Session, 0, len(s.live))
		for _, sess := range s.live {
			sessions = append(sessions, sess)
		}
		s.liveMu.Unlock()
		for _, sess := range sessions {
			s.disconnect(sess)
		}

		s.wg.Wait()
		log.Println("Graceful shutdown complete")
	})
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("Accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection runs the read loop for one accepted TCP connection. Each
// connection owns its own goroutine, so a stalled client never blocks others.
func (s *Server) handleConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	s.serveStream(conn, "tcp")
}

// serveStream drives one client stream (any transport) to completion.
func (s *Server) serveStream(stream Stream, transport string) {
	sess := &Session{
		ID:         s.nextSessionID.Add(1),
		Conn:       NewSafeConn(stream),
		RemoteAddr: stream.RemoteAddr().String(),
		Transport:  transport,
	}

	s.liveMu.Lock()
	s.live[sess.ID] = sess
	s.liveMu.Unlock()

	s.connectionsSinceReport.Add(1)
	s.metrics.RecordConnectionOpened(int(s.openConns.Add(1)))
	debugLog.Printf("Session %d: new %s connection from %s", sess.ID, transport, sess.RemoteAddr)

	defer func() {
		s.liveMu.Lock()
		delete(s.live, sess.ID)
		s.liveMu.Unlock()

		s.disconnectionsSinceReport.Add(1)
		s.metrics.RecordConnectionClosed(int(s.openConns.Add(-1)))
		s.disconnect(sess)
	}()

	scanner := bufio.NewScanner(sess.Conn.Reader())
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxLineBytes)

	for scanner.Scan() {
		line := protocol.TrimFrame(scanner.Text())
		if line == "" {
			continue
		}

		if err := s.handleFrame(sess, line); err != nil {
			if errors.Is(err, ErrClientDisconnecting) {
				debugLog.Printf("Session %d: disconnected gracefully", sess.ID)
				return
			}
			// A handler error here means the reply write failed, which
			// is a transport error fatal to this session only.
			debugLog.Printf("Session %d: write error: %v", sess.ID, err)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			errorLog.Printf("Session %d: oversized frame, closing connection", sess.ID)
		} else {
			debugLog.Printf("Session %d: read error: %v", sess.ID, err)
		}
	} else {
		debugLog.Printf("Session %d: client closed connection", sess.ID)
	}
}

// handleFrame dispatches one decoded frame to its handler. Malformed and
// unsupported commands are answered with an error frame and leave the
// connection open; only transport errors and LOGOUT tear a session down.
func (s *Server) handleFrame(sess *Session, line string) error {
	command := protocol.ParseCommandN(line, 2)[0]
	s.metrics.RecordFrameReceived(command)
	debugLog.Printf("Session %d ← RECV: %s (%d bytes)", sess.ID, command, len(line))

	switch command {
	case protocol.CmdLogin:
		return s.handleLogin(sess, line)
	case protocol.CmdRegister:
		return s.handleRegister(sess, line)
	case protocol.CmdSendMsg:
		return s.handleSendMessage(sess, line)
	case protocol.CmdUserList:
		return s.handleGetUsers(sess)
	case protocol.CmdHistory:
		return s.handleGetHistory(sess, line)
	case protocol.CmdLogout:
		return s.handleLogout(sess)
	default:
		s.metrics.RecordProtocolError()
		return s.send(sess, protocol.RespError, "Unknown command")
	}
}

// send frames and writes a reply to one session, recording the metric.
func (s *Server) send(sess *Session, parts ...string) error {
	s.metrics.RecordFrameSent(parts[0])
	return sess.Conn.WriteFrame(parts...)
}

// HealthHandler reports basic liveness for the internal HTTP listener.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ok\nuptime: %s\nonline users: %d\n",
		time.Since(s.startTime).Round(time.Second), s.registry.Count())
}

// metricsLoggingLoop periodically logs key counters.
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)
			log.Printf("[METRICS] Online users: %d, open connections: %d, connected since last: %d, disconnected since last: %d, goroutines: %d",
				s.registry.Count(), s.openConns.Load(), connected, disconnected, runtime.NumGoroutine())
		}
	}
}

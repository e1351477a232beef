// Package protocol serves a Datastore over the PostgreSQL wire protocol.
// Only the simple query protocol is supported and SSL is always declined.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/adrianmcphee/cloudblob"
	"github.com/adrianmcphee/cloudblob/internal/executor"
	"github.com/jackc/pgproto3/v2"
)

const (
	textOID       = 25
	serverVersion = "15.0 (cloudblob)"
	versionBanner = "cloudblob 0.1.0 - PostgreSQL compatible document store"
)

// Server handles PostgreSQL wire protocol connections
type Server struct {
	addr     string
	executor *executor.Executor
	logger   cloudblob.Logger
	metrics  cloudblob.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a protocol server for ds. addr is a TCP listen address
// such as ":5433"; port 0 picks a free port.
func NewServer(addr string, ds *cloudblob.Datastore, logger cloudblob.Logger, metrics cloudblob.Metrics) *Server {
	if logger == nil {
		logger = &cloudblob.NoOpLogger{}
	}
	if metrics == nil {
		metrics = &cloudblob.NoOpMetrics{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     addr,
		executor: executor.NewExecutor(ds),
		logger:   logger,
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// WithProfiler records a QueryProfile for every SELECT served. It must be
// called before Serve.
func (s *Server) WithProfiler(profiler *cloudblob.QueryProfiler) *Server {
	s.ctx = cloudblob.WithProfiler(s.ctx, profiler)
	return s
}

// Listen binds the listen address without accepting connections yet
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return net.ErrClosed
	}
	if s.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = l
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves until Close is called
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts connections on the bound listener. It returns nil once the
// server is closed.
func (s *Server) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("server is not listening")
	}

	s.logger.Info("sql gateway listening", "addr", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept error", "error", err)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(conn)
		}()
	}
}

// Close stops accepting, drops open connections and waits for their
// handlers to return
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// handleConnection processes a single client connection
func (s *Server) handleConnection(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.logger.Debug("new connection", "remote", remote)

	backend := pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn)
	if err := s.handleStartup(conn, backend); err != nil {
		s.logger.Warn("startup failed", "remote", remote, "error", err)
		return
	}

	for {
		msg, err := backend.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("receive error", "remote", remote, "error", err)
			}
			return
		}

		switch m := msg.(type) {
		case *pgproto3.Query:
			if err := s.handleQuery(conn, m.String); err != nil {
				s.logger.Debug("write error", "remote", remote, "error", err)
				return
			}

		case *pgproto3.Sync:
			if _, err := conn.Write((&pgproto3.ReadyForQuery{TxStatus: 'I'}).Encode(nil)); err != nil {
				return
			}

		case *pgproto3.Terminate:
			s.logger.Debug("client terminated connection", "remote", remote)
			return

		default:
			s.logger.Debug("unhandled message type", "remote", remote, "type", fmt.Sprintf("%T", msg))
			buf := (&pgproto3.ErrorResponse{
				Severity: "ERROR",
				Code:     "0A000",
				Message:  "only the simple query protocol is supported",
			}).Encode(nil)
			if _, err := conn.Write(buf); err != nil {
				return
			}
		}
	}
}

// handleStartup declines SSL and answers the startup message with a
// trust-style authentication
func (s *Server) handleStartup(conn net.Conn, backend *pgproto3.Backend) error {
	for {
		msg, err := backend.ReceiveStartupMessage()
		if err != nil {
			return fmt.Errorf("receive startup: %w", err)
		}

		switch m := msg.(type) {
		case *pgproto3.SSLRequest:
			// Client will send a regular startup next
			if _, err := conn.Write([]byte{'N'}); err != nil {
				return fmt.Errorf("write SSL response: %w", err)
			}

		case *pgproto3.StartupMessage:
			s.logger.Debug("startup",
				"database", m.Parameters["database"],
				"user", m.Parameters["user"],
			)

			buf := (&pgproto3.AuthenticationOk{}).Encode(nil)
			for _, p := range []pgproto3.ParameterStatus{
				{Name: "server_version", Value: serverVersion},
				{Name: "client_encoding", Value: "UTF8"},
				{Name: "DateStyle", Value: "ISO, MDY"},
				{Name: "server_encoding", Value: "UTF8"},
				{Name: "TimeZone", Value: "UTC"},
				{Name: "integer_datetimes", Value: "on"},
				{Name: "standard_conforming_strings", Value: "on"},
			} {
				buf = p.Encode(buf)
			}
			buf = (&pgproto3.BackendKeyData{ProcessID: 1234, SecretKey: 5678}).Encode(buf)
			buf = (&pgproto3.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
			_, err := conn.Write(buf)
			return err

		case *pgproto3.CancelRequest:
			return errors.New("cancel requests are not supported")

		default:
			return fmt.Errorf("unexpected startup message %T", msg)
		}
	}
}

// handleQuery executes a simple query and writes the full response,
// ending with ReadyForQuery
func (s *Server) handleQuery(conn net.Conn, query string) error {
	command := commandOf(query)
	s.logger.Debug("query", "command", command, "sql", query)
	s.metrics.Increment(cloudblob.MetricSQLQueries, "command", command)

	var buf []byte
	switch {
	case command == "":
		buf = (&pgproto3.EmptyQueryResponse{}).Encode(buf)

	case isVersionQuery(query):
		buf = encodeResult(buf, &executor.Result{
			Columns: []string{"version"},
			Rows:    [][]string{{versionBanner}},
			Message: "SELECT 1",
		})

	default:
		result, err := s.executor.Execute(s.ctx, query)
		if err != nil {
			s.metrics.Increment(cloudblob.MetricSQLErrors, "command", command)
			s.logger.Warn("query failed", "command", command, "error", err)
			buf = (&pgproto3.ErrorResponse{
				Severity: "ERROR",
				Code:     sqlState(err),
				Message:  err.Error(),
			}).Encode(buf)
		} else {
			buf = encodeResult(buf, result)
		}
	}

	buf = (&pgproto3.ReadyForQuery{TxStatus: 'I'}).Encode(buf)
	_, err := conn.Write(buf)
	return err
}

func encodeResult(buf []byte, result *executor.Result) []byte {
	if len(result.Columns) > 0 {
		fields := make([]pgproto3.FieldDescription, len(result.Columns))
		for i, name := range result.Columns {
			fields[i] = pgproto3.FieldDescription{
				Name:         []byte(name),
				DataTypeOID:  textOID,
				DataTypeSize: -1,
				TypeModifier: -1,
			}
		}
		buf = (&pgproto3.RowDescription{Fields: fields}).Encode(buf)

		for _, row := range result.Rows {
			values := make([][]byte, len(row))
			for i, v := range row {
				values[i] = []byte(v)
			}
			buf = (&pgproto3.DataRow{Values: values}).Encode(buf)
		}
	}
	return (&pgproto3.CommandComplete{CommandTag: []byte(result.Message)}).Encode(buf)
}

// commandOf returns the upper-cased leading keyword of a statement
func commandOf(query string) string {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if len(fields) == 0 {
		return ""
	}
	switch cmd := strings.ToUpper(fields[0]); cmd {
	case "SELECT", "INSERT", "UPDATE", "DELETE":
		return cmd
	}
	return "OTHER"
}

func isVersionQuery(query string) bool {
	q := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	return strings.Join(strings.Fields(q), " ") == "select version()"
}

// sqlState maps datastore errors onto PostgreSQL error codes
func sqlState(err error) string {
	switch {
	case errors.Is(err, cloudblob.ErrUnconfiguredNamespace):
		return "42P01" // undefined_table
	case cloudblob.IsConfigError(err), errors.Is(err, cloudblob.ErrNoIndexer):
		return "55000" // object_not_in_prerequisite_state
	case errors.Is(err, cloudblob.ErrInvalidData):
		return "22P02" // invalid_text_representation
	case cloudblob.IsRetryable(err):
		return "58000" // system_error
	}
	return "42601" // syntax_error
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/nickyhof/CommitQuery"
	"github.com/nickyhof/CommitQuery/core"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/logger"
)

var errNoProject = errors.New("no project selected: send USE <project>")

// Server is a TCP server running one command per line against a CommitQuery
// instance.
type Server struct {
	listener net.Listener
	instance *CommitQuery.Instance
	config   Config
	logger   logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       conc.WaitGroup
}

func NewServer(instance *CommitQuery.Instance, config Config, logger logger.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		instance: instance,
		config:   config,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for connections on the specified address.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	s.logger.Info("server listening", zap.String("addr", listener.Addr().String()))

	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every connection, killing running queries.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		s.wg.Go(func() { s.handleConnection(conn) })
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	ctx, cancel := context.WithCancel(logger.ContextWithFields(s.ctx, zap.String("client", conn.RemoteAddr().String())))
	defer cancel()
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s.logger.InfoWithContext(ctx, "client connected")
	defer s.logger.InfoWithContext(ctx, "client disconnected")

	state := &ConnectionState{}
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				s.logger.WarnWithContext(ctx, "read failed", zap.Error(err))
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit") {
			return
		}

		data, err := EncodeResponse(s.handleLine(ctx, line, state))
		if err != nil {
			s.logger.ErrorWithContext(ctx, "failed to encode response", zap.Error(err))
			continue
		}
		if _, err := conn.Write(data); err != nil {
			s.logger.WarnWithContext(ctx, "write failed", zap.Error(err))
			return
		}
	}
}

// handleLine runs one command: AUTH, USE, a JSON request or a bare query.
func (s *Server) handleLine(ctx context.Context, line string, state *ConnectionState) Response {
	fields := strings.Fields(line)
	switch {
	case strings.EqualFold(fields[0], "AUTH"):
		return s.handleAuth(line, state)
	case strings.EqualFold(fields[0], "USE"):
		return s.handleUse(ctx, fields, state)
	case strings.HasPrefix(line, "{"):
		request, err := DecodeRequest([]byte(line))
		if err != nil {
			return errorResponse("", fmt.Errorf("invalid request: %w", err))
		}
		return s.handle(ctx, request, state)
	default:
		return s.handle(ctx, Request{Op: OpQuery, Query: line}, state)
	}
}

func (s *Server) handleUse(ctx context.Context, fields []string, state *ConnectionState) Response {
	if len(fields) != 2 {
		return errorResponse("use", errors.New("invalid USE command: expected USE <project>"))
	}
	project := strings.Trim(fields[1], `";`)
	if err := state.authorize(s.config.Auth, project, time.Now()); err != nil {
		return errorResponse("use", err)
	}
	if _, err := s.instance.Persistence.GetProject(project); err != nil {
		return errorResponse("use", err)
	}
	state.project = project
	return successResponse("use", map[string]string{"project": project})
}

func (s *Server) handle(ctx context.Context, request Request, state *ConnectionState) Response {
	project := request.Project
	if project == "" {
		project = state.project
	}
	if project == "" {
		return errorResponse(request.Op, errNoProject)
	}
	if err := state.authorize(s.config.Auth, project, time.Now()); err != nil {
		return errorResponse(request.Op, err)
	}

	ctx = logger.ContextWithFields(ctx, zap.String("project", project))
	if identity := state.Identity(); identity != nil {
		ctx = logger.ContextWithFields(ctx, zap.String("identity", identity.String()))
	}

	switch request.Op {
	case "", OpQuery:
		return s.executeQuery(ctx, project, request)
	case OpMetadata:
		columns, err := s.instance.Executor.Metadata(ctx, project, request.Query)
		if err != nil {
			return errorResponse("metadata", err)
		}
		return successResponse("metadata", MetadataResponse{Columns: columns})
	case OpCreateProject:
		return s.commit(ctx, CommitResponse{Project: project}, func() error {
			return s.instance.CreateProject(ctx, project)
		})
	case OpDropProject:
		return s.commit(ctx, CommitResponse{Project: project}, func() error {
			return s.instance.DropProject(ctx, project)
		})
	case OpCreateView:
		interval, err := time.ParseDuration(request.UpdateInterval)
		if err != nil {
			return errorResponse("commit", fmt.Errorf("invalid update interval: %w", err))
		}
		view := core.MaterializedView{
			Project:        project,
			Name:           request.Name,
			Query:          request.Query,
			UpdateInterval: interval,
		}
		return s.commit(ctx, CommitResponse{Project: project, View: request.Name}, func() error {
			return s.instance.CreateMaterializedView(ctx, view)
		})
	case OpDropView:
		return s.commit(ctx, CommitResponse{Project: project, View: request.Name}, func() error {
			return s.instance.DropMaterializedView(ctx, project, request.Name)
		})
	default:
		return errorResponse(request.Op, fmt.Errorf("unknown op: %s", request.Op))
	}
}

func (s *Server) commit(ctx context.Context, response CommitResponse, change func() error) Response {
	start := time.Now()
	if err := change(); err != nil {
		s.logger.WarnWithContext(ctx, "change rejected", zap.Error(err))
		return errorResponse("commit", err)
	}
	response.TimeMs = float64(time.Since(start).Microseconds()) / 1000
	response.Transaction = s.instance.Persistence.LatestTransaction().Id
	s.logger.InfoWithContext(ctx, "metadata committed", zap.String("transaction", response.Transaction))
	return successResponse("commit", response)
}

func (s *Server) executeQuery(ctx context.Context, project string, request Request) Response {
	queryID := uuid.NewString()
	ctx = logger.ContextWithFields(ctx, zap.String("query_id", queryID))
	start := time.Now()

	executor := s.instance.Executor
	var execution db.QueryExecution
	var err error
	if request.Limit > 0 {
		execution, err = executor.ExecuteQuery(ctx, project, request.Query, request.Limit)
	} else {
		execution, err = executor.ExecuteQueryDefault(ctx, project, request.Query)
	}
	if err != nil {
		return errorResponse("query", err)
	}

	result, err := execution.Result().Get(ctx)
	if err != nil {
		execution.Kill()
		s.logger.WarnWithContext(ctx, "query abandoned", zap.Error(err))
		return errorResponse("query", err)
	}

	response := successResponse("query", QueryResponse{
		QueryID:    queryID,
		Columns:    result.Columns,
		Rows:       result.Rows,
		Properties: result.Properties,
		Stats:      execution.CurrentStats(),
		Error:      result.Error,
		TimeMs:     float64(time.Since(start).Microseconds()) / 1000,
	})
	if result.IsFailed() {
		s.logger.InfoWithContext(ctx, "query failed", zap.String("sql_state", result.Error.SQLState))
		response.Success = false
		response.Error = result.Error.Error()
	}
	return response
}

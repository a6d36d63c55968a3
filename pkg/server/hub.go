package server

import (
	"context"
	"net/http"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/google/uuid"

	"github.com/gottscj/Serialize.Linq/pkg/ioctx"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
)

// Hub method names.
const (
	MethodGetAllPersons = "GetAllPersons"
	MethodQuery         = "Query"
	MethodQueryProject  = "QueryProject"

	// MethodConnected is pushed to each client once its socket is up.
	MethodConnected = "Connected"
)

type Connected struct {
	ConnectionID string `json:"connectionId"`
}

type QueryParams struct {
	Query nodes.Tree `json:"query"`
}

type QueryProjectParams struct {
	Query  nodes.Tree `json:"query"`
	Fields nodes.Tree `json:"fields"`
}

func (s *Server) hubMethods() handler.Map {
	return handler.Map{
		MethodGetAllPersons: s.handleGetAllPersons,
		MethodQuery:         s.handleQuery,
		MethodQueryProject:  s.handleQueryProject,
	}
}

func (s *Server) handleGetAllPersons(ctx context.Context, req *jrpc2.Request) (any, error) {
	return s.All(), nil
}

func (s *Server) handleQuery(ctx context.Context, req *jrpc2.Request) (any, error) {
	var params QueryParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, jrpc2.Errorf(jrpc2.InvalidParams, "%v", err)
	}
	return s.Query(ctx, params.Query.Node), nil
}

func (s *Server) handleQueryProject(ctx context.Context, req *jrpc2.Request) (any, error) {
	var params QueryProjectParams
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, jrpc2.Errorf(jrpc2.InvalidParams, "%v", err)
	}
	if params.Fields.Node == nil {
		return nil, jrpc2.Errorf(jrpc2.InvalidParams, "missing fields")
	}
	found, err := s.QueryProject(ctx, params.Query.Node, params.Fields.Node)
	if err != nil {
		return nil, jrpc2.Errorf(jrpc2.InvalidParams, "fields: %v", err)
	}
	return found, nil
}

// serveHub upgrades the request to a websocket and serves one JSON-RPC
// session on it until either side hangs up.
func (s *Server) serveHub(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ioctx.LoggerFromContext(r.Context()).Warn("websocket upgrade", "error", err)
		return
	}

	id := uuid.NewString()
	ctx, logger := ioctx.With(r.Context(), "connection", id)
	logger.Info("client connected")

	srv := jrpc2.NewServer(s.hubMethods(), &jrpc2.ServerOptions{
		AllowPush:  true,
		Logger:     func(text string) { logger.Debug(text) },
		NewContext: func() context.Context { return ctx },
	})
	srv.Start(NewChannel(conn))

	if err := srv.Notify(ctx, MethodConnected, Connected{ConnectionID: id}); err != nil {
		logger.Warn("notify connected", "error", err)
	}

	stop := context.AfterFunc(ctx, srv.Stop)
	defer stop()

	logger.Info("client disconnected", "error", srv.Wait())
}

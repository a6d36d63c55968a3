// Package server exposes the person repository over HTTP and over a
// JSON-RPC hub on a websocket. Both accept queries as serialized node trees.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/gottscj/Serialize.Linq/pkg/ioctx"
	"github.com/gottscj/Serialize.Linq/pkg/linq"
	"github.com/gottscj/Serialize.Linq/pkg/nodes"
	"github.com/gottscj/Serialize.Linq/pkg/people"
)

// MaxQueryBytes bounds the size of a posted query.
const MaxQueryBytes = 1 << 20

type Server struct {
	Serializer *linq.Serializer
	Persons    *people.Repository
	Logger     *slog.Logger

	upgrader websocket.Upgrader
}

func New(s *linq.Serializer, persons *people.Repository, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Serializer: s,
		Persons:    persons,
		Logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler routes the HTTP API, the schema and the hub.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/persons", s.getPersons)
	mux.HandleFunc("POST /api/persons", s.postQuery)
	mux.HandleFunc("GET /schema", s.getSchema)
	mux.HandleFunc("GET /hub", s.serveHub)
	return s.withLogger(mux)
}

// SchemaHandler serves only the schema.
func (s *Server) SchemaHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /schema", s.getSchema)
	return s.withLogger(mux)
}

func (s *Server) withLogger(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ioctx.LoggerToContext(r.Context(), s.Logger)
		ctx, logger := ioctx.With(ctx, "method", r.Method, "path", r.URL.Path)
		logger.Debug("request")
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// All returns every person.
func (s *Server) All() []people.Person {
	return s.Persons.All()
}

// Query returns the persons matching the predicate query denotes. A query
// that cannot be rebuilt or evaluated is logged and matches nobody.
func (s *Server) Query(ctx context.Context, query nodes.Node) []people.Person {
	logger := ioctx.LoggerFromContext(ctx)
	pred, err := linq.Predicate[people.Person](s.Serializer, query)
	if err != nil {
		logger.Error("cannot rebuild query", "error", err)
		return []people.Person{}
	}
	found, err := s.Persons.Where(pred)
	if err != nil {
		logger.Error("cannot evaluate query", "error", err)
		return []people.Person{}
	}
	logger.Debug("query", "matched", len(found))
	return found
}

// QueryProject runs Query and maps each match through the selector fields
// denotes. Unlike the query, a bad selector is an error.
func (s *Server) QueryProject(ctx context.Context, query, fields nodes.Node) ([]people.Person, error) {
	found := s.Query(ctx, query)
	sel, err := linq.Selector[people.Person, people.Person](s.Serializer, fields)
	if err != nil {
		return nil, err
	}
	out := make([]people.Person, 0, len(found))
	for _, p := range found {
		projected, err := sel(p)
		if err != nil {
			return nil, err
		}
		out = append(out, projected)
	}
	return out, nil
}

func (s *Server) getPersons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.All())
}

func (s *Server) postQuery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxQueryBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	query, err := s.Serializer.DeserializeNode(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, r, http.StatusOK, s.Query(r.Context(), query))
}

func (s *Server) getSchema(w http.ResponseWriter, r *http.Request) {
	sdl, err := s.Serializer.Registry.SDL()
	if err != nil {
		ioctx.LoggerFromContext(r.Context()).Error("schema", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, sdl)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.MarshalWrite(w, v); err != nil {
		ioctx.LoggerFromContext(r.Context()).Warn("write response", "error", err)
	}
}

// Serve runs every server until ctx is done or one of them fails, then shuts
// the rest down.
func Serve(ctx context.Context, servers ...*http.Server) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv.BaseContext = func(net.Listener) context.Context { return ctx }
		eg.Go(func() error {
			ioctx.LoggerFromContext(ctx).Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}
	return eg.Wait()
}

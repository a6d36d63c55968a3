// Package client talks to a linqd service over its HTTP API or its hub.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/creachadair/jrpc2"
	"github.com/go-json-experiment/json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/gottscj/Serialize.Linq/pkg/nodes"
	"github.com/gottscj/Serialize.Linq/pkg/people"
	"github.com/gottscj/Serialize.Linq/pkg/server"
)

// HTTP is a client for the /api/persons endpoints.
type HTTP struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTP(baseURL string) *HTTP {
	return &HTTP{BaseURL: strings.TrimSuffix(baseURL, "/"), Client: http.DefaultClient}
}

// All fetches every person.
func (c *HTTP) All(ctx context.Context) ([]people.Person, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/persons", nil)
	if err != nil {
		return nil, err
	}
	return c.persons(req)
}

// Query posts query and returns the matching persons.
func (c *HTTP) Query(ctx context.Context, query nodes.Node) ([]people.Person, error) {
	body, err := nodes.Marshal(query)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/persons", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.persons(req)
}

// Schema fetches the service's type schema.
func (c *HTTP) Schema(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/schema", nil)
	if err != nil {
		return "", err
	}
	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *HTTP) persons(req *http.Request) ([]people.Person, error) {
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var ps []people.Person
	if err := json.Unmarshal(body, &ps); err != nil {
		return nil, errors.Wrap(err, "decoding persons")
	}
	return ps, nil
}

func (c *HTTP) do(req *http.Request) ([]byte, error) {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// Hub is a JSON-RPC session with the service's hub.
type Hub struct {
	rpc *jrpc2.Client

	connected chan struct{}
	once      sync.Once
	id        string
}

// DialHub opens a hub session at url, a ws:// or wss:// address.
func DialHub(ctx context.Context, url string) (*Hub, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	h := &Hub{connected: make(chan struct{})}
	h.rpc = jrpc2.NewClient(server.NewChannel(conn), &jrpc2.ClientOptions{
		OnNotify: h.onNotify,
	})
	return h, nil
}

func (h *Hub) onNotify(req *jrpc2.Request) {
	if req.Method() != server.MethodConnected {
		return
	}
	var c server.Connected
	if err := req.UnmarshalParams(&c); err != nil {
		return
	}
	h.once.Do(func() {
		h.id = c.ConnectionID
		close(h.connected)
	})
}

// ConnectionID waits for the service to announce the session's ID.
func (h *Hub) ConnectionID(ctx context.Context) (string, error) {
	select {
	case <-h.connected:
		return h.id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (h *Hub) GetAllPersons(ctx context.Context) ([]people.Person, error) {
	var ps []people.Person
	err := h.rpc.CallResult(ctx, server.MethodGetAllPersons, nil, &ps)
	return ps, err
}

func (h *Hub) Query(ctx context.Context, query nodes.Node) ([]people.Person, error) {
	var ps []people.Person
	err := h.rpc.CallResult(ctx, server.MethodQuery, server.QueryParams{Query: nodes.Tree{Node: query}}, &ps)
	return ps, err
}

// QueryProject runs query and maps the matches through fields, a selector
// from Person to Person.
func (h *Hub) QueryProject(ctx context.Context, query, fields nodes.Node) ([]people.Person, error) {
	var ps []people.Person
	err := h.rpc.CallResult(ctx, server.MethodQueryProject, server.QueryProjectParams{
		Query:  nodes.Tree{Node: query},
		Fields: nodes.Tree{Node: fields},
	}, &ps)
	return ps, err
}

func (h *Hub) Close() error {
	return h.rpc.Close()
}

// Package api serves the host's JSON-RPC control surface over plain
// HTTP POST and a websocket, for frontends and scripted clients.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"probetherm/pkg/log"
)

const apiVersion = "1.0.0"

// Config holds server configuration.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":7125".
	Addr string

	// Backend answers status queries and runs scripts.
	Backend PrinterBackend
}

// Server is the JSON-RPC API server.
type Server struct {
	backend PrinterBackend
	addr    string

	httpServer *http.Server
	upgrader   websocket.Upgrader

	clientMu sync.Mutex
	clients  map[int64]*wsClient
	nextID   int64

	startTime time.Time
}

// New creates an API server.
func New(cfg Config) *Server {
	return &Server{
		backend:   cfg.Backend,
		addr:      cfg.Addr,
		clients:   make(map[int64]*wsClient),
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the API endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	return mux
}

// Start serves the API until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	log.Info("api server listening on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every websocket client.
func (s *Server) Stop() error {
	s.clientMu.Lock()
	for _, client := range s.clients {
		client.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError  = -32700
	codeMethodError = -32000
)

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "parse error"},
		})
		return
	}

	result, err := s.dispatch(req.Method, req.Params)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		resp.Error = &rpcError{Code: codeMethodError, Message: err.Error()}
	} else {
		resp.Result = result
	}
	s.writeResponse(w, resp)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Warn("api response encode failed: %v", err)
	}
}

func (s *Server) dispatch(method string, params map[string]any) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo()
	case "printer.objects.list":
		return s.methodObjectsList()
	case "printer.objects.query":
		return s.methodObjectsQuery(params)
	case "printer.gcode.script":
		return s.methodGCodeScript(params)
	case "printer.emergency_stop":
		return s.methodEmergencyStop()
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}

func (s *Server) methodServerInfo() (any, error) {
	hostname, _ := os.Hostname()
	s.clientMu.Lock()
	clients := len(s.clients)
	s.clientMu.Unlock()

	return map[string]any{
		"app":             "probetherm",
		"api_version":     apiVersion,
		"state":           s.backend.State(),
		"hostname":        hostname,
		"websocket_count": clients,
	}, nil
}

func (s *Server) methodObjectsList() (any, error) {
	return map[string]any{"objects": s.backend.ObjectNames()}, nil
}

func (s *Server) methodObjectsQuery(params map[string]any) (any, error) {
	objectsParam, ok := params["objects"]
	if !ok {
		return nil, fmt.Errorf("missing 'objects' parameter")
	}
	objects, ok := objectsParam.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'objects' must be an object")
	}

	status := make(map[string]any)
	for name, attrsVal := range objects {
		// A null value requests every attribute, an array narrows
		// the result.
		var attrs []string
		if attrList, ok := attrsVal.([]any); ok {
			for _, attr := range attrList {
				if str, ok := attr.(string); ok {
					attrs = append(attrs, str)
				}
			}
		}
		if objStatus := s.backend.ObjectStatus(name, attrs); objStatus != nil {
			status[name] = objStatus
		}
	}

	return map[string]any{
		"eventtime": time.Since(s.startTime).Seconds(),
		"status":    status,
	}, nil
}

func (s *Server) methodGCodeScript(params map[string]any) (any, error) {
	script, ok := params["script"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'script' parameter")
	}
	if err := s.backend.RunScript(script); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (s *Server) methodEmergencyStop() (any, error) {
	log.Warn("emergency stop requested over api")
	s.backend.EmergencyStop()
	return map[string]any{}, nil
}

// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)

// Package status serves a JSON HTTP API over a running engine: counters,
// the user, community and target tables, and GET/WALK requests through
// named targets.
//
// Routes:
//
//	GET    /health
//	GET    /api/v1/engine
//	GET    /api/v1/stats
//	GET    /api/v1/users
//	DELETE /api/v1/users/{name}[?engineID=hex]
//	GET    /api/v1/communities
//	DELETE /api/v1/communities/{name}
//	GET    /api/v1/targets
//	DELETE /api/v1/targets/{name}
//	GET    /api/v1/targets/{name}/get?oid=...&oid=...
//	GET    /api/v1/targets/{name}/walk?oid=...[&bulk=true][&maxRows=N]
//	PUT    /api/v1/log/level   {"level": "debug"}
package status

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	ASNber "github.com/OlegPowerC/asn1modsnmp"
	PowerSNMP "github.com/OlegPowerC/powersnmpengine"
	"github.com/OlegPowerC/powersnmpengine/codec"
	"github.com/OlegPowerC/powersnmpengine/logging"
	"github.com/OlegPowerC/powersnmpengine/walk"
	"github.com/gorilla/mux"
)

// DefaultRequestTimeout bounds one SNMP request made through the API.
const DefaultRequestTimeout = 30 * time.Second

// LevelSetter changes the log level at runtime; *logging.Logger is one.
type LevelSetter interface {
	SetLevel(level string) error
}

// Options configures a Server.
type Options struct {
	Address        string
	Logger         *slog.Logger
	Levels         LevelSetter
	RequestTimeout time.Duration
}

// Server is the status API of one engine.
type Server struct {
	engine  *PowerSNMP.Engine
	opts    Options
	logger  *slog.Logger
	router  *mux.Router
	started time.Time
	srv     *http.Server
}

// APIResponse wraps every reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// EngineInfo describes the local engine.
type EngineInfo struct {
	EngineID   string   `json:"engineID"`
	Boots      uint32   `json:"boots"`
	EngineTime uint32   `json:"engineTime"`
	Domains    []string `json:"domains"`
	Uptime     string   `json:"uptime"`
}

// TargetInfo is the JSON view of a target; community strings are not shown.
type TargetInfo struct {
	Name          string `json:"name"`
	Domain        string `json:"domain"`
	Address       string `json:"address"`
	Version       string `json:"version"`
	SecurityName  string `json:"securityName,omitempty"`
	SecurityLevel int    `json:"securityLevel,omitempty"`
	EngineID      string `json:"engineID,omitempty"`
	Discovered    string `json:"discoveredEngineID,omitempty"`
	ContextName   string `json:"contextName,omitempty"`
}

// VarBindInfo is the JSON view of a varbind.
type VarBindInfo struct {
	OID   string `json:"oid"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// New builds the router. The server starts with ListenAndServe.
func New(e *PowerSNMP.Engine, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{
		engine:  e,
		opts:    opts,
		logger:  logging.Component(opts.Logger, logging.ComponentStatus),
		started: time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/engine", s.engineHandler).Methods("GET")
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")
	api.HandleFunc("/users", s.listUsersHandler).Methods("GET")
	api.HandleFunc("/users/{name}", s.deleteUserHandler).Methods("DELETE")
	api.HandleFunc("/communities", s.listCommunitiesHandler).Methods("GET")
	api.HandleFunc("/communities/{name}", s.deleteCommunityHandler).Methods("DELETE")
	api.HandleFunc("/targets", s.listTargetsHandler).Methods("GET")
	api.HandleFunc("/targets/{name}", s.deleteTargetHandler).Methods("DELETE")
	api.HandleFunc("/targets/{name}/get", s.getHandler).Methods("GET")
	api.HandleFunc("/targets/{name}/walk", s.walkHandler).Methods("GET")
	api.HandleFunc("/log/level", s.logLevelHandler).Methods("PUT")
	router.Use(s.logRequests)
	return router
}

// Handler returns the router, for tests and for embedding in another server.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("status listen %s: %w", s.opts.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("status API listening", "address", ln.Addr().String())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) engineHandler(w http.ResponseWriter, r *http.Request) {
	boots, engineTime := s.engine.BootsTime()
	sendDataResponse(w, EngineInfo{
		EngineID:   hex.EncodeToString(s.engine.EngineID()),
		Boots:      boots,
		EngineTime: engineTime,
		Domains:    s.engine.Dispatcher().Domains(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	sendDataResponse(w, s.engine.Stats())
}

func (s *Server) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	sendDataResponse(w, s.engine.Users())
}

func (s *Server) deleteUserHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	engineID, err := hex.DecodeString(r.URL.Query().Get("engineID"))
	if err != nil {
		sendErrorResponse(w, "engineID must be hex", http.StatusBadRequest)
		return
	}
	if !s.engine.RemoveUser(engineID, name) {
		sendErrorResponse(w, fmt.Sprintf("user %s not found", name), http.StatusNotFound)
		return
	}
	s.logger.Info("user removed", "user", name)
	sendSuccessResponse(w, fmt.Sprintf("User %s deleted", name))
}

func (s *Server) listCommunitiesHandler(w http.ResponseWriter, r *http.Request) {
	sendDataResponse(w, s.engine.Communities())
}

func (s *Server) deleteCommunityHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.engine.RemoveCommunity(name) {
		sendErrorResponse(w, fmt.Sprintf("community %s not found", name), http.StatusNotFound)
		return
	}
	s.logger.Info("community removed", "name", name)
	sendSuccessResponse(w, fmt.Sprintf("Community %s deleted", name))
}

func versionName(v int) string {
	switch v {
	case codec.SNMP_VERSION_1:
		return "1"
	case codec.SNMP_VERSION_2C:
		return "2c"
	case codec.SNMP_VERSION_3:
		return "3"
	}
	return strconv.Itoa(v)
}

func (s *Server) targetInfo(name string, t PowerSNMP.Target) TargetInfo {
	info := TargetInfo{
		Name:        name,
		Domain:      t.Domain,
		Version:     versionName(t.Version),
		ContextName: t.ContextName,
	}
	if t.Address != nil {
		info.Address = t.Address.String()
	}
	if t.Version == codec.SNMP_VERSION_3 {
		info.SecurityName = t.SecurityName
		info.SecurityLevel = t.SecurityLevel
		info.EngineID = hex.EncodeToString(t.EngineID)
		if id, ok := s.engine.DiscoveredEngineID(t); ok {
			info.Discovered = hex.EncodeToString(id)
		}
	}
	return info
}

func (s *Server) listTargetsHandler(w http.ResponseWriter, r *http.Request) {
	targets := s.engine.Targets()
	out := make([]TargetInfo, 0, len(targets))
	for name, t := range targets {
		out = append(out, s.targetInfo(name, t))
	}
	slices.SortFunc(out, func(a, b TargetInfo) int { return strings.Compare(a.Name, b.Name) })
	sendDataResponse(w, out)
}

func (s *Server) deleteTargetHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.engine.RemoveTarget(name) {
		sendErrorResponse(w, fmt.Sprintf("target %s not found", name), http.StatusNotFound)
		return
	}
	s.logger.Info("target removed", "name", name)
	sendSuccessResponse(w, fmt.Sprintf("Target %s deleted", name))
}

// requestOIDs resolves the target and the oid query parameters.
func (s *Server) requestOIDs(w http.ResponseWriter, r *http.Request) (PowerSNMP.Target, []ASNber.ObjectIdentifier, bool) {
	t, err := s.engine.Target(mux.Vars(r)["name"])
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusNotFound)
		return t, nil, false
	}
	params := r.URL.Query()["oid"]
	if len(params) == 0 {
		sendErrorResponse(w, "at least one oid parameter is required", http.StatusBadRequest)
		return t, nil, false
	}
	oids := make([]ASNber.ObjectIdentifier, 0, len(params))
	for _, p := range params {
		oid, err := codec.Convert_OID_StringToIntArray_RAW(p)
		if err != nil {
			sendErrorResponse(w, fmt.Sprintf("bad oid %q: %v", p, err), http.StatusBadRequest)
			return t, nil, false
		}
		oids = append(oids, oid)
	}
	return t, oids, true
}

func varBindInfos(vbs []codec.VarBind) []VarBindInfo {
	out := make([]VarBindInfo, len(vbs))
	for i, vb := range vbs {
		out[i] = VarBindInfo{
			OID:   codec.Convert_OID_IntArrayToString_RAW(vb.OID),
			Type:  codec.Convert_ClassTag_to_String(vb.Value),
			Value: codec.Convert_Variable_To_String(vb.Value),
		}
	}
	return out
}

// requestError maps an SNMP failure to an HTTP status: PDU errors are the
// agent's answer (502), timeouts are 504.
func requestError(w http.ResponseWriter, err error) {
	var fe PowerSNMP.SNMPfe_Errors
	switch {
	case errors.Is(err, PowerSNMP.ErrRequestTimedOut), errors.Is(err, context.DeadlineExceeded):
		sendErrorResponse(w, err.Error(), http.StatusGatewayTimeout)
	case errors.As(err, &fe):
		sendErrorResponse(w, err.Error(), http.StatusBadGateway)
	default:
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) getHandler(w http.ResponseWriter, r *http.Request) {
	t, oids, ok := s.requestOIDs(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	vbs, err := s.engine.Get(ctx, t, oids...)
	if err != nil {
		var ne PowerSNMP.SNMPne_Errors
		if !errors.As(err, &ne) {
			requestError(w, err)
			return
		}
		// exceptions are reported in the varbind values
	}
	sendDataResponse(w, varBindInfos(vbs))
}

func (s *Server) walkHandler(w http.ResponseWriter, r *http.Request) {
	t, oids, ok := s.requestOIDs(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := walk.Options{Bulk: q.Get("bulk") == "true"}
	if v := q.Get("maxRows"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendErrorResponse(w, "maxRows must be a non-negative integer", http.StatusBadRequest)
			return
		}
		opts.MaxRows = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	rows, err := s.engine.Walk(ctx, t, oids, opts)
	if err != nil {
		requestError(w, err)
		return
	}
	out := make([][]VarBindInfo, len(rows))
	for i, row := range rows {
		out[i] = varBindInfos(row)
	}
	sendDataResponse(w, out)
}

func (s *Server) logLevelHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Levels == nil {
		sendErrorResponse(w, "log level is fixed", http.StatusNotImplemented)
		return
	}
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.opts.Levels.SetLevel(req.Level); err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("log level changed", "level", req.Level)
	sendSuccessResponse(w, "Log level set to "+req.Level)
}

func sendSuccessResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(APIResponse{Success: true, Message: message})
}

func sendDataResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(APIResponse{Success: true, Message: "Success", Data: data})
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Message: message})
}

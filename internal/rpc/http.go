package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// MaxBodyBytes caps a procedure's JSON input
const MaxBodyBytes = 1 << 20

var (
	rpcCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staffhub_rpc_calls_total",
			Help: "Total procedure calls by procedure and result code",
		},
		[]string{"procedure", "code"},
	)
	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "staffhub_rpc_duration_seconds",
			Help:    "Procedure execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"procedure"},
	)
)

type successEnvelope struct {
	Result struct {
		Data any `json:"data"`
	} `json:"result"`
}

type errorBody struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"httpStatus"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// Routes mounts the procedure endpoints:
//
//	GET  /              procedure listing
//	GET  /{procedure}   query with ?input=<json>
//	POST /{procedure}   query or mutation with a JSON body
func (r *Router) Routes() chi.Router {
	mux := chi.NewRouter()
	mux.Get("/", r.serveList)
	mux.HandleFunc("/{procedure}", r.ServeHTTP)
	return mux
}

func (r *Router) serveList(w http.ResponseWriter, _ *http.Request) {
	writeData(w, r.Procedures())
}

// ServeHTTP dispatches a single procedure call named by the {procedure} URL param
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	name := chi.URLParam(req, "procedure")
	if name == "" {
		name = req.URL.Path[strings.LastIndex(req.URL.Path, "/")+1:]
	}

	p, ok := r.procs[name]
	if !ok {
		WriteError(w, req, Errorf(CodeNotFound, "procedure %q not found", name))
		return
	}

	switch {
	case req.Method == http.MethodPost:
	case req.Method == http.MethodGet && p.Kind == KindQuery:
	default:
		w.Header().Set("Allow", allowed(p.Kind))
		WriteError(w, req, Errorf(CodeMethodNotSupported, "%s is not supported for %s", req.Method, name))
		return
	}

	raw, err := readInput(w, req)
	if err != nil {
		WriteError(w, req, err)
		return
	}

	ctx := WithClientIP(req.Context(), clientIP(req))
	start := time.Now()
	data, err := r.safeCall(ctx, p, BearerToken(req), raw)
	rpcDuration.WithLabelValues(p.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		rpcErr := FromError(err)
		rpcCalls.WithLabelValues(p.Name, string(rpcErr.Code)).Inc()
		WriteError(w, req, rpcErr)
		return
	}

	rpcCalls.WithLabelValues(p.Name, "OK").Inc()
	writeData(w, data)
}

func (r *Router) safeCall(ctx context.Context, p *Procedure, token string, raw json.RawMessage) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("procedure", p.Name).
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("Procedure panicked")
			data, err = nil, Internal(fmt.Errorf("panic: %v", rec))
		}
	}()
	return r.call(ctx, p, token, raw)
}

func allowed(kind Kind) string {
	if kind == KindQuery {
		return "GET, POST"
	}
	return "POST"
}

func readInput(w http.ResponseWriter, req *http.Request) (json.RawMessage, error) {
	if req.Method == http.MethodGet {
		input := req.URL.Query().Get("input")
		if input == "" {
			return nil, nil
		}
		if !json.Valid([]byte(input)) {
			return nil, BadRequest("input is not valid JSON")
		}
		return json.RawMessage(input), nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, MaxBodyBytes))
	if err != nil {
		return nil, BadRequest("request body too large or unreadable")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, BadRequest("request body is not valid JSON")
	}
	return body, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func writeData(w http.ResponseWriter, data any) {
	var env successEnvelope
	env.Result.Data = data
	writeJSON(w, http.StatusOK, env)
}

// WriteError sends the error envelope. Internal errors are logged with their
// cause and reach the client only as a generic message.
func WriteError(w http.ResponseWriter, req *http.Request, err error) {
	rpcErr := FromError(err)
	status := rpcErr.Code.HTTPStatus()

	if rpcErr.Code == CodeInternal {
		ev := log.Error().Err(rpcErr.Cause).Str("path", req.URL.Path)
		if id := middleware.GetReqID(req.Context()); id != "" {
			ev = ev.Str("request_id", id)
		}
		ev.Msg("Procedure failed")
	} else {
		log.Debug().Str("path", req.URL.Path).Str("code", string(rpcErr.Code)).Str("message", rpcErr.Message).Msg("Procedure rejected")
	}

	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:       rpcErr.Code,
		Message:    rpcErr.Message,
		HTTPStatus: status,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/tweetarchive/tweets/pkg/logging"
	"github.com/tweetarchive/tweets/pkg/telemetry"
)

// maxBatch bounds the calls of one batch request
const maxBatch = 50

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MethodHandler serves one JSON-RPC method. Returning an *Error selects the
// error code; any other error is reported as an internal error.
type MethodHandler func(ctx *gin.Context, params json.RawMessage) (interface{}, error)

// JSONRPCHandler dispatches single and batch requests to registered methods
type JSONRPCHandler struct {
	methods map[string]MethodHandler
	calls   otelmetric.Int64Counter
	logger  *zap.Logger
}

// NewJSONRPCHandler creates a handler with no methods
func NewJSONRPCHandler() *JSONRPCHandler {
	return &JSONRPCHandler{
		methods: make(map[string]MethodHandler),
		calls:   telemetry.Counter("tweets_rpc_calls_total", "JSON-RPC calls by method and outcome"),
		logger:  logging.WithComponent("jsonrpc"),
	}
}

// RegisterMethod registers a method handler
func (h *JSONRPCHandler) RegisterMethod(method string, handler MethodHandler) {
	h.methods[method] = handler
}

// Methods returns the registered method names in order
func (h *JSONRPCHandler) Methods() []string {
	out := make([]string, 0, len(h.methods))
	for m := range h.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Handle serves a request body holding one call or a batch array of calls
func (h *JSONRPCHandler) Handle(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "jsonrpc.handle")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusOK, errorResponse(nil, ErrParseError, "Parse error", err))
		return
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil {
			c.JSON(http.StatusOK, errorResponse(nil, ErrParseError, "Parse error", err))
			return
		}
		if len(batch) == 0 || len(batch) > maxBatch {
			c.JSON(http.StatusOK, errorResponse(nil, ErrInvalidRequest, "Invalid Request",
				fmt.Errorf("batch must hold 1 to %d calls, got %d", maxBatch, len(batch))))
			return
		}
		span.SetAttributes(attribute.Int("batch_size", len(batch)))
		out := make([]JSONRPCResponse, 0, len(batch))
		for _, raw := range batch {
			out = append(out, h.call(c, raw))
		}
		c.JSON(http.StatusOK, out)
		return
	}

	c.JSON(http.StatusOK, h.call(c, body))
}

// call decodes and runs one request
func (h *JSONRPCHandler) call(c *gin.Context, raw []byte) JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return h.fail(c, "", errorResponse(nil, ErrParseError, "Parse error", err), err)
	}
	if req.JSONRPC != "2.0" {
		err := fmt.Errorf("invalid jsonrpc version %q", req.JSONRPC)
		return h.fail(c, req.Method, errorResponse(req.ID, ErrInvalidRequest, "Invalid Request", err), err)
	}

	handler, ok := h.methods[req.Method]
	if !ok {
		err := fmt.Errorf("method %s not found", req.Method)
		return h.fail(c, req.Method, errorResponse(req.ID, ErrMethodNotFound, "Method not found", err), err)
	}

	result, err := handler(c, req.Params)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			return h.fail(c, req.Method, errorResponse(req.ID, apiErr.Code, apiErr.Message, nil), nil)
		}
		return h.fail(c, req.Method, errorResponse(req.ID, ErrInternalError, "Server error", err), err)
	}

	h.calls.Add(c.Request.Context(), 1, otelmetric.WithAttributes(
		attribute.String("method", req.Method), attribute.Bool("ok", true)))
	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// fail counts and logs an error response. Caller errors carry no Go error and
// are not logged.
func (h *JSONRPCHandler) fail(c *gin.Context, method string, resp JSONRPCResponse, err error) JSONRPCResponse {
	h.calls.Add(c.Request.Context(), 1, otelmetric.WithAttributes(
		attribute.String("method", method), attribute.Bool("ok", false)))
	if err != nil {
		h.logger.Warn("JSON-RPC error",
			zap.String("method", method),
			zap.Int("code", resp.Error.Code),
			zap.Error(err))
	}
	return resp
}

func errorResponse(id interface{}, code int, message string, err error) JSONRPCResponse {
	rpcErr := &JSONRPCError{Code: code, Message: message}
	if err != nil {
		rpcErr.Data = err.Error()
	}
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
}

// Standard JSON-RPC error codes
const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603
)

package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
)

// maxRPCBodyBytes bounds how much of an MCP request is buffered for logging.
const maxRPCBodyBytes = 1 << 20

// MCPRequestLogger logs one line per JSON-RPC exchange on the MCP endpoint:
// the RPC method and id, the calling official, the HTTP status and any
// protocol-level error. Tool arguments and results are left to the tool call
// hooks. A nil logger disables the middleware.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		logger = logger.Named("mcp-transport")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBodyBytes+1))
			if err != nil {
				logger.Warn("Failed to read MCP request body", zap.Error(err))
				http.Error(w, "unreadable request body", http.StatusBadRequest)
				return
			}
			if len(body) > maxRPCBodyBytes {
				logger.Warn("MCP request body too large", zap.Int("limit", maxRPCBodyBytes))
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			call := parseRPCCall(body)

			rec := &rpcRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("rpc_method", call.Method),
				zap.String("rpc_id", string(call.ID)),
				zap.String("official_id", auth.GetOfficialIDFromContext(r.Context())),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
			}
			if call.Params.Name != "" {
				fields = append(fields, zap.String("tool", call.Params.Name))
			}

			if rpcErr := parseRPCError(rec.body.Bytes()); rpcErr != nil {
				fields = append(fields,
					zap.Int("rpc_error_code", rpcErr.Code),
					zap.String("rpc_error", rpcErr.Message))
				logger.Info("MCP exchange failed", fields...)
				return
			}
			logger.Debug("MCP exchange", fields...)
		})
	}
}

type rpcCall struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// parseRPCCall extracts the envelope of a single JSON-RPC request. Malformed
// or batched bodies yield a zero value; the server reports those itself.
func parseRPCCall(body []byte) rpcCall {
	var call rpcCall
	if err := json.Unmarshal(body, &call); err != nil {
		return rpcCall{Method: "unparsed"}
	}
	return call
}

func parseRPCError(body []byte) *rpcError {
	if len(body) == 0 {
		return nil
	}
	var resp struct {
		Error *rpcError `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	return resp.Error
}

// rpcRecorder tees the response body and captures the status code.
type rpcRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *rpcRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *rpcRecorder) Write(b []byte) (int, error) {
	if r.body.Len() < maxRPCBodyBytes {
		r.body.Write(b)
	}
	return r.ResponseWriter.Write(b)
}

func (r *rpcRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	apperrors "github.com/copyleftdev/surrogate/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
	rpcServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// modelID is the id parameter shared by the per-model methods.
type modelID struct {
	ID string `json:"id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Params may be an object or
// an array holding one object.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID)
		return
	}

	ctx := r.Context()
	var (
		result interface{}
		err    error
	)
	switch request.Method {
	case "model.fit":
		var p FitRequest
		if err = unmarshalParams(request.Params, &p); err == nil {
			result, err = s.fitModel(ctx, &p)
		}
	case "model.get":
		var p modelID
		if err = unmarshalParams(request.Params, &p); err == nil {
			result, err = s.getModel(ctx, p.ID)
		}
	case "model.list":
		var infos interface{}
		if infos, err = s.listModels(ctx); err == nil {
			result = map[string]interface{}{"models": infos}
		}
	case "model.delete":
		var p modelID
		if err = unmarshalParams(request.Params, &p); err == nil {
			if err = s.deleteModel(ctx, p.ID); err == nil {
				result = map[string]bool{"deleted": true}
			}
		}
	case "model.predict":
		var p struct {
			modelID
			PredictRequest
		}
		if err = unmarshalParams(request.Params, &p); err == nil {
			result, err = s.predict(ctx, p.ID, &p.PredictRequest)
		}
	case "model.rank":
		var p struct {
			modelID
			RankRequest
		}
		if err = unmarshalParams(request.Params, &p); err == nil {
			result, err = s.rank(ctx, p.ID, &p.RankRequest)
		}
	case "model.evaluate":
		var p struct {
			modelID
			EvaluateRequest
		}
		if err = unmarshalParams(request.Params, &p); err == nil {
			result, err = s.evaluate(ctx, p.ID, &p.EvaluateRequest)
		}
	default:
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithFailure(w, request.Method, err, request.ID)
		return
	}

	// Send successful response
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	body, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Encoding result failed", zap.String("method", request.Method), zap.Error(err))
		failuresTotal.WithLabelValues(request.Method, apperrors.CodeInternal).Inc()
		s.writeRPCError(w, rpcInternalError, "Internal error", nil, request.ID)
		return
	}
	s.writeRPCBody(w, body)
}

// unmarshalParams decodes params, an object or a one-element array, into v.
func unmarshalParams(params json.RawMessage, v interface{}) error {
	const op = "unmarshalParams"

	params = bytes.TrimSpace(params)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return apperrors.InvalidArgument(errors.New("missing required parameters"), op)
	}
	if params[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(params, &list); err != nil {
			return apperrors.InvalidArgument(err, op)
		}
		if len(list) != 1 {
			return apperrors.InvalidArgument(errors.Newf("expected one parameter object, got %d", len(list)), op)
		}
		params = list[0]
	}
	if err := json.Unmarshal(params, v); err != nil {
		return apperrors.InvalidArgument(err, op)
	}
	return nil
}

// respondWithFailure reports a failed method call. Client errors map to
// Invalid params, everything else to a server error. The error class is
// returned in data.code.
func (s *Server) respondWithFailure(w http.ResponseWriter, method string, err error, id interface{}) {
	code := apperrors.Code(err)
	failuresTotal.WithLabelValues(method, code).Inc()

	rpcCode, message := rpcServerError, "Server error"
	switch code {
	case apperrors.CodeInvalidArgument, apperrors.CodeInvalidFeature:
		rpcCode, message = rpcInvalidParams, "Invalid params"
	case apperrors.CodeInternal:
		s.logger.Error("RPC method failed", zap.String("method", method), zap.Error(err))
	}
	s.writeRPCError(w, rpcCode, message, map[string]string{
		"code":   code,
		"detail": err.Error(),
	}, id)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.writeRPCError(w, code, message, nil, id)
}

func (s *Server) writeRPCError(w http.ResponseWriter, code int, message string, data interface{}, id interface{}) {
	s.logger.Debug("RPC error",
		zap.Int("code", code),
		zap.String("message", message),
	)

	rpcErr := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		rpcErr["data"] = data
	}
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcErr,
		"id":      id,
	}

	body, err := json.Marshal(response)
	if err != nil {
		// data came from an error value; drop it rather than lose the reply.
		s.logger.Error("Encoding error response failed", zap.Error(err))
		delete(rpcErr, "data")
		body, _ = json.Marshal(response)
	}
	s.writeRPCBody(w, body)
}

func (s *Server) writeRPCBody(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Debug("Writing response failed", zap.Error(err))
	}
}

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/surrogate/internal/config"
	apperrors "github.com/copyleftdev/surrogate/internal/errors"
	"github.com/copyleftdev/surrogate/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 32 << 20

// Server implements the HTTP and JSON-RPC API over a model store.
// Fitted models are persisted as snapshots and restored per request.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	store  store.Store
}

// NewServer creates a new server instance. The server owns st and closes it
// in Close.
func NewServer(cfg *config.Config, logger *zap.Logger, st store.Store) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.Named("server"),
		store:  st,
	}
}

// RegisterRoutes mounts the REST and JSON-RPC endpoints on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/models", func(r chi.Router) {
		r.Post("/", s.handleFit)
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Post("/predict", s.handlePredict)
			r.Post("/rank", s.handleRank)
			r.Post("/evaluate", s.handleEvaluate)
		})
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// Close releases the model store.
func (s *Server) Close() error {
	return s.store.Close()
}

// handleFit handles POST /api/v1/models.
func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if !s.decode(w, r, "fit", &req) {
		return
	}
	resp, err := s.fitModel(r.Context(), &req)
	if err != nil {
		s.respondError(w, "fit", err)
		return
	}
	s.respond(w, http.StatusCreated, resp)
}

// handleList handles GET /api/v1/models.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	infos, err := s.listModels(r.Context())
	if err != nil {
		s.respondError(w, "list", err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"models": infos})
}

// handleGet handles GET /api/v1/models/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	resp, err := s.getModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, "get", err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

// handleDelete handles DELETE /api/v1/models/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deleteModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.respondError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !s.decode(w, r, "predict", &req) {
		return
	}
	resp, err := s.predict(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.respondError(w, "predict", err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req RankRequest
	if !s.decode(w, r, "rank", &req) {
		return
	}
	resp, err := s.rank(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.respondError(w, "rank", err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !s.decode(w, r, "evaluate", &req) {
		return
	}
	resp, err := s.evaluate(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		s.respondError(w, "evaluate", err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

// decode reads the JSON body into v and reports whether it succeeded. On
// failure the error response has been written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.respondError(w, op, apperrors.InvalidArgument(err, op))
		return false
	}
	return true
}

// respond encodes v before writing the header, so an unencodable value
// becomes a 500 instead of an empty 2xx body.
func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Encoding response failed", zap.Error(err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{
			"error": "encoding response failed",
			"code":  apperrors.CodeInternal,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Debug("Writing response failed", zap.Error(err))
	}
}

// respondError writes err with the status its class maps to.
func (s *Server) respondError(w http.ResponseWriter, op string, err error) {
	code := apperrors.Code(err)
	failuresTotal.WithLabelValues(op, code).Inc()
	if code == apperrors.CodeInternal {
		s.logger.Error("Operation failed", zap.String("operation", op), zap.Error(err))
	}
	s.respond(w, apperrors.HTTPStatus(err), map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

package gql

import (
	"encoding/json"
	"net/http"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecgate/internal/logger"
)

const maxBodyBytes = 64 << 20

type request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// Handler serves GraphQL over HTTP: POST with a JSON body, or GET with ?query=.
type Handler struct {
	schema graphql.Schema
	logger *zap.Logger
}

// NewHandler creates a Handler for schema.
func NewHandler(schema graphql.Schema, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{schema: schema, logger: logger}
}

// ServeHTTP executes one GraphQL request. Field errors are reported in the body with 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	switch r.Method {
	case http.MethodGet:
		req.Query = r.URL.Query().Get("query")
		req.OperationName = r.URL.Query().Get("operationName")
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				writeRequestError(w, "invalid variables: "+err.Error())
				return
			}
		}
	case http.MethodPost:
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeRequestError(w, "invalid request body: "+err.Error())
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		writeRequestError(w, "method not allowed")
		return
	}
	if req.Query == "" {
		writeRequestError(w, "query is required")
		return
	}

	res := graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        r.Context(),
	})
	if res.HasErrors() {
		logger.FromContextOr(r.Context(), h.logger).Debug("graphql errors", zap.Int("count", len(res.Errors)))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

func writeRequestError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": []map[string]interface{}{{
			"message":    msg,
			"extensions": map[string]interface{}{"code": "BAD_REQUEST"},
		}},
	})
}

package api

import (
	"errors"
	"net/http"

	"github.com/docsage/docsage/pkg/costs"
	"github.com/docsage/docsage/pkg/sse"
	"github.com/docsage/docsage/pkg/types"
)

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	points, err := s.rag.Retrieve(r.Context(), req.Text, types.FilterContext{Domain: req.Domain, Topic: req.Topic})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if points == nil {
		points = []types.ScoredPoint{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "query",
		"Points": points,
	})
}

// askResponse is the /rag/ask wire shape: accounting nested under
// metadata, mirroring the stream's metadata event.
type askResponse struct {
	Answer    string           `json:"answer"`
	Citations []types.Citation `json:"citations"`
	Metadata  askMetadata      `json:"metadata"`
}

type askMetadata struct {
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
	Model  string  `json:"model,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	result, err := s.rag.Ask(r.Context(), req.Text, types.FilterContext{Domain: req.Domain, Topic: req.Topic}, sessionID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		Answer:    result.Answer,
		Citations: result.Citations,
		Metadata: askMetadata{
			Tokens: result.Tokens,
			Cost:   result.Cost,
			Model:  result.Model,
		},
	})
}

func (s *Server) handleAskStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	stream := sse.NewWriter(w)
	if stream == nil {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	_ = s.rag.ChatStream(r.Context(), req.Text, types.FilterContext{Domain: req.Domain, Topic: req.Topic}, sessionID(r.Context()), stream)
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	session, err := s.tracker.Get(r.PathValue("session_id"))
	if err != nil {
		if errors.Is(err, costs.ErrSessionNotFound) {
			writeDetail(w, http.StatusNotFound, "session not found")
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// decodeQuery parses and validates the shared retrieve/ask body.
func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (*QueryRequest, bool) {
	var req QueryRequest
	if errs := decodeJSON(r, &req); errs != nil {
		writeValidationErrors(w, errs)
		return nil, false
	}
	if errs := req.Validate(); errs != nil {
		writeValidationErrors(w, errs)
		return nil, false
	}
	return &req, true
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/docpilot/docpilot/internal/certificate"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)

	var req certificate.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonResponse(w, http.StatusBadRequest, &certificate.Response{Error: "invalid JSON body"})
		return
	}

	resp, err := s.issuer.Issue(r.Context(), req)
	if err != nil {
		status, body := certificate.ErrorResponse(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("certificate generation failed", "uid", req.UID, "error", err)
		}
		jsonResponse(w, status, body)
		return
	}
	jsonResponse(w, http.StatusOK, resp)
}

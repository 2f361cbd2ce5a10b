package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/vitalvas/tofusig/directory"
	"github.com/vitalvas/tofusig/internal/logger"
	"github.com/vitalvas/tofusig/verifier"
)

// RequestDescriptor describes one request submitted to POST /verify/batch.
type RequestDescriptor struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	verify := s.verifier.Verify
	if debug, _ := strconv.ParseBool(r.URL.Query().Get("debug")); debug {
		verify = s.verifier.VerifyDebug
	}

	res, err := verify(r.Context(), r, s.cfg.Verify)
	if err != nil {
		logger.From(r.Context()).Error("verify failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))

		return
	}

	writeJSON(w, verifier.StatusCode(res.Error), res)
}

func (s *Server) verifyBatch(w http.ResponseWriter, r *http.Request) {
	var descs []RequestDescriptor

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBatchBody))
	if err := dec.Decode(&descs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch body: "+err.Error())
		return
	}

	reqs := make([]*http.Request, len(descs))

	for i, d := range descs {
		req, err := d.request(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "request "+strconv.Itoa(i)+": "+err.Error())
			return
		}

		reqs[i] = req
	}

	results, err := s.verifier.VerifyBatch(r.Context(), reqs, s.cfg.Verify)
	if err != nil {
		logger.From(r.Context()).Error("batch verify failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))

		return
	}

	writeJSON(w, http.StatusOK, results)
}

func (d RequestDescriptor) request(parent *http.Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(d.Method))
	if method == "" {
		method = http.MethodGet
	}

	if err := directory.ValidateURL(d.URL); err != nil {
		return nil, errors.New("url must be an absolute http or https url")
	}

	req, err := http.NewRequestWithContext(parent.Context(), method, d.URL, nil)
	if err != nil {
		return nil, err
	}

	for k, v := range d.Headers {
		if strings.EqualFold(k, "host") {
			req.Host = v
			continue
		}

		req.Header.Set(k, v)
	}

	return req, nil
}

func (s *Server) protected(w http.ResponseWriter, r *http.Request) {
	res, ok := verifier.ResultFromContext(r.Context())
	if !ok || res.Metadata == nil {
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"keyId":   res.Metadata.KeyID,
		"purpose": res.Metadata.Purpose,
		"path":    r.URL.Path,
	})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.CacheStats(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("cache stats failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) cacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var err error

	if u := r.URL.Query().Get("url"); u != "" {
		err = s.cache.Invalidate(r.Context(), u)
	} else {
		err = s.cache.InvalidateAll(r.Context())
	}

	if err != nil {
		logger.From(r.Context()).Error("cache invalidate failed", logger.Err(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

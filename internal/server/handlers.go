package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/query"
	"github.com/hyperjump/kotae/internal/store"
)

// maxUploadBytes caps multipart request bodies.
const maxUploadBytes = 64 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.layout.Tenants()
	if err != nil {
		s.logger.Error("health: list tenants failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	statuses := make([]models.TenantStatus, 0, len(tenants))
	for _, t := range tenants {
		statuses = append(statuses, models.TenantStatus{
			Name:     t,
			HasIndex: s.layout.HasIndex(t),
		})
	}
	s.respondJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Tenants: statuses})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.layout.Tenants()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]string{"providers": tenants})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tenant, ok, err := s.directory.Resolve(r.Context(), req.ClientID)
	if err != nil {
		s.logger.Error("client resolution failed", zap.Int64("client", req.ClientID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, "client has no assigned provider")
		return
	}

	s.logger.Debug("query request",
		zap.Int64("client", req.ClientID),
		zap.String("tenant", tenant),
		zap.Int("top_k", req.TopK))

	resp, err := s.engine.Answer(r.Context(), tenant, req.Question, req.TopK)
	if err != nil {
		var re *query.RetrievalError
		if errors.As(err, &re) {
			s.respondError(w, http.StatusBadRequest, re.Error())
			return
		}
		s.logger.Error("query failed", zap.String("tenant", tenant), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	if !store.ValidTenantName(tenant) {
		s.respondError(w, http.StatusBadRequest, "invalid provider name")
		return
	}
	result, err := s.builder.Build(r.Context(), tenant)
	if err != nil {
		var ce *embedding.ConfigError
		if errors.As(err, &ce) {
			s.respondError(w, http.StatusBadRequest, ce.Error())
			return
		}
		s.logger.Error("rebuild failed", zap.String("tenant", tenant), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "rebuilt",
		"chunks":  result.ChunkCount,
		"version": result.VersionID,
	})
}

func (s *Server) handleUploadMetadata(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	if !store.ValidTenantName(tenant) {
		s.respondError(w, http.StatusBadRequest, "invalid provider name")
		return
	}
	file, header, err := s.uploadedFile(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".xlsx" {
		s.respondError(w, http.StatusBadRequest, "metadata upload must be an .xlsx workbook")
		return
	}
	if err := s.registerTenant(tenant); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dest := s.layout.MetadataWorkbook(tenant)
	if err := saveUpload(dest, file); err != nil {
		s.logger.Error("metadata upload failed", zap.String("tenant", tenant), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.UploadStatus{Status: "stored", Path: dest})
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	if !store.ValidTenantName(tenant) {
		s.respondError(w, http.StatusBadRequest, "invalid provider name")
		return
	}
	file, header, err := s.uploadedFile(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		s.respondError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	if err := s.registerTenant(tenant); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dest := filepath.Join(s.layout.DocsDir(tenant), name)
	if err := saveUpload(dest, file); err != nil {
		s.logger.Error("document upload failed", zap.String("tenant", tenant), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.UploadStatus{Status: "stored", Path: dest})
}

// uploadedFile extracts the single "file" part of a multipart upload.
func (s *Server) uploadedFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, errors.New("invalid multipart body")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, errors.New("missing file field")
	}
	return file, header, nil
}

// registerTenant ensures the tenant's directories exist and, when watching
// is enabled, starts watching its docs directory so uploads made after
// server start still trigger rebuilds.
func (s *Server) registerTenant(tenant string) error {
	if err := s.layout.EnsureTenant(tenant); err != nil {
		return err
	}
	if s.watch != nil {
		if err := s.watch.AddTenant(tenant); err != nil {
			s.logger.Warn("watch new tenant failed", zap.String("tenant", tenant), zap.Error(err))
		}
	}
	return nil
}

func saveUpload(dest string, src io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

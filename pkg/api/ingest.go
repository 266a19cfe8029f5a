package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/docsage/docsage/pkg/extract"
	"github.com/docsage/docsage/pkg/jobs"
	"github.com/docsage/docsage/pkg/sse"
	"github.com/docsage/docsage/pkg/types"
)

const maxUploadBytes = 32 << 20

// ingestDoneEvent is the final SSE frame of a streamed ingest.
type ingestDoneEvent struct {
	Progress int                `json:"progress"`
	Step     string             `json:"step"`
	Result   types.IngestResult `json:"result"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if errs := decodeJSON(r, &req); errs != nil {
		writeValidationErrors(w, errs)
		return
	}
	if errs := req.Validate(); errs != nil {
		writeValidationErrors(w, errs)
		return
	}

	chunks, err := s.extractURL(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.engine.Ingest(r.Context(), chunks, req.URL, req.Domain, req.Topic, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ingested",
		"url":    req.URL,
		"result": result,
	})
}

func (s *Server) handleIngestStream(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if errs := decodeJSON(r, &req); errs != nil {
		writeValidationErrors(w, errs)
		return
	}
	if errs := req.Validate(); errs != nil {
		writeValidationErrors(w, errs)
		return
	}

	stream := sse.NewWriter(w)
	if stream == nil {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	_ = stream.SendProgress(10, "extracting")
	chunks, err := s.extractURL(r.Context(), req.URL)
	if err != nil {
		_ = stream.SendError(err.Error(), recoverable(err))
		return
	}

	s.streamIngest(r.Context(), stream, chunks, req.URL, req.Domain, req.Topic)
}

func (s *Server) handleIngestPDF(w http.ResponseWriter, r *http.Request) {
	upload, err := parsePDFUpload(r)
	if err != nil {
		writeValidationErrors(w, []FieldError{{Field: "file", Message: err.Error()}})
		return
	}

	path, err := s.saveUpload(upload.file, os.TempDir(), upload.filename)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer os.Remove(path)

	chunks, err := s.extractPDF(r.Context(), path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.engine.Ingest(r.Context(), chunks, upload.source, upload.domain, upload.topic, nil); err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ingested",
		"filename": upload.filename,
		"source":   upload.source,
	})
}

func (s *Server) handleIngestPDFStream(w http.ResponseWriter, r *http.Request) {
	upload, err := parsePDFUpload(r)
	if err != nil {
		writeValidationErrors(w, []FieldError{{Field: "file", Message: err.Error()}})
		return
	}

	stream := sse.NewWriter(w)
	if stream == nil {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	_ = stream.SendProgress(10, "extracting")
	path, err := s.saveUpload(upload.file, os.TempDir(), upload.filename)
	if err != nil {
		_ = stream.SendError(err.Error(), false)
		return
	}
	defer os.Remove(path)

	chunks, err := s.extractPDF(r.Context(), path)
	if err != nil {
		_ = stream.SendError(err.Error(), false)
		return
	}

	s.streamIngest(r.Context(), stream, chunks, upload.source, upload.domain, upload.topic)
}

// extractURL fetches and chunks a URL under an extract span.
func (s *Server) extractURL(ctx context.Context, url string) ([]string, error) {
	if s.tracing != nil {
		var span trace.Span
		ctx, span = s.tracing.StartExtract(ctx, "url")
		defer span.End()
	}
	return s.fetcher.FromURL(ctx, url)
}

// extractPDF chunks an uploaded PDF under an extract span.
func (s *Server) extractPDF(ctx context.Context, path string) ([]string, error) {
	if s.tracing != nil {
		_, span := s.tracing.StartExtract(ctx, "pdf")
		defer span.End()
	}
	return extract.FromPDF(path)
}

// streamIngest drives the engine with SSE progress milestones.
func (s *Server) streamIngest(ctx context.Context, stream *sse.Writer, chunks []string, source, domain, topic string) {
	_ = stream.SendProgress(30, "cleaning")

	progress := func(p int, step string) {
		_ = stream.SendProgress(p, step)
	}
	result, err := s.engine.Ingest(ctx, chunks, source, domain, topic, progress)
	if err != nil {
		_ = stream.SendError(err.Error(), recoverable(err))
		return
	}

	_ = stream.Send(ingestDoneEvent{Progress: 100, Step: "done", Result: result})
}

func (s *Server) handleIngestJob(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if errs := decodeJSON(r, &req); errs != nil {
		writeValidationErrors(w, errs)
		return
	}
	if errs := req.Validate(); errs != nil {
		writeValidationErrors(w, errs)
		return
	}

	state, err := s.jobs.Create(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	task := jobs.Task{
		JobID:  state.JobID,
		Kind:   jobs.TaskIngestURL,
		URL:    req.URL,
		Domain: req.Domain,
		Topic:  req.Topic,
	}
	if err := s.queue.Enqueue(r.Context(), task); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("job_queued",
		zap.String("job_id", state.JobID),
		zap.String("task", task.Kind))
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "queued",
		"job_id": state.JobID,
	})
}

func (s *Server) handleIngestFileJob(w http.ResponseWriter, r *http.Request) {
	upload, err := parsePDFUpload(r)
	if err != nil {
		writeValidationErrors(w, []FieldError{{Field: "file", Message: err.Error()}})
		return
	}

	state, err := s.jobs.Create(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// The worker pool runs in a separate process; the upload goes to
	// shared storage keyed by job ID.
	path := filepath.Join(s.uploadDir, state.JobID+".pdf")
	if err := copyUpload(upload.file, path); err != nil {
		s.writeError(w, r, err)
		return
	}

	task := jobs.Task{
		JobID:  state.JobID,
		Kind:   jobs.TaskIngestFile,
		Path:   path,
		Source: upload.source,
		Domain: upload.domain,
		Topic:  upload.topic,
	}
	if err := s.queue.Enqueue(r.Context(), task); err != nil {
		os.Remove(path)
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("job_queued",
		zap.String("job_id", state.JobID),
		zap.String("task", task.Kind))
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "queued",
		"job_id": state.JobID,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.jobs.Get(r.Context(), r.PathValue("job_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// pdfUpload is the parsed multipart ingest form.
type pdfUpload struct {
	file     multipart.File
	filename string
	source   string
	domain   string
	topic    string
}

// parsePDFUpload reads the multipart form of the PDF endpoints.
func parsePDFUpload(r *http.Request) (*pdfUpload, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("file field is required: %w", err)
	}

	source := strings.TrimSpace(r.FormValue("source"))
	if source == "" {
		source = header.Filename
	}
	domain := strings.ToLower(strings.TrimSpace(r.FormValue("domain")))
	if domain == "" {
		domain = defaultDomain
	}
	topic := strings.ToLower(strings.TrimSpace(r.FormValue("topic")))
	if topic == "" {
		topic = defaultTopic
	}

	upload := &pdfUpload{
		file:     file,
		filename: header.Filename,
		source:   source,
		domain:   domain,
		topic:    topic,
	}
	return upload, nil
}

// saveUpload writes the upload into dir under a unique name.
func (s *Server) saveUpload(file multipart.File, dir, filename string) (string, error) {
	defer file.Close()

	tmp, err := os.CreateTemp(dir, "docsage-*-"+filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return tmp.Name(), nil
}

// copyUpload writes the upload to an exact path on shared storage.
func copyUpload(file multipart.File, path string) error {
	defer file.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write upload: %w", err)
	}
	return nil
}

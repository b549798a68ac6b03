package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/blingmoon/netflow-triage/detector"
	"github.com/blingmoon/netflow-triage/frame"
	"github.com/blingmoon/netflow-triage/internal/config"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

// batchPredictor 服务只依赖批量预测
type batchPredictor interface {
	Predict(ctx context.Context, req *detector.PredictReq) (*detector.BatchResult, error)
}

type apiServer struct {
	bind       string
	maxUpload  int64
	logger     *slog.Logger
	predictor  batchPredictor
	listener   net.Listener
	httpServer *http.Server
}

type predictResponse struct {
	BatchID       string         `json:"batch_id"`
	Labels        []string       `json:"labels"`
	Probabilities []*float64     `json:"probabilities,omitempty"`
	Errors        map[int]string `json:"errors,omitempty"`
}

func newAPIServer(cfg config.Server, predictor batchPredictor, logger *slog.Logger) *apiServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &apiServer{
		bind:      strings.TrimSpace(cfg.Bind),
		maxUpload: cfg.MaxUploadMB << 20,
		logger:    logger.With("component", "api-server"),
		predictor: predictor,
	}
	s.httpServer = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout(),
		WriteTimeout:      2 * cfg.ReadTimeout(),
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/predict_labels", func(w http.ResponseWriter, r *http.Request) {
		s.handlePredict(w, r, workflow.ModePredict)
	})
	mux.HandleFunc("/predict_proba", func(w http.ResponseWriter, r *http.Request) {
		s.handlePredict(w, r, workflow.ModeProba)
	})
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// serve 阻塞到 ctx 结束
func (s *apiServer) serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return errors.WithMessagef(err, "api listen failed, bind: %s", s.bind)
	}
	s.listener = listener
	s.logger.Info("api server listening", slog.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.WithMessage(err, "api server failed")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.WithMessage(err, "api shutdown failed")
	}
	s.logger.Info("api server stopped")
	return nil
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handlePredict(w http.ResponseWriter, r *http.Request, mode string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	batch, err := s.parseBatch(r)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	result, err := s.predictor.Predict(r.Context(), &detector.PredictReq{
		BatchID: strings.TrimSpace(r.FormValue("batch_id")),
		Batch:   batch,
		Mode:    mode,
	})
	if err != nil {
		s.logger.WarnContext(r.Context(), "predict failed", "mode", mode, "error", err)
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	resp := predictResponse{
		BatchID: result.BatchID,
		Labels:  result.Labels(),
	}
	if mode == workflow.ModeProba {
		resp.Probabilities = result.Probabilities()
	}
	if errs := result.Errors(); len(errs) > 0 {
		resp.Errors = make(map[int]string, len(errs))
		for i, rowErr := range errs {
			resp.Errors[i] = rowErr.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// parseBatch 优先读取 multipart 的 file 字段(csv), 其次是表单的 input_data 字段(json)
func (s *apiServer) parseBatch(r *http.Request) (*frame.Frame, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, readError(err, "parse multipart form failed")
		}
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			if err := frame.CSVPath(header.Filename).Validate(); err != nil {
				return nil, err
			}
			return frame.ReadCSV(file)
		}
		if !errors.Is(err, http.ErrMissingFile) {
			return nil, readError(err, "read upload failed")
		}
	}

	var raw []byte
	if strings.HasPrefix(contentType, "application/json") {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, readError(err, "read body failed")
		}
		raw = b
	} else {
		raw = []byte(r.FormValue("input_data"))
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, errors.WithMessage(workflow.ErrUnsupportedInputKind, "either file or input_data is required")
	}
	records, err := workflow.ParseJSONContexts(raw)
	if err != nil {
		return nil, err
	}
	return frame.FromJSONContexts(records), nil
}

// readError 请求体超过大小限制的时候保留 MaxBytesError, 其他的读取错误都是 ErrInvalidShape
func readError(err error, msg string) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errors.WithMessage(err, msg)
	}
	return errors.WithMessagef(workflow.ErrInvalidShape, "%s, err: %v", msg, err)
}

func statusFor(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, workflow.ErrBatchInProgress):
		return http.StatusConflict
	case workflow.IsCallerError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

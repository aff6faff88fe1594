package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
	"github.com/xkilldash9x/checkout-inspector/internal/analysis/core"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response is the envelope of every API response.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ScanRequest is the body of POST /api/v1/scans.
type ScanRequest struct {
	URL string `json:"url"`
	// CloseTab closes the tab once the scan finished.
	CloseTab bool `json:"close_tab,omitempty"`
}

// CheckInfo describes one registered check.
type CheckInfo struct {
	ID          string `json:"id"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// Handlers implements the API routes.
type Handlers struct {
	log      *zap.Logger
	scanner  schemas.Scanner
	tabs     schemas.TabOpener
	registry *core.Registry
}

// NewHandlers creates the route handlers.
func NewHandlers(deps Dependencies, logger *zap.Logger) *Handlers {
	return &Handlers{
		log:      logger.Named("handlers"),
		scanner:  deps.Scanner,
		tabs:     deps.Tabs,
		registry: deps.Registry,
	}
}

// RegisterRoutes mounts every route on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scans", h.HandleScanURL)
		r.Post("/tabs/{tabID}/scan", h.HandleScanTab)
		r.Delete("/tabs/{tabID}", h.HandleCloseTab)
		r.Get("/results/{tabID}", h.HandleGetResult)
		r.Get("/checks", h.HandleListChecks)
	})
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleScanURL opens a tab on the requested page and scans it.
func (h *Handlers) HandleScanURL(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := validateTargetURL(req.URL); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	tab, err := h.tabs.OpenTab(r.Context(), req.URL)
	if err != nil {
		h.log.Warn("Failed to open tab.", zap.String("url", req.URL), zap.Error(err))
		h.respondWithError(w, http.StatusBadGateway, fmt.Sprintf("failed to open page: %v", err))
		return
	}
	if req.CloseTab {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := h.tabs.CloseTab(closeCtx, tab); err != nil {
				h.log.Debug("Failed to close tab after scan.", zap.String("tab_id", tab.String()), zap.Error(err))
			}
		}()
	}

	h.runScan(w, r, tab)
}

// HandleScanTab rescans an already open tab.
func (h *Handlers) HandleScanTab(w http.ResponseWriter, r *http.Request) {
	h.runScan(w, r, schemas.TabID(chi.URLParam(r, "tabID")))
}

// HandleCloseTab closes an open tab.
func (h *Handlers) HandleCloseTab(w http.ResponseWriter, r *http.Request) {
	tab := schemas.TabID(chi.URLParam(r, "tabID"))
	if err := h.tabs.CloseTab(r.Context(), tab); err != nil {
		h.respondWithError(w, statusForError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetResult returns the stored result of a tab.
func (h *Handlers) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	tab := schemas.TabID(chi.URLParam(r, "tabID"))
	result, err := h.scanner.GetStoredResult(r.Context(), tab)
	if err != nil {
		h.log.Error("Failed to read stored result.", zap.String("tab_id", tab.String()), zap.Error(err))
		h.respondWithError(w, http.StatusInternalServerError, "Internal error retrieving result.")
		return
	}
	if result == nil {
		h.respondWithError(w, http.StatusNotFound, fmt.Sprintf("no stored result for tab %s", tab))
		return
	}
	h.respondWithSuccess(w, http.StatusOK, result)
}

// HandleListChecks lists the registered checks in evaluation order.
func (h *Handlers) HandleListChecks(w http.ResponseWriter, r *http.Request) {
	defs := h.registry.Definitions()
	out := make([]CheckInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, CheckInfo{ID: d.ID, Category: string(d.Category), Description: d.Description})
	}
	h.respondWithSuccess(w, http.StatusOK, map[string]interface{}{
		"count":  len(out),
		"checks": out,
	})
}

func (h *Handlers) runScan(w http.ResponseWriter, r *http.Request, tab schemas.TabID) {
	result, err := h.scanner.RunScan(r.Context(), tab)
	if err != nil {
		h.log.Warn("Scan failed.", zap.String("tab_id", tab.String()), zap.Error(err))
		h.respondWithError(w, statusForError(err), err.Error())
		return
	}
	h.respondWithSuccess(w, http.StatusOK, result)
}

// statusForError maps scan failures onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, schemas.ErrTabNotFound):
		return http.StatusNotFound
	case errors.Is(err, schemas.ErrTabTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, schemas.ErrExtractionInjection), errors.Is(err, schemas.ErrExtractionNoResult):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validateTargetURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("url must include a host")
	}
	return nil
}

// respondWithError sends a standardized JSON error response.
func (h *Handlers) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respond(w, statusCode, Response{Status: "error", Error: message})
}

// respondWithSuccess sends a standardized JSON success response.
func (h *Handlers) respondWithSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	h.respond(w, statusCode, Response{Status: "success", Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}

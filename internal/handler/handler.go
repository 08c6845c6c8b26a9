package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/chrisraro/Giya-sub000/internal/repository"
	"github.com/chrisraro/Giya-sub000/internal/service"
	"github.com/chrisraro/Giya-sub000/pkg/errors"
)

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// ReceiptProcessor runs the processing pipeline for one receipt.
type ReceiptProcessor interface {
	Process(ctx context.Context, receiptID string) (*service.Result, error)
}

type ReceiptHandler struct {
	processor ReceiptProcessor
	receipts  *repository.ReceiptRepository
}

func NewReceiptHandler(processor ReceiptProcessor, receipts *repository.ReceiptRepository) *ReceiptHandler {
	return &ReceiptHandler{processor: processor, receipts: receipts}
}

func (h *ReceiptHandler) Routes(r chi.Router) {
	r.Post("/api/receipts/process", h.ProcessReceipt)
	r.Get("/api/receipts/{id}", h.GetReceipt)
	r.Get("/health", HandleHealth)
}

func (h *ReceiptHandler) ProcessReceipt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptID string `json:"receiptId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, errors.ErrInvalidInput, "invalid JSON body", "", nil)
		return
	}

	req.ReceiptID = strings.TrimSpace(req.ReceiptID)
	if req.ReceiptID == "" {
		writeFailure(w, http.StatusBadRequest, errors.ErrInvalidInput, "receiptId is required", "", nil)
		return
	}

	result, err := h.processor.Process(r.Context(), req.ReceiptID)
	if err != nil {
		code := errors.CodeOf(err)
		writeFailure(w, statusForCode(code), code, errors.MessageOf(err), req.ReceiptID, errors.DetailsOf(err))
		return
	}

	var tracking interface{}
	if result.Attribution != nil {
		tracking = result.Attribution
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":             true,
		"receiptId":           result.ReceiptID,
		"extractedData":       result.Extracted,
		"pointsEarned":        result.PointsEarned,
		"message":             fmt.Sprintf("You earned %d points!", result.PointsEarned),
		"attributionTracking": tracking,
	})
}

func (h *ReceiptHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	receipt, err := h.receipts.GetByID(r.Context(), id)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, errors.ErrInternal, "failed to load receipt", id, nil)
		return
	}
	if receipt == nil {
		writeFailure(w, http.StatusNotFound, errors.ErrReceiptNotFound, "receipt not found", id, nil)
		return
	}

	writeJSON(w, http.StatusOK, receipt)
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeFailure(w http.ResponseWriter, statusCode int, code, message, receiptID string, details map[string]string) {
	var detail interface{} = message
	if len(details) > 0 {
		merged := map[string]string{"message": message}
		for k, v := range details {
			merged[k] = v
		}
		detail = merged
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"error":     code,
		"details":   detail,
		"receiptId": receiptID,
	})
}

func statusForCode(code string) int {
	switch code {
	case errors.ErrInvalidInput:
		return http.StatusBadRequest
	case errors.ErrReceiptNotFound:
		return http.StatusNotFound
	case errors.ErrAlreadyProcessed:
		return http.StatusConflict
	case errors.ErrOCRFailure, errors.ErrMerchantMismatch, errors.ErrInvalidAmount:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

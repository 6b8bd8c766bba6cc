// File: internal/server/handlers.go
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/internal/audit"
	"github.com/smartdevs17/medchain-ledger-sync/internal/models"
	"github.com/smartdevs17/medchain-ledger-sync/internal/supplychain"
	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

const maxBodyBytes = 1 << 20

type componentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type historyEvent struct {
	Action      string `json:"action"`
	Participant string `json:"participant"`
	Timestamp   int64  `json:"timestamp"`
	Note        string `json:"note"`
	Verified    bool   `json:"verified"`
}

type historyResponse struct {
	Success    bool           `json:"success"`
	MedicineID uint64         `json:"medicineId"`
	History    []historyEvent `json:"history"`
}

type stageResponse struct {
	MedicineID uint64       `json:"medicineId"`
	Stage      models.Stage `json:"stage"`
}

type writeResponse struct {
	Message     string                      `json:"message"`
	Medicine    *models.Medicine            `json:"medicine"`
	Transaction *models.TransactionLogEntry `json:"transaction"`
}

type updateStageRequest struct {
	Stage string `json:"stage"`
	Note  string `json:"note"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func (s *HTTPServer) rootHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "MedChain ledger sync API is running",
	})
}

func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	components, healthy := s.runHealthChecks(r.Context())

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"components": components,
	})
}

func (s *HTTPServer) createMedicineHandler(w http.ResponseWriter, r *http.Request) {
	var input supplychain.CreateMedicineInput
	if err := decodeBody(r, &input); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.service.CreateMedicine(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, writeResponse{
		Message:     "Medicine created on the ledger",
		Medicine:    result.Medicine,
		Transaction: result.Transaction,
	})
}

func (s *HTTPServer) listMedicinesHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.MedicineFilter{}

	if raw := query.Get("stage"); raw != "" {
		stage, ok := models.ParseStage(raw)
		if !ok {
			s.writeError(w, utils.NewAppError(utils.ErrCodeValidation, "Unknown stage", raw))
			return
		}
		filter.Stage = &stage
	}

	var err error
	if filter.Limit, filter.Offset, err = pagination(query.Get("limit"), query.Get("offset")); err != nil {
		s.writeError(w, err)
		return
	}

	medicines, err := s.service.ListMedicines(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if medicines == nil {
		medicines = []*models.Medicine{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"medicines": medicines,
		"count":     len(medicines),
	})
}

func (s *HTTPServer) historyHandler(w http.ResponseWriter, r *http.Request) {
	id, events, err := s.service.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	history := make([]historyEvent, 0, len(events))
	for _, e := range events {
		history = append(history, historyEvent{
			Action:      e.Action,
			Participant: e.Participant,
			Timestamp:   e.OccurredAt.UnixMilli(),
			Note:        e.Note,
			Verified:    e.Verified,
		})
	}
	s.writeJSON(w, http.StatusOK, historyResponse{Success: true, MedicineID: id, History: history})
}

func (s *HTTPServer) stageHandler(w http.ResponseWriter, r *http.Request) {
	id, stage, err := s.service.Stage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stageResponse{MedicineID: id, Stage: stage})
}

func (s *HTTPServer) updateStageHandler(w http.ResponseWriter, r *http.Request) {
	var req updateStageRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.service.UpdateStage(r.Context(), mux.Vars(r)["id"], req.Stage, req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, writeResponse{
		Message:     "Stage updated on the ledger",
		Medicine:    result.Medicine,
		Transaction: result.Transaction,
	})
}

func (s *HTTPServer) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.TransactionFilter{}

	if raw := query.Get("medicine_id"); raw != "" {
		id, err := audit.ParseIdentifier(raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filter.MedicineID = &id
	}
	if raw := query.Get("action"); raw != "" {
		action := models.ActionKind(raw)
		filter.Action = &action
	}

	var err error
	if filter.Limit, filter.Offset, err = pagination(query.Get("limit"), query.Get("offset")); err != nil {
		s.writeError(w, err)
		return
	}

	entries, err := s.service.ListTransactions(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.TransactionLogEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": entries,
		"count":        len(entries),
	})
}

// Utility Methods

func decodeBody(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Request body must be valid JSON", err.Error())
	}
	return nil
}

func pagination(rawLimit, rawOffset string) (int, int, error) {
	limit, offset := 0, 0
	var err error
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil || limit < 0 {
			return 0, 0, utils.NewAppError(utils.ErrCodeValidation, "limit must be a non-negative integer", rawLimit)
		}
	}
	if rawOffset != "" {
		if offset, err = strconv.Atoi(rawOffset); err != nil || offset < 0 {
			return 0, 0, utils.NewAppError(utils.ErrCodeValidation, "offset must be a non-negative integer", rawOffset)
		}
	}
	return limit, offset, nil
}

// statusFor maps an error code to an HTTP status
func statusFor(err error) int {
	switch utils.CodeOf(err) {
	case utils.ErrCodeValidation, utils.ErrCodeInvalidIdentifier:
		return http.StatusBadRequest
	case utils.ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes {error, code, details?}. Errors without a code are
// reported as internal, without details.
func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: "Internal server error", Code: utils.ErrCodeInternal}

	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		resp = errorResponse{Error: appErr.Message, Code: appErr.Code, Details: appErr.Details}
	}

	entry := s.logger.WithFields(logrus.Fields{"status": status, "code": resp.Code})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("HTTP error")
	} else {
		entry.Debug("HTTP client error")
	}

	s.writeJSON(w, status, resp)
}

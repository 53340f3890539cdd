package handler

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vcs-invoice-reconciler/internal/api_gateway/middleware"
	"github.com/vcs-invoice-reconciler/internal/api_gateway/service"
	"github.com/vcs-invoice-reconciler/internal/domain/audit"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/vcsorder"
)

const historyLimit = 100

// RecordHandler handles HTTP requests for Local Store records
type RecordHandler struct {
	recordService  service.RecordService
	requeueService service.RequeueService
	logger         *slog.Logger
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(logger *slog.Logger, recordService service.RecordService, requeueService service.RequeueService) *RecordHandler {
	return &RecordHandler{
		recordService:  recordService,
		requeueService: requeueService,
		logger:         logger,
	}
}

// GetByKey retrieves one record, returns 404 if not found
func (h *RecordHandler) GetByKey(c *gin.Context) {
	key, ok := h.keyFromPath(c)
	if !ok {
		return
	}

	rec, err := h.recordService.GetRecord(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("Failed to get record", "key", key.String(), "error", err)
		RespondInternalError(c)
		return
	}
	if rec == nil {
		RespondNotFound(c, "Record not found")
		return
	}

	RespondOK(c, mapRecordToResponse(rec))
}

// List pages through records of one status
func (h *RecordHandler) List(c *gin.Context) {
	var params ListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		h.logger.Error("Invalid list parameters", "error", err)
		RespondBadRequest(c, "Invalid list parameters")
		return
	}

	after, err := parseCursor(params.After)
	if err != nil {
		RespondBadRequest(c, "Invalid cursor")
		return
	}

	records, err := h.recordService.ListRecords(c.Request.Context(), shared.RecordStatus(params.Status), after, params.Limit)
	if err != nil {
		h.logger.Error("Failed to list records", "status", params.Status, "error", err)
		RespondInternalError(c)
		return
	}

	response := RecordListResponse{Records: make([]RecordResponse, 0, len(records))}
	for _, rec := range records {
		response.Records = append(response.Records, mapRecordToResponse(rec))
	}
	if len(records) == params.Limit {
		response.NextAfter = records[len(records)-1].Key().String()
	}
	RespondOK(c, response)
}

// Counts returns the number of records per status
func (h *RecordHandler) Counts(c *gin.Context) {
	counts, err := h.recordService.CountByStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count records", "error", err)
		RespondInternalError(c)
		return
	}

	response := gin.H{}
	for _, status := range []shared.RecordStatus{
		shared.RecordStatusPending,
		shared.RecordStatusInvoiced,
		shared.RecordStatusSkipped,
		shared.RecordStatusError,
	} {
		response[string(status)] = counts[status]
	}
	RespondOK(c, response)
}

// History returns the journal of an order, newest first
func (h *RecordHandler) History(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("orderId"))
	if orderID == "" {
		RespondBadRequest(c, "Invalid order ID")
		return
	}

	entries, err := h.recordService.History(c.Request.Context(), orderID, historyLimit)
	if err != nil {
		h.logger.Error("Failed to read order history", "orderId", orderID, "error", err)
		RespondInternalError(c)
		return
	}

	history := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		history = append(history, mapEntryToResponse(e))
	}
	RespondOK(c, history)
}

// Requeue asks the worker to reset a parked record and process it again
func (h *RecordHandler) Requeue(c *gin.Context) {
	key, ok := h.keyFromPath(c)
	if !ok {
		return
	}

	var body RequeueRequestBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.logger.Error("Invalid request body", "error", err)
			RespondBadRequest(c, "Invalid request body: "+err.Error())
			return
		}
	}

	request := &shared.RequeueRequest{
		OrderID:         key.OrderID,
		TransactionType: key.TransactionType,
		RequestedBy:     body.RequestedBy,
		Note:            body.Note,
		CorrelationID:   middleware.GetCorrelationID(c),
		Timestamp:       time.Now(),
	}

	err := h.requeueService.RequestRequeue(c.Request.Context(), request)
	switch {
	case err == nil:
	case errors.Is(err, vcsorder.ErrRecordNotFound{}):
		RespondNotFound(c, "Record not found")
		return
	case errors.Is(err, service.ErrNotParked):
		RespondConflict(c, err.Error())
		return
	default:
		h.logger.Error("Failed to request requeue", "key", key.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondAccepted(c, gin.H{
		"order_id":         key.OrderID,
		"transaction_type": key.TransactionType,
		"status":           "REQUEUE_REQUESTED",
	})
}

func (h *RecordHandler) keyFromPath(c *gin.Context) (vcsorder.Key, bool) {
	orderID := strings.TrimSpace(c.Param("orderId"))
	txType, err := shared.ParseTransactionType(c.Param("type"))
	if orderID == "" || err != nil {
		h.logger.Error("Invalid record key", "orderId", orderID, "type", c.Param("type"))
		RespondBadRequest(c, "Invalid record key")
		return vcsorder.Key{}, false
	}
	return vcsorder.Key{OrderID: orderID, TransactionType: txType}, true
}

// parseCursor reads an ORDER/TYPE cursor; the order id itself may contain slashes
func parseCursor(raw string) (vcsorder.Key, error) {
	if raw == "" {
		return vcsorder.Key{}, nil
	}
	i := strings.LastIndex(raw, "/")
	if i <= 0 {
		return vcsorder.Key{}, errors.New("cursor must be ORDER/TYPE")
	}
	txType, err := shared.ParseTransactionType(raw[i+1:])
	if err != nil {
		return vcsorder.Key{}, err
	}
	return vcsorder.Key{OrderID: raw[:i], TransactionType: txType}, nil
}

// mapRecordToResponse maps a record to a response DTO
func mapRecordToResponse(rec *vcsorder.Record) RecordResponse {
	response := RecordResponse{
		OrderID:         rec.OrderID,
		TransactionType: string(rec.TransactionType),
		Status:          string(rec.Status),
		LedgerInvoiceID: rec.LedgerInvoiceID,
		ReportID:        rec.ReportID,
		Attempts:        rec.Attempts,
		Version:         rec.Version,
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.LedgerInvoiceRef != nil {
		response.LedgerInvoiceRef = *rec.LedgerInvoiceRef
	}
	if rec.SkipReason != nil {
		response.SkipReason = string(*rec.SkipReason)
	}
	if rec.ErrorReason != nil {
		response.ErrorReason = string(*rec.ErrorReason)
	}
	if rec.ErrorMessage != nil {
		response.ErrorMessage = *rec.ErrorMessage
	}
	if rec.Note != nil {
		response.Note = *rec.Note
	}
	if rec.Aggregate != nil {
		response.Total = rec.Aggregate.TotalInclusive.StringFixed(2)
		response.Currency = rec.Aggregate.Currency
	}
	if rec.LastAttemptAt != nil {
		response.LastAttemptAt = rec.LastAttemptAt.Format(time.RFC3339)
	}
	return response
}

func mapEntryToResponse(e *audit.Entry) HistoryEntryResponse {
	return HistoryEntryResponse{
		RunID:           e.RunID,
		Action:          string(e.Action),
		RepairKind:      string(e.RepairKind),
		TransactionType: string(e.TransactionType),
		LedgerInvoiceID: e.LedgerInvoiceID,
		Status:          string(e.Status),
		Detail:          e.Detail,
		DryRun:          e.DryRun,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
}

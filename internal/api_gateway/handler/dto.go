package handler

// RequeueRequestBody is the optional body of a requeue request
type RequeueRequestBody struct {
	RequestedBy string `json:"requested_by" binding:"max=100"`
	Note        string `json:"note" binding:"max=500"`
}

// RecordResponse represents a Local Store record in API responses
type RecordResponse struct {
	OrderID          string `json:"order_id"`
	TransactionType  string `json:"transaction_type"`
	Status           string `json:"status"`
	LedgerInvoiceID  *int64 `json:"ledger_invoice_id,omitempty"`
	LedgerInvoiceRef string `json:"ledger_invoice_ref,omitempty"`
	SkipReason       string `json:"skip_reason,omitempty"`
	ErrorReason      string `json:"error_reason,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	Note             string `json:"note,omitempty"`
	ReportID         string `json:"report_id"`
	Total            string `json:"total,omitempty"`
	Currency         string `json:"currency,omitempty"`
	Attempts         int    `json:"attempts"`
	Version          int    `json:"version"`
	LastAttemptAt    string `json:"last_attempt_at,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// RecordListResponse represents one page of records
type RecordListResponse struct {
	Records []RecordResponse `json:"records"`
	// NextAfter is the cursor of the next page, empty on the last page
	NextAfter string `json:"next_after,omitempty"`
}

// HistoryEntryResponse represents one journal entry
type HistoryEntryResponse struct {
	RunID           string `json:"run_id"`
	Action          string `json:"action"`
	RepairKind      string `json:"repair_kind,omitempty"`
	TransactionType string `json:"transaction_type,omitempty"`
	LedgerInvoiceID int64  `json:"ledger_invoice_id,omitempty"`
	Status          string `json:"status,omitempty"`
	Detail          string `json:"detail,omitempty"`
	DryRun          bool   `json:"dry_run,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// ListParams represents the query parameters of the record list
type ListParams struct {
	Status string `form:"status,default=error" binding:"oneof=pending invoiced skipped error"`
	After  string `form:"after"`
	Limit  int    `form:"limit,default=50" binding:"min=1,max=500"`
}

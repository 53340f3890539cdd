package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
)

// Config holds the connection settings of an Odoo instance
type Config struct {
	URL      string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is a JSON-RPC client for the Odoo external API. It implements ledger.Service.
// It does no retrying or rate limiting of its own.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger

	mu  sync.Mutex
	uid int64

	requestID atomic.Int64
}

var _ ledger.Service = (*Client)(nil)

// NewClient creates an Odoo client. Authentication happens on the first call.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.URL, "/") + "/jsonrpc",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "odoo_client"),
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

// SearchRead returns the fields of every record of model matching domain
func (c *Client) SearchRead(ctx context.Context, model string, domain ledger.Domain, fields []string, opts ledger.SearchOptions) ([]ledger.Row, error) {
	if domain == nil {
		domain = ledger.Domain{}
	}
	kwargs := map[string]any{"fields": fields}
	if opts.Limit > 0 {
		kwargs["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		kwargs["offset"] = opts.Offset
	}
	if opts.Order != "" {
		kwargs["order"] = opts.Order
	}

	var rows []ledger.Row
	if err := c.executeKw(ctx, model, "search_read", []any{domain}, kwargs, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Create creates one record and returns its id
func (c *Client) Create(ctx context.Context, model string, values ledger.Values) (int64, error) {
	var id int64
	if err := c.executeKw(ctx, model, "create", []any{values}, nil, &id); err != nil {
		return 0, err
	}
	return id, nil
}

// Write updates fields on the given records
func (c *Client) Write(ctx context.Context, model string, ids []int64, values ledger.Values) error {
	return c.executeKw(ctx, model, "write", []any{ids, values}, nil, nil)
}

// Post confirms draft moves. Odoo answers null for this action; callers confirm the
// resulting state by reading the record back.
func (c *Client) Post(ctx context.Context, model string, ids []int64) error {
	return c.executeKw(ctx, model, "action_post", []any{ids}, nil, nil)
}

func (c *Client) executeKw(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := c.authenticate(ctx)
	if err != nil {
		return err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	op := model + "." + method
	callArgs := []any{c.cfg.Database, uid, c.cfg.Password, model, method, args, kwargs}
	return c.call(ctx, op, "object", "execute_kw", callArgs, out)
}

func (c *Client) authenticate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.uid != 0 {
		return c.uid, nil
	}

	var result json.RawMessage
	args := []any{c.cfg.Database, c.cfg.Username, c.cfg.Password, map[string]any{}}
	if err := c.call(ctx, "authenticate", "common", "authenticate", args, &result); err != nil {
		return 0, err
	}

	var uid int64
	if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
		// Odoo answers false for bad credentials
		return 0, &ledger.ValidationError{Op: "authenticate", Message: "invalid credentials for " + c.cfg.Username}
	}

	c.uid = uid
	c.logger.Info("Authenticated with ledger", "database", c.cfg.Database, "uid", uid)
	return uid, nil
}

func (c *Client) call(ctx context.Context, op, service, method string, args []any, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.requestID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ledger.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ledger.TransientError{Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return &ledger.TransientError{Op: op, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return &ledger.ValidationError{Op: op, Message: fmt.Sprintf("http status %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&rpcResp); err != nil {
		return &ledger.TransientError{Op: op, Err: fmt.Errorf("malformed reply: %w", err)}
	}

	if rpcResp.Error != nil {
		return classify(op, rpcResp.Error)
	}

	if out == nil || len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil
	}

	if raw, ok := out.(*json.RawMessage); ok {
		*raw = rpcResp.Result
		return nil
	}

	decoder = json.NewDecoder(bytes.NewReader(rpcResp.Result))
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", op, err)
	}
	return nil
}

// transientMarkers are server faults raised by database contention, not by the payload
var transientMarkers = []string{
	"could not serialize access",
	"concurrent update",
	"deadlock detected",
	"lock not available",
}

func classify(op string, e *rpcError) error {
	message := e.Data.Message
	if message == "" {
		message = e.Message
	}

	lower := strings.ToLower(message)
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return &ledger.TransientError{Op: op, Err: errors.New(message)}
		}
	}

	name := e.Data.Name
	if name != "" {
		message = name + ": " + message
	}
	return &ledger.ValidationError{Op: op, Message: message}
}

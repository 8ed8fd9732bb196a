// Package edge calls the backend's edge functions. Request and response bodies are consumed as-is.
package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"go.uber.org/zap"
)

const (
	fnFetchReceipt = "fetch-receipt"
	fnGrantAccess  = "grant-access"
	fnDeleteFiles  = "delete-files"
	fnCRMSync      = "crm-sync"
	fnHealth       = "health"
)

// Error is returned for non-2xx responses.
type Error struct {
	Function string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("edge function %s: status %d", e.Function, e.Status)
	}
	return fmt.Sprintf("edge function %s: status %d: %s", e.Function, e.Status, e.Message)
}

type Client struct {
	url     string
	key     string
	http    *http.Client
	repeats int
	delay   time.Duration
}

func NewClient(u string, key string, repeats int) *Client {
	if repeats < 1 {
		repeats = 1
	}
	return &Client{
		url:     strings.TrimRight(u, "/"),
		key:     key,
		http:    &http.Client{Timeout: 15 * time.Second},
		repeats: repeats,
		delay:   time.Second,
	}
}

type Receipt struct {
	PaymentUID string `json:"payment_uid"`
	ReceiptURL string `json:"receipt_url"`
}

type DeleteResult struct {
	Allowed      int      `json:"allowed"`
	Blocked      int      `json:"blocked"`
	Deleted      int      `json:"deleted"`
	AllowedPaths []string `json:"allowed_paths"`
	BlockedPaths []string `json:"blocked_paths"`
}

// FetchReceipt asks the payment provider bridge for the receipt of one payment.
func (c *Client) FetchReceipt(ctx context.Context, paymentUID string) (*Receipt, error) {
	var out Receipt
	err := c.call(ctx, fnFetchReceipt, map[string]string{"payment_uid": paymentUID}, &out)
	if err != nil {
		return nil, err
	}
	if out.ReceiptURL == "" {
		return nil, fmt.Errorf("edge function %s: empty receipt for %s", fnFetchReceipt, paymentUID)
	}
	return &out, nil
}

func (c *Client) GrantAccess(ctx context.Context, profileID, productID string) error {
	return c.call(ctx, fnGrantAccess, map[string]string{"profile_id": profileID, "product_id": productID}, nil)
}

// DeleteFiles runs the delete confirmation function. With dryRun nothing is removed and the
// response only reports which paths would be allowed or blocked.
// Dry runs are read-only and therefore retried.
func (c *Client) DeleteFiles(ctx context.Context, paths []string, dryRun bool) (*DeleteResult, error) {
	req := struct {
		Paths  []string `json:"paths"`
		DryRun bool     `json:"dry_run"`
	}{Paths: paths, DryRun: dryRun}
	var out DeleteResult
	if !dryRun {
		if err := c.call(ctx, fnDeleteFiles, req, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}
	err := c.retry(ctx, fnDeleteFiles, func() error {
		out = DeleteResult{}
		return c.call(ctx, fnDeleteFiles, req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SyncDeal(ctx context.Context, dealID, profileID string) error {
	return c.call(ctx, fnCRMSync, map[string]string{"deal_id": dealID, "profile_id": profileID}, nil)
}

// Ping waits until the functions gateway answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.retry(ctx, fnHealth, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(fnHealth), nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		c.authorize(req)
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= http.StatusInternalServerError {
			return &Error{Function: fnHealth, Status: resp.StatusCode}
		}
		return nil
	})
}

func (c *Client) retry(ctx context.Context, fn string, op func() error) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(uint(c.repeats)),
		retry.Delay(c.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(attempt uint, err error) {
			logger.Log.Debug("edge call retry", zap.String("function", fn), zap.Uint("attempt", attempt+1), zap.Error(err))
		}),
	)
}

// retryable keeps 4xx answers final.
func retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) endpoint(fn string) string {
	return c.url + "/functions/v1/" + fn
}

func (c *Client) authorize(req *http.Request) {
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
		req.Header.Set("apikey", c.key)
	}
}

func (c *Client) call(ctx context.Context, fn string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(fn), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Log.Error("edge call error - request failed", zap.String("function", fn), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Log.Error("edge call error - response body reading failed", zap.String("function", fn), zap.Error(err))
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &e)
		return &Error{Function: fn, Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		logger.Log.Error("edge call error - response unmarshal failed", zap.String("function", fn), zap.Error(err))
		return err
	}
	return nil
}

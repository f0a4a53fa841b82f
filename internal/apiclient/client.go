// Package apiclient is the HTTP client kubehealctl uses against the server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/history"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 90 * time.Second},
	}
}

// APIError is a non-2xx answer. Record is set when the server still returned
// a remediation record, as it does for failed actions.
type APIError struct {
	Status  int
	Code    string
	Message string
	Record  *history.Record
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: status %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) ListAnomalies(ctx context.Context, status string) ([]anomaly.Anomaly, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var out []anomaly.Anomaly
	err := c.do(ctx, http.MethodGet, "/anomalies", q, nil, &out)
	return out, err
}

func (c *Client) Remediate(ctx context.Context, anomalyID, actionID string) (history.Record, error) {
	var rec history.Record
	err := c.do(ctx, http.MethodPost, "/anomalies/"+url.PathEscape(anomalyID)+"/remediate", nil,
		map[string]string{"actionId": actionID}, &rec)
	return rec, err
}

// ExportRemediations streams the CSV export into w.
func (c *Client) ExportRemediations(ctx context.Context, q url.Values, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/remediations/export", q, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body any) (*http.Request, error) {
	endpoint := c.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadGateway {
		// the action ran and failed; the body is the record
		var rec history.Record
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return &APIError{Status: resp.StatusCode, Code: "REMEDIATION_FAILED", Message: rec.Detail, Record: &rec}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Record  *history.Record `json:"record"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		apiErr.Code, apiErr.Message, apiErr.Record = payload.Code, payload.Message, payload.Record
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

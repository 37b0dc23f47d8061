// Package client is the key-holding side of the pipeline: it talks to an
// evaluator over HTTP or gRPC and turns decrypted sums into predictions.
package client

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

	"bfv-inference/envelope"
	"bfv-inference/he"
	"bfv-inference/model"
)

// Transport is what Predict needs from an evaluator. HTTP and rpc.Client
// implement it.
type Transport interface {
	Params(ctx context.Context) (he.Description, error)
	Model(ctx context.Context, name string) (model.Info, error)
	Infer(ctx context.Context, name string, body []byte) ([]byte, error)
}

// HTTP is a Transport for the evaluator's REST API.
type HTTP struct {
	baseURL string
	client  *http.Client
}

// NewHTTP returns a client for the server at baseURL. A nil client selects
// one with a generous timeout, since large batches take a while to compute.
func NewHTTP(baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &HTTP{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (c *HTTP) Params(ctx context.Context) (he.Description, error) {
	var desc he.Description
	err := c.getJSON(ctx, "/api/params", &desc)
	return desc, err
}

func (c *HTTP) Model(ctx context.Context, name string) (model.Info, error) {
	var info model.Info
	err := c.getJSON(ctx, "/api/models/"+url.PathEscape(name), &info)
	return info, err
}

func (c *HTTP) Models(ctx context.Context) ([]model.Info, error) {
	var infos []model.Info
	err := c.getJSON(ctx, "/api/models", &infos)
	return infos, err
}

func (c *HTTP) Infer(ctx context.Context, name string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/models/"+url.PathEscape(name)+"/inference", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTP) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("GET %s: invalid response: %w", path, err)
	}
	return nil
}

// StatusError is a non-200 response. It matches the error kind its status
// code stands for.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case http.StatusNotFound:
		return target == he.ErrModelNotFound
	case http.StatusUnprocessableEntity:
		return target == he.ErrFeatureCountMismatch
	case http.StatusRequestEntityTooLarge:
		return target == envelope.ErrTooLarge
	}
	return false
}

func responseError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
}

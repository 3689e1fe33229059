package mx10

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"context"

	"github.com/okaera/samplesync/internal/device/progress"
	"github.com/okaera/samplesync/internal/logctx"
	"github.com/okaera/samplesync/internal/samples"
	"github.com/okaera/samplesync/internal/transfer"
)

const (
	sessionCookie = "_bridge_session"

	// reportInterval is the byte interval between progress callbacks.
	// Sample payloads are a few megabytes, so report every 256KB.
	reportInterval = 256 * 1024
)

// Client talks JSON-RPC to the MX-10's USB-ethernet bridge.
type Client struct {
	BaseURL     string
	APIPath     string
	PairingCode string
	httpClient  *http.Client
	Insecure    bool   // skip TLS verification if true
	session     string // bridge session cookie
}

func NewClient(baseURL, apiPath, pairingCode string, timeout time.Duration, insecure ...bool) *Client {
	client := &Client{
		BaseURL:     baseURL,
		APIPath:     apiPath,
		PairingCode: pairingCode,
		httpClient:  &http.Client{Timeout: timeout},
	}
	if len(insecure) > 0 && insecure[0] {
		tr := &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
		client.httpClient.Transport = tr
		client.Insecure = true
	}

	return client
}

// Ensure Client implements DeviceTransport
var _ transfer.DeviceTransport = (*Client)(nil)

// Handshake pairs with the bridge and stores the session cookie for
// subsequent calls.
func (c *Client) Handshake(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("method", "bridge.hello")

	url := fmt.Sprintf("%s%s", c.BaseURL, c.APIPath)
	payload := map[string]interface{}{
		"id":     1,
		"method": "bridge.hello",
		"params": []interface{}{c.PairingCode},
	}
	body, _ := json.Marshal(payload)
	logger.Debug("sending bridge.hello", "url", url)

	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(body)))
	if err != nil {
		logger.Error("request error", "err", err)
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("HTTP error", "err", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		logger.Error("non-200 response", "status", resp.StatusCode, "body", string(b))
		return fmt.Errorf("handshake failed: %s", string(b))
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie {
			c.session = cookie.Value
		}
	}

	var rpcResp struct {
		Result bool        `json:"result"`
		Error  interface{} `json:"error"`
		ID     int         `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		logger.Error("decode error", "err", err)
		return err
	}

	if !rpcResp.Result {
		logger.Error("pairing rejected", "error", rpcResp.Error)
		return fmt.Errorf("mx10 bridge.hello failed: %v", rpcResp.Error)
	}

	logger.Debug("success")

	return nil
}

// call performs a small JSON-RPC round trip and decodes the result into
// the given value.
func (c *Client) call(ctx context.Context, id int, method string, params []interface{}, result interface{}) error {
	logger := logctx.LoggerFromContext(ctx).With("method", method)

	url := fmt.Sprintf("%s%s", c.BaseURL, c.APIPath)
	payload := map[string]interface{}{
		"id":     id,
		"method": method,
		"params": params,
	}
	body, _ := json.Marshal(payload)
	logger.Debug("sending rpc request")

	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(body)))
	if err != nil {
		logger.Error("failed to create new request with context", "err", err)
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.session})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("failed to execute rpc request", "err", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		logger.Error("non-200 response", "status", resp.StatusCode, "body", string(b))
		return fmt.Errorf("%s request failed: %s", method, string(b))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  interface{}     `json:"error"`
		ID     int             `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		logger.Error("decode error", "err", err)
		return err
	}

	if rpcResp.Error != nil {
		logger.Error("API error", "error", rpcResp.Error)
		return fmt.Errorf("mx10 %s error: %v", method, rpcResp.Error)
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			logger.Error("result decode error", "err", err)
			return err
		}
	}

	return nil
}

// IsSet reports whether the sampler's banks hold a collection.
func (c *Client) IsSet(ctx context.Context) (bool, error) {
	var isSet bool
	if err := c.call(ctx, 2, "sampler.is_set", []interface{}{}, &isSet); err != nil {
		return false, err
	}

	return isSet, nil
}

// GetSpaceUsed retrieves total and used sample memory plus the per-bank
// usage breakdown.
func (c *Client) GetSpaceUsed(ctx context.Context) (transfer.SpaceUsage, error) {
	var result struct {
		Tot   int64   `json:"tot"`
		Usd   int64   `json:"usd"`
		Packs []int64 `json:"packs"`
	}
	if err := c.call(ctx, 3, "sampler.get_space_used", []interface{}{}, &result); err != nil {
		return transfer.SpaceUsage{}, err
	}

	return transfer.SpaceUsage{
		Total: result.Tot,
		Used:  result.Usd,
		Packs: result.Packs,
	}, nil
}

// GetIDs retrieves the raw per-bank pack ids. Empty banks come back as
// nulls and stay nil.
func (c *Client) GetIDs(ctx context.Context) ([]*string, error) {
	var ids []*string
	if err := c.call(ctx, 4, "sampler.get_ids", []interface{}{}, &ids); err != nil {
		return nil, err
	}

	return ids, nil
}

// DownloadSamples reads the full collection off the device, reporting
// body read progress through the callback.
func (c *Client) DownloadSamples(ctx context.Context, onProgress func(float64)) (samples.Collection, error) {
	logger := logctx.LoggerFromContext(ctx).With("method", "sampler.download")

	url := fmt.Sprintf("%s%s", c.BaseURL, c.APIPath)
	payload := map[string]interface{}{
		"id":     5,
		"method": "sampler.download",
		"params": []interface{}{},
	}
	body, _ := json.Marshal(payload)
	logger.Debug("sending sampler.download")

	req, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(body)))
	if err != nil {
		logger.Error("failed to create new request with context", "err", err)
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.session})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("failed to execute download request", "err", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		logger.Error("non-200 response", "status", resp.StatusCode, "body", string(b))
		return nil, fmt.Errorf("sampler.download request failed: %s", string(b))
	}

	respBody := io.Reader(resp.Body)
	if onProgress != nil {
		respBody = progress.NewReader(resp.Body, resp.ContentLength, reportInterval, onProgress)
	}

	var rpcResp struct {
		Result samples.Collection `json:"result"`
		Error  interface{}        `json:"error"`
		ID     int                `json:"id"`
	}
	if err := json.NewDecoder(respBody).Decode(&rpcResp); err != nil {
		logger.Error("decode error", "err", err)
		return nil, err
	}

	if rpcResp.Error != nil {
		logger.Error("API error", "error", rpcResp.Error)
		return nil, fmt.Errorf("mx10 sampler.download error: %v", rpcResp.Error)
	}

	logger.Debug("downloaded sample collection", "slots", len(rpcResp.Result))

	return rpcResp.Result, nil
}

// UploadSamples writes the full collection to the device, reporting
// body write progress through the callback. The device acknowledges the
// write with a boolean.
func (c *Client) UploadSamples(ctx context.Context, collection samples.Collection, onProgress func(float64)) (bool, error) {
	logger := logctx.LoggerFromContext(ctx).With("method", "sampler.upload")

	url := fmt.Sprintf("%s%s", c.BaseURL, c.APIPath)
	payload := map[string]interface{}{
		"id":     6,
		"method": "sampler.upload",
		"params": []interface{}{collection},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to encode collection", "err", err)
		return false, err
	}

	logger.Debug("sending sampler.upload", "payload_bytes", len(body))

	reqBody := io.Reader(bytes.NewReader(body))
	if onProgress != nil {
		reqBody = progress.NewReader(bytes.NewReader(body), int64(len(body)), reportInterval, onProgress)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, reqBody)
	if err != nil {
		logger.Error("failed to create new request with context", "err", err)
		return false, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(body))

	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.session})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("failed to execute upload request", "err", err)
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		logger.Error("non-200 response", "status", resp.StatusCode, "body", string(b))
		return false, fmt.Errorf("sampler.upload request failed: %s", string(b))
	}

	var rpcResp struct {
		Result bool        `json:"result"`
		Error  interface{} `json:"error"`
		ID     int         `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		logger.Error("decode error", "err", err)
		return false, err
	}

	if rpcResp.Error != nil {
		logger.Error("API error", "error", rpcResp.Error)
		return false, fmt.Errorf("mx10 sampler.upload error: %v", rpcResp.Error)
	}

	return rpcResp.Result, nil
}

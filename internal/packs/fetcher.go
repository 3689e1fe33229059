// Package packs fetches licensed sample packs from the remote pack
// store.
package packs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okaera/samplesync/internal/logctx"
	"github.com/okaera/samplesync/internal/samples"
	"github.com/okaera/samplesync/internal/telemetry"
	"github.com/okaera/samplesync/internal/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// Fetcher retrieves sample packs over the store's DRM delivery API.
type Fetcher struct {
	client     *http.Client
	baseURL    string
	deviceKind string
	telemetry  *telemetry.Telemetry
}

// NewFetcher creates a pack store client. With a token set, requests
// carry a bearer Authorization header.
func NewFetcher(baseURL, token, deviceKind string, timeout time.Duration, tel *telemetry.Telemetry) *Fetcher {
	base := otelhttp.NewTransport(http.DefaultTransport)

	client := &http.Client{
		Transport: base,
		Timeout:   timeout,
	}
	if token != "" {
		client.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   base,
		}
	}

	return &Fetcher{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		deviceKind: deviceKind,
		telemetry:  tel,
	}
}

var _ transfer.PackFetcher = (*Fetcher)(nil)

// FetchPack retrieves one pack by id. The store keys pack content by id
// but leaves the name field to the caller, so the returned pack is
// always named after the requested id.
func (f *Fetcher) FetchPack(ctx context.Context, id string) (*samples.Pack, error) {
	var pack *samples.Pack

	err := f.telemetry.InstrumentPackFetch(ctx, func(ctx context.Context) error {
		var err error
		pack, err = f.fetch(ctx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return pack, nil
}

func (f *Fetcher) fetch(ctx context.Context, id string) (*samples.Pack, error) {
	logger := logctx.LoggerFromContext(ctx)

	fetchURL := fmt.Sprintf("%s/samples/%s/DRM/%s.json", f.baseURL, f.deviceKind, url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("url: %s, status: %d", fetchURL, resp.StatusCode)
	}

	var pack samples.Pack
	if err := json.NewDecoder(resp.Body).Decode(&pack); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	pack.Name = id

	logger.DebugContext(ctx, "fetched sample pack", "pack_id", id, "loops", len(pack.Loops))

	return &pack, nil
}

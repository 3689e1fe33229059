package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okaera/samplesync/internal/samples"
	"github.com/okaera/samplesync/internal/storage"
	"github.com/okaera/samplesync/internal/telemetry"
	"github.com/okaera/samplesync/internal/transfer"
	"github.com/stretchr/testify/require"
)

// mockService implements the Service interface for testing.
type mockService struct {
	store *transfer.Store

	probeFunc          func(ctx context.Context) (*transfer.SupportStatus, error)
	downloadFunc       func(ctx context.Context) (samples.Collection, error)
	uploadFunc         func(ctx context.Context, collection samples.Collection) error
	uploadDefaultsFunc func(ctx context.Context) error
	initialiseFunc     func(ctx context.Context) error
	waitFunc           func(ctx context.Context) error

	uploadCalled bool
	resetCalled  bool
	lastUpload   samples.Collection
}

func newMockService() *mockService {
	return &mockService{store: transfer.NewStore()}
}

func (m *mockService) CheckDeviceSampleSupport(ctx context.Context) (*transfer.SupportStatus, error) {
	if m.probeFunc != nil {
		return m.probeFunc(ctx)
	}

	supported := true

	return &transfer.SupportStatus{Supported: true, IsSet: &supported}, nil
}

func (m *mockService) DownloadDeviceSamples(ctx context.Context) (samples.Collection, error) {
	if m.downloadFunc != nil {
		return m.downloadFunc(ctx)
	}

	return make(samples.Collection, samples.NumSlots), nil
}

func (m *mockService) UploadDeviceSamples(ctx context.Context, collection samples.Collection) error {
	m.uploadCalled = true
	m.lastUpload = collection

	if m.uploadFunc != nil {
		return m.uploadFunc(ctx, collection)
	}

	return nil
}

func (m *mockService) UploadDeviceDefaultSamples(ctx context.Context) error {
	if m.uploadDefaultsFunc != nil {
		return m.uploadDefaultsFunc(ctx)
	}

	return nil
}

func (m *mockService) InitialiseDeviceSamples(ctx context.Context) error {
	if m.initialiseFunc != nil {
		return m.initialiseFunc(ctx)
	}

	return nil
}

func (m *mockService) WaitForUploadToFinish(ctx context.Context) error {
	if m.waitFunc != nil {
		return m.waitFunc(ctx)
	}

	return nil
}

func (m *mockService) ResetSnapshot() {
	m.resetCalled = true
}

func (m *mockService) Store() *transfer.Store {
	return m.store
}

// mockJournal implements storage.JournalReadRepository for testing.
type mockJournal struct {
	records   []storage.OperationRecord
	err       error
	lastLimit int
}

func (m *mockJournal) GetRecent(limit int) ([]storage.OperationRecord, error) {
	m.lastLimit = limit

	return m.records, m.err
}

func doRequest(t *testing.T, h *Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	req.SetBasicAuth("admin", "hunter2")

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	return rec
}

func TestBasicAuth(t *testing.T) {
	h := NewHandler("admin", "hunter2", newMockService(), nil, nil)

	tests := []struct {
		name         string
		setAuth      func(req *http.Request)
		expectStatus int
	}{
		{"missing credentials", func(req *http.Request) {}, http.StatusUnauthorized},
		{"wrong password", func(req *http.Request) { req.SetBasicAuth("admin", "wrong") }, http.StatusUnauthorized},
		{"valid credentials", func(req *http.Request) { req.SetBasicAuth("admin", "hunter2") }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			tt.setAuth(req)

			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)

			require.Equal(t, tt.expectStatus, rec.Code)
		})
	}
}

func TestHandleStatus(t *testing.T) {
	svc := newMockService()
	svc.store.UpdateSnapshot(func(s *transfer.Snapshot) {
		supported := true
		s.IsSupported = &supported
	})
	svc.store.SetChannel(transfer.ChannelUpload, transfer.Failed("failed to upload"))

	h := NewHandler("admin", "hunter2", svc, nil, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Device struct {
			IsSupported *bool `json:"is_supported"`
		} `json:"device"`
		Channels map[string]struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.NotNil(t, resp.Device.IsSupported)
	require.True(t, *resp.Device.IsSupported)
	require.Equal(t, "idle", resp.Channels["probe"].Status)
	require.Equal(t, "failed", resp.Channels["upload"].Status)
	require.Equal(t, "failed to upload", resp.Channels["upload"].Message)
}

func TestHandleProbe(t *testing.T) {
	tests := []struct {
		name         string
		probeFunc    func(ctx context.Context) (*transfer.SupportStatus, error)
		expectStatus int
		expectBody   string
	}{
		{
			"supported",
			nil,
			http.StatusOK,
			`"supported":true`,
		},
		{
			"busy",
			func(ctx context.Context) (*transfer.SupportStatus, error) {
				return nil, &transfer.BusyError{Operation: "probe"}
			},
			http.StatusConflict,
			"transfer in progress",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.probeFunc = tt.probeFunc

			h := NewHandler("admin", "hunter2", svc, nil, nil)

			rec := doRequest(t, h, http.MethodPost, "/api/v1/probe", "")
			require.Equal(t, tt.expectStatus, rec.Code)
			require.Contains(t, rec.Body.String(), tt.expectBody)
		})
	}
}

func TestHandleUpload(t *testing.T) {
	validBody := func() string {
		collection := make(samples.Collection, samples.NumSlots)
		raw, _ := json.Marshal(map[string]any{"samples": collection})

		return string(raw)
	}()

	tests := []struct {
		name         string
		body         string
		uploadFunc   func(ctx context.Context, collection samples.Collection) error
		expectStatus int
	}{
		{"invalid body", "{not json", nil, http.StatusBadRequest},
		{"success", validBody, nil, http.StatusOK},
		{
			"busy",
			validBody,
			func(ctx context.Context, collection samples.Collection) error {
				return &transfer.BusyError{Operation: "upload"}
			},
			http.StatusConflict,
		},
		{
			"not supported",
			validBody,
			func(ctx context.Context, collection samples.Collection) error {
				return &transfer.PreconditionError{Operation: "upload", Reason: "device samples not supported"}
			},
			http.StatusUnprocessableEntity,
		},
		{
			"verification mismatch",
			validBody,
			func(ctx context.Context, collection samples.Collection) error {
				return &transfer.VerificationError{Reason: "uploaded and downloaded samples are not identical"}
			},
			http.StatusBadGateway,
		},
		{
			"device fault",
			validBody,
			func(ctx context.Context, collection samples.Collection) error {
				return &transfer.TransportError{Operation: "upload_samples", Reason: "failed to upload"}
			},
			http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.uploadFunc = tt.uploadFunc

			h := NewHandler("admin", "hunter2", svc, nil, nil)

			rec := doRequest(t, h, http.MethodPost, "/api/v1/upload", tt.body)
			require.Equal(t, tt.expectStatus, rec.Code)
		})
	}
}

func TestHandleUpload_PassesCollection(t *testing.T) {
	collection := make(samples.Collection, samples.NumSlots)
	collection[0] = &samples.Pack{Name: "808 Essentials"}

	raw, err := json.Marshal(map[string]any{"samples": collection})
	require.NoError(t, err)

	svc := newMockService()
	h := NewHandler("admin", "hunter2", svc, nil, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/upload", string(raw))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, svc.uploadCalled)
	require.Len(t, svc.lastUpload, samples.NumSlots)
	require.NotNil(t, svc.lastUpload[0])
	require.Equal(t, "808 Essentials", svc.lastUpload[0].Name)
}

func TestHandleUpload_RecordsSource(t *testing.T) {
	// A disabled telemetry instance still travels the recording path;
	// both upload entry points must survive it.
	tel, err := telemetry.New(context.Background(), telemetry.Config{})
	require.NoError(t, err)

	body := func() string {
		collection := make(samples.Collection, samples.NumSlots)
		raw, _ := json.Marshal(map[string]any{"samples": collection})

		return string(raw)
	}()

	svc := newMockService()
	h := NewHandler("admin", "hunter2", svc, nil, tel)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/upload", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, svc.uploadCalled)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/upload-defaults", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleDownload(t *testing.T) {
	svc := newMockService()
	svc.downloadFunc = func(ctx context.Context) (samples.Collection, error) {
		collection := make(samples.Collection, samples.NumSlots)
		collection[3] = &samples.Pack{Name: "Tape Loops"}

		return collection, nil
	}

	h := NewHandler("admin", "hunter2", svc, nil, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/download", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DownloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Samples, samples.NumSlots)
	require.Equal(t, "Tape Loops", resp.Samples[3].Name)
}

func TestHandleReset(t *testing.T) {
	svc := newMockService()
	h := NewHandler("admin", "hunter2", svc, nil, nil)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, svc.resetCalled)
}

func TestHandleHistory(t *testing.T) {
	journal := &mockJournal{
		records: []storage.OperationRecord{
			{Operation: "upload", Status: "failed", Message: "failed to upload", DurationMS: 42, StartedAt: "2026-08-20T10:00:00Z"},
		},
	}

	h := NewHandler("admin", "hunter2", newMockService(), journal, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, defaultHistoryLimit, journal.lastLimit)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Operations, 1)
	require.Equal(t, "upload", resp.Operations[0].Operation)
	require.Equal(t, "failed to upload", resp.Operations[0].Message)
}

func TestHandleHistory_LimitValidation(t *testing.T) {
	journal := &mockJournal{}
	h := NewHandler("admin", "hunter2", newMockService(), journal, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/history?limit=nope", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/api/v1/history?limit=9999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, maxHistoryLimit, journal.lastLimit)
}

func TestHandleHistory_NoJournal(t *testing.T) {
	h := NewHandler("admin", "hunter2", newMockService(), nil, nil)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/history", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

package packs_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okaera/samplesync/internal/packs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPack(t *testing.T) {
	var gotPath, gotAuth string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")

		fmt.Fprint(w, `{"name": "store internal name", "loops": [{"pitch": 1}, {"pitch": 2}]}`)
	}))
	defer ts.Close()

	fetcher := packs.NewFetcher(ts.URL, "secret-token", "mx10", 10*time.Second, nil)

	pack, err := fetcher.FetchPack(context.Background(), "808 Essentials")
	require.NoError(t, err)

	assert.Equal(t, "/samples/mx10/DRM/808 Essentials.json", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)

	// The requested id wins over whatever name the store serves.
	assert.Equal(t, "808 Essentials", pack.Name)
	assert.Len(t, pack.Loops, 2)
}

func TestFetchPack_NoToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"name": "x", "loops": []}`)
	}))
	defer ts.Close()

	fetcher := packs.NewFetcher(ts.URL, "", "mx10", 10*time.Second, nil)

	_, err := fetcher.FetchPack(context.Background(), "Tape Loops")
	require.NoError(t, err)
}

func TestFetchPack_Errors(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		responseBody string
	}{
		{"not found", http.StatusNotFound, `{"error": "unknown pack"}`},
		{"server error", http.StatusInternalServerError, ``},
		{"bad payload", http.StatusOK, `{"loops": "not an array"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.responseBody)
			}))
			defer ts.Close()

			fetcher := packs.NewFetcher(ts.URL, "", "mx10", 10*time.Second, nil)

			_, err := fetcher.FetchPack(context.Background(), "Acid Bass")
			assert.Error(t, err)
		})
	}
}

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		host    string
		port    int
		useTLS  bool
		wantErr bool
	}{
		{name: "https with REST port maps to gRPC", url: "https://xyz.cloud.qdrant.io:6333", host: "xyz.cloud.qdrant.io", port: 6334, useTLS: true},
		{name: "http localhost REST port", url: "http://localhost:6333", host: "localhost", port: 6334},
		{name: "explicit gRPC port kept", url: "http://localhost:6334", host: "localhost", port: 6334},
		{name: "custom port kept", url: "http://qdrant.internal:7000", host: "qdrant.internal", port: 7000},
		{name: "no port defaults to gRPC", url: "http://qdrant.internal", host: "qdrant.internal", port: 6334},
		{name: "empty", url: "", wantErr: true},
		{name: "garbage", url: "://nope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseQdrantURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.useTLS, useTLS)
		})
	}
}

func TestHealthErrCache(t *testing.T) {
	q := &QdrantIndex{}

	// Unset cache reads as healthy.
	assert.NoError(t, q.loadHealthErr())

	q.storeHealthErr(assert.AnError)
	assert.Error(t, q.loadHealthErr())

	// nil overwrites a previous error.
	q.storeHealthErr(nil)
	assert.NoError(t, q.loadHealthErr())
}

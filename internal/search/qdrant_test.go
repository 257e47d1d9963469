package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskledger-ai/taskledger/internal/model"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{
			name:   "https cloud URL with REST port",
			rawURL: "https://xyz.cloud.qdrant.io:6333",
			host:   "xyz.cloud.qdrant.io",
			port:   6334, // REST 6333 maps to gRPC 6334
			tls:    true,
		},
		{
			name:   "https cloud URL with gRPC port",
			rawURL: "https://xyz.cloud.qdrant.io:6334",
			host:   "xyz.cloud.qdrant.io",
			port:   6334,
			tls:    true,
		},
		{
			name:   "http local URL",
			rawURL: "http://localhost:6333",
			host:   "localhost",
			port:   6334,
			tls:    false,
		},
		{
			name:   "http no port defaults to 6334",
			rawURL: "http://qdrant.internal",
			host:   "qdrant.internal",
			port:   6334,
			tls:    false,
		},
		{
			name:   "custom port preserved",
			rawURL: "https://qdrant.example.com:9334",
			host:   "qdrant.example.com",
			port:   9334,
			tls:    true,
		},
		{
			name:    "empty URL",
			rawURL:  "",
			wantErr: true,
		},
		{
			name:    "no scheme no host",
			rawURL:  "not-a-url",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.tls, tls)
		})
	}
}

func TestPriorityPayloadRank(t *testing.T) {
	// Ranks must be strictly increasing with urgency so priority_min range
	// filters behave like the storage layer's CASE ordering.
	assert.Less(t, priorityPayloadRank[model.PriorityLow], priorityPayloadRank[model.PriorityMedium])
	assert.Less(t, priorityPayloadRank[model.PriorityMedium], priorityPayloadRank[model.PriorityHigh])
	assert.Less(t, priorityPayloadRank[model.PriorityHigh], priorityPayloadRank[model.PriorityCritical])

	_, ok := priorityPayloadRank["bogus"]
	assert.False(t, ok)
}

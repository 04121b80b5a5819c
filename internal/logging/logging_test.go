package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log := Component(NewWithWriter(&buf, "checkout-api", "warn"), "sweeper")
	log.Info().Msg("dropped")
	log.Warn().Str("transaction_id", "t1").Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "checkout-api", line["service"])
	assert.Equal(t, "sweeper", line["component"])
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "t1", line["transaction_id"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "svc", "loud")
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

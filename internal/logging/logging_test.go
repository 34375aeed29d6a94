package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "customer@example.com", want: "c******r@example.com"},
		{in: "ab@example.com", want: "**@example.com"},
		{in: "not-an-email", want: "[REDACTED]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskEmail(tt.in), tt.in)
	}
}

func TestLoggerMasksSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "production")

	logger.Info("payment initialized",
		"email", "customer@example.com",
		"secret_key", "sk_test_1234567890",
		"reference", "PAY-abc")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "c******r@example.com", line["email"])
	assert.Equal(t, "**************7890", line["secret_key"])
	assert.Equal(t, "PAY-abc", line["reference"])
}

func TestProductionLoggerDropsDebug(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "production").Debug("noise")
	assert.Empty(t, buf.String())
}

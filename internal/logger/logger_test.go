package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	SetLevel("DEBUG")
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())

	SetLevel("warning")
	assert.Equal(t, logrus.WarnLevel, Logger.GetLevel())

	SetLevel("nonsense")
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}

func TestFromContextCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	Logger.SetOutput(&buf)
	defer Logger.SetOutput(logrus.StandardLogger().Out)

	ctx := WithRequestID(context.Background(), "req-42")
	FromContext(ctx).Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-42", line["request_id"])
	assert.Equal(t, "hello", line["msg"])
}

func TestRequestIDMissing(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
}

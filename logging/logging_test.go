package logging_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/table-ledger/logging"
)

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, slog.LevelWarn)

	logger.Info("hidden")
	logger.Warn("lock not acquired", slog.String("customer_id", "A"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "lock not acquired")
	assert.Contains(t, out, "customer_id=A")
	assert.NotContains(t, out, "\x1b[", "no color codes off a terminal")
}

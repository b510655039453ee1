package pass

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRenderProducesPDF(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	out, err := Render(Details{
		RequestID:   "req-1",
		Kind:        "outpass",
		StudentName: "Asha Rao",
		RollNumber:  "CS-104",
		From:        now,
		To:          now.Add(72 * time.Hour),
		Reason:      "family function",
		IssuedBy:    "dean",
		IssuedAt:    now.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderRequiresRequestID(t *testing.T) {
	_, err := Render(Details{})
	require.Error(t, err)
}

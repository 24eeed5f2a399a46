package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/mugate/internal/db"
	"github.com/udisondev/mugate/internal/testutil"
)

func detection(id string, port int, hackCheck string, closedAt time.Time) db.Detection {
	return db.Detection{
		ConnID:      id,
		RemoteAddr:  "10.0.0.7",
		Port:        port,
		HackCheck:   hackCheck,
		Xor32Key:    "primary",
		Packets:     3,
		CloseReason: "EOF",
		ConnectedAt: closedAt.Add(-time.Minute),
		ClosedAt:    closedAt,
	}
}

func TestDetectionRepository(t *testing.T) {
	pool := testutil.SetupTestDB(t)
	repo := db.NewDetectionRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	rows := []db.Detection{
		detection("3f1c7f0e-2a61-4c55-9a43-1d1b8a7a0001", 55901, "active", now.Add(-2*time.Second)),
		detection("3f1c7f0e-2a61-4c55-9a43-1d1b8a7a0002", 55901, "inactive", now.Add(-time.Second)),
		detection("3f1c7f0e-2a61-4c55-9a43-1d1b8a7a0003", 55901, "active", now),
		detection("3f1c7f0e-2a61-4c55-9a43-1d1b8a7a0004", 44405, "inactive", now),
	}
	for _, d := range rows {
		require.NoError(t, repo.RecordDetection(ctx, d))
	}

	t.Run("duplicate conn id is ignored", func(t *testing.T) {
		dup := rows[0]
		dup.HackCheck = "inactive"
		require.NoError(t, repo.RecordDetection(ctx, dup))

		stats, err := repo.HackCheckStats(ctx, 55901)
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"active": 2, "inactive": 1}, stats)
	})

	t.Run("recent detections newest first", func(t *testing.T) {
		got, err := repo.RecentDetections(ctx, 55901, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, rows[2].ConnID, got[0].ConnID)
		assert.Equal(t, rows[1].ConnID, got[1].ConnID)
		assert.True(t, rows[2].ClosedAt.Equal(got[0].ClosedAt))
		assert.Equal(t, int64(3), got[0].Packets)
	})

	t.Run("other port", func(t *testing.T) {
		got, err := repo.RecentDetections(ctx, 44405, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "inactive", got[0].HackCheck)
	})

	t.Run("invalid conn id", func(t *testing.T) {
		err := repo.RecordDetection(ctx, detection("not-a-uuid", 1, "unknown", now))
		assert.ErrorContains(t, err, "recording detection not-a-uuid")
	})
}

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachscout/jobs-crawler/internal/vision"
)

func TestGetReturnsFingerprint(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	lastSeen := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT screenshot_hash").
		WithArgs("https://district.example/jobs").
		WillReturnRows(pgxmock.NewRows(
			[]string{"screenshot_hash", "text_hash_local", "text_hash_cloud", "text_hash_agent", "last_tier", "last_seen"},
		).AddRow("shot-hash", "local-hash", "", "agent-hash", "agent", lastSeen))

	fp, found, err := store.Get(context.Background(), "https://district.example/jobs")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "shot-hash", fp.ScreenshotHash)
	assert.Equal(t, vision.TierAgent, fp.LastTier)
	assert.Equal(t, map[vision.Tier]string{
		vision.TierLocalOCR: "local-hash",
		vision.TierAgent:    "agent-hash",
	}, fp.TextHashes)
	assert.Equal(t, lastSeen, fp.LastSeen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT screenshot_hash").
		WithArgs("https://district.example/unknown").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.Get(context.Background(), "https://district.example/unknown")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPropagatesReadError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT screenshot_hash").
		WithArgs("https://district.example/jobs").
		WillReturnError(errors.New("connection reset"))

	_, _, err = store.Get(context.Background(), "https://district.example/jobs")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1700000000, 0).UTC() }

func TestUpsertWritesTierColumn(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, fixedClock{})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO pages").
		WithArgs("https://district.example/jobs", "shot-hash", "text-hash", "cloud-ocr", time.Unix(1700000000, 0).UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Upsert(context.Background(), "https://district.example/jobs", "shot-hash", vision.TierCloudOCR, "text-hash")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRejectsUnknownTier(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	err = store.Upsert(context.Background(), "https://district.example/jobs", "shot-hash", vision.Tier("paddle"), "text-hash")
	require.Error(t, err)
}

func TestUpsertRetriesOnceThenSucceeds(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO pages").
		WithArgs("https://district.example/jobs", "shot-hash", "text-hash", "local-ocr", pgxmock.AnyArg()).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectExec("INSERT INTO pages").
		WithArgs("https://district.example/jobs", "shot-hash", "text-hash", "local-ocr", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Upsert(context.Background(), "https://district.example/jobs", "shot-hash", vision.TierLocalOCR, "text-hash")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPersistentFailureSurfaces(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO pages").
		WithArgs("https://district.example/jobs", "shot-hash", "text-hash", "local-ocr", pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectExec("INSERT INTO pages").
		WithArgs("https://district.example/jobs", "shot-hash", "text-hash", "local-ocr", pgxmock.AnyArg()).
		WillReturnError(errors.New("disk full"))

	err = store.Upsert(context.Background(), "https://district.example/jobs", "shot-hash", vision.TierLocalOCR, "text-hash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after retry")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEscalationInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	ts := time.Unix(1700000000, 0).UTC()
	event := vision.EscalationEvent{
		Timestamp: ts,
		URL:       "https://district.example/jobs",
		FromTier:  vision.TierLocalOCR,
		ToTier:    vision.TierCloudOCR,
		Reason:    vision.ReasonTooShort,
		Info:      "conf=0.99 chars=5",
	}

	mock.ExpectExec("INSERT INTO escalations").
		WithArgs(ts, event.URL, "local-ocr", "cloud-ocr", "too_short", event.Info).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordEscalation(context.Background(), event))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunSummaryInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	ts := time.Unix(1700000000, 0).UTC()
	summary := vision.RunSummary{
		RunID:     "run-uuid",
		Timestamp: ts,
		Skipped:   12,
		CheapOCR:  7,
		Escalated: 3,
	}

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-uuid", ts, 12, 7, 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRunSummary(context.Background(), summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaCreatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pages").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS escalations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

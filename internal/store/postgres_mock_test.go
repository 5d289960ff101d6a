package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversation_states").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewPostgresStoreWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return s, mock
}

func TestPostgresStoreGetStateMock(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"sender", "current_step", "answers", "flags", "created_at", "updated_at"}).
		AddRow("a", "company", []byte(`[{"step":"interest","text":"yes"}]`), []byte(`{"unemployed":true}`), now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM conversation_states WHERE sender = $1")).
		WithArgs("a").
		WillReturnRows(rows)

	st, err := s.GetState(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, models.StepCompany, st.CurrentStep)
	assert.True(t, st.Flag(models.FlagUnemployed))
	v, ok := st.Answer(models.StepInterest)
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetStateCorruptMock(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"sender", "current_step", "answers", "flags", "created_at", "updated_at"}).
		AddRow("a", "company", []byte(`not-json`), nil, now, now)
	mock.ExpectQuery("FROM conversation_states").WillReturnRows(rows)

	_, err := s.GetState(context.Background(), "a")
	assert.Error(t, err)
}

func TestPostgresStoreSaveStateMock(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	st := models.NewConversationState("a", models.StepInterest)
	st.SetAnswer(models.StepInterest, "yes")
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (sender)")).
		WithArgs("a", "interest", `[{"step":"interest","text":"yes"}]`, `{}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveState(context.Background(), *st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreErrorsAreWrapped(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	boom := errors.New("connection reset")
	mock.ExpectExec("DELETE FROM conversation_states").WithArgs("a").WillReturnError(boom)

	err := s.DeleteState(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestPostgresStoreDedupMock(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec("INSERT INTO inbound_dedup").
		WithArgs("m1", "a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO inbound_dedup").
		WithArgs("m1", "a", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM inbound_dedup").
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	first, err := s.RecordInbound(context.Background(), "m1", "a")
	require.NoError(t, err)
	assert.True(t, first)
	second, err := s.RecordInbound(context.Background(), "m1", "a")
	require.NoError(t, err)
	assert.False(t, second)
	require.NoError(t, s.ForgetInbound(context.Background(), "m1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreTranscriptMock(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"sender", "step", "message", "logged_at"}).
		AddRow("a", "interest", "yes", ts).
		AddRow("a", "name", "Rahul", ts.Add(time.Minute))
	mock.ExpectQuery("SELECT sender, step, message, logged_at FROM transcripts").WithArgs("a").WillReturnRows(rows)

	entries, err := s.GetTranscript(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Rahul", entries[1].Message)
	assert.Equal(t, models.StepID("name"), entries[1].Step)
}

package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisefido-config/internal/domain"
)

func setupMockEntriesDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresEntriesRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresEntriesRepository(db)
	return db, mock, repo
}

func entryColumns() []string {
	return []string{
		"entry_id", "key", "persona", "agent_id", "workflow_id", "value", "version",
		"effective_from", "effective_to", "is_active", "created_by", "updated_at",
	}
}

func TestGetCurrent_Success(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	ctx := context.Background()
	entryID := uuid.New().String()
	now := time.Now()

	rows := sqlmock.NewRows(entryColumns()).AddRow(
		entryID, "renewal.threshold", "rachel", nil, nil, `0.8`, 3,
		now.Add(-time.Hour), nil, true, "ops", now,
	)
	mock.ExpectQuery(`SELECT`).
		WithArgs("renewal.threshold", "rachel", nil, nil, sqlmock.AnyArg()).
		WillReturnRows(rows)

	entry, err := repo.GetCurrent(ctx, CurrentQuery{
		Kind:  domain.KindSetting,
		Key:   "renewal.threshold",
		Scope: domain.ScopeOf("rachel", 0, 0),
		AsOf:  now,
	})

	require.NoError(t, err)
	assert.Equal(t, entryID, entry.EntryID)
	assert.Equal(t, "renewal.threshold", entry.Key)
	assert.Equal(t, 3, entry.Version)
	require.NotNil(t, entry.Scope.Persona)
	assert.Equal(t, "rachel", *entry.Scope.Persona)
	assert.Nil(t, entry.Scope.AgentID)
	assert.Equal(t, `0.8`, string(entry.Value))
	assert.Nil(t, entry.EffectiveTo)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCurrent_NotFound(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(sql.ErrNoRows)

	entry, err := repo.GetCurrent(context.Background(), CurrentQuery{
		Kind: domain.KindSetting, Key: "missing.key", AsOf: time.Now(),
	})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, entry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCurrent_TemplateFilters(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(append(entryColumns(), "channel", "locale")).AddRow(
		uuid.New().String(), "welcome.email", nil, nil, nil, `{"body":"hi"}`, 1,
		now.Add(-time.Hour), nil, true, "ops", now,
		"email", "en-US",
	)
	mock.ExpectQuery(`SELECT`).
		WithArgs("welcome.email", nil, nil, nil, sqlmock.AnyArg(), "email", "en-US").
		WillReturnRows(rows)

	entry, err := repo.GetCurrent(context.Background(), CurrentQuery{
		Kind: domain.KindTemplate, Key: "welcome.email", AsOf: now,
		Channel: "email", Locale: "en-US",
	})

	require.NoError(t, err)
	assert.Equal(t, "email", entry.Channel)
	assert.Equal(t, "en-US", entry.Locale)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxVersion(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WithArgs("renewal.threshold", nil, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(5))

	max, err := repo.MaxVersion(context.Background(), domain.KindSetting, "renewal.threshold", domain.GlobalScope())

	require.NoError(t, err)
	assert.Equal(t, 5, max)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxVersion_NoRows(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\)`).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

	max, err := repo.MaxVersion(context.Background(), domain.KindSetting, "fresh.key", domain.GlobalScope())

	require.NoError(t, err)
	assert.Equal(t, 0, max)
}

func TestInsert_Success(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO config_entries`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entryID, err := repo.Insert(context.Background(), domain.KindSetting, &domain.ConfigEntry{
		Key:           "renewal.threshold",
		Value:         []byte(`0.8`),
		Version:       1,
		EffectiveFrom: time.Now(),
		IsActive:      true,
		CreatedBy:     "ops",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, entryID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_VersionConflict(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	// 并发写入者抢先占用了版本号：唯一约束冲突必须映射为 ErrConflict
	mock.ExpectExec(`INSERT INTO config_entries`).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.Insert(context.Background(), domain.KindSetting, &domain.ConfigEntry{
		Key:           "renewal.threshold",
		Value:         []byte(`0.8`),
		Version:       2,
		EffectiveFrom: time.Now(),
		IsActive:      true,
		CreatedBy:     "ops",
	})

	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_Validation(t *testing.T) {
	db, _, repo := setupMockEntriesDB(t)
	defer db.Close()

	ctx := context.Background()

	_, err := repo.Insert(ctx, domain.KindSetting, &domain.ConfigEntry{Version: 1, Value: []byte(`1`)})
	assert.Error(t, err)

	_, err = repo.Insert(ctx, domain.KindSetting, &domain.ConfigEntry{Key: "k", Version: 0, Value: []byte(`1`)})
	assert.Error(t, err)

	_, err = repo.Insert(ctx, domain.KindSetting, &domain.ConfigEntry{Key: "k", Version: 1})
	assert.Error(t, err)
}

func TestListVersions(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(entryColumns()).
		AddRow(uuid.New().String(), "k", nil, nil, nil, `"b"`, 2, now, nil, true, "ops", now).
		AddRow(uuid.New().String(), "k", nil, nil, nil, `"a"`, 1, now.Add(-time.Hour), nil, true, "ops", now)
	mock.ExpectQuery(`SELECT`).
		WithArgs("k", nil, nil, nil, 50).
		WillReturnRows(rows)

	versions, err := repo.ListVersions(context.Background(), domain.KindSetting, "k", domain.GlobalScope(), 0)

	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, 1, versions[1].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_SettingGrouping(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(entryColumns()).
		AddRow(uuid.New().String(), "a.key", nil, nil, nil, `1`, 2, now.Add(-time.Hour), nil, true, "ops", now)
	mock.ExpectQuery(`SELECT DISTINCT ON \(key, persona, agent_id, workflow_id\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	entries, err := repo.ListActive(context.Background(), domain.KindSetting, nil, now)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActive_TemplateGroupsByChannelLocale(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	// 同一 (key, scope) 下 channel/locale 不同的模板是独立序列，必须各出一行
	now := time.Now()
	rows := sqlmock.NewRows(append(entryColumns(), "channel", "locale")).
		AddRow(uuid.New().String(), "welcome", nil, nil, nil, `{"body":"hi"}`, 1,
			now.Add(-time.Hour), nil, true, "ops", now, "email", "en-US").
		AddRow(uuid.New().String(), "welcome", nil, nil, nil, `{"body":"yo"}`, 1,
			now.Add(-time.Hour), nil, true, "ops", now, "sms", "en-US")
	mock.ExpectQuery(`SELECT DISTINCT ON \(key, persona, agent_id, workflow_id, channel, locale\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	entries, err := repo.ListActive(context.Background(), domain.KindTemplate, nil, now)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "email", entries[0].Channel)
	assert.Equal(t, "sms", entries[1].Channel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActive_TemplateCountsChannelLocale(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(DISTINCT \(key, persona, agent_id, workflow_id, channel, locale\)\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountActive(context.Background(), domain.KindTemplate, nil, time.Now())

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistinctKeys(t *testing.T) {
	db, mock, repo := setupMockEntriesDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT key`).
		WithArgs(nil, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("a.key").AddRow("b.key"))

	keys, err := repo.DistinctKeys(context.Background(), domain.KindSetting, domain.GlobalScope())

	require.NoError(t, err)
	assert.Equal(t, []string{"a.key", "b.key"}, keys)
}

package storage

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promocast/internal/domain"
	logx "promocast/pkg/logx"
)

func newMockStore(t *testing.T) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newSQLStore(db, mysqlDialect, logx.Nop()), mock
}

func TestMySQLUpsertChannel(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO channels(id, name, platform, identifier, is_active, settings)`) + `.*ON DUPLICATE KEY UPDATE`).
		WithArgs("tg-1", "Ofertas", "telegram", "-100", int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.UpsertChannel(context.Background(), domain.Channel{ID: "tg-1", Name: "Ofertas", Platform: domain.PlatformTelegram, Identifier: "-100", IsActive: true})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLActiveChannels(t *testing.T) {
	st, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "name", "platform", "identifier", "is_active", "settings"}).
		AddRow("tg-1", "Ofertas", "TELEGRAM", "-100", 1, `{"only_coupons":true,"id":"ignored"}`).
		AddRow("wa-1", "", "whatsapp", "5511", 1, "")
	mock.ExpectQuery(`SELECT id, name, platform, identifier, is_active, settings FROM channels WHERE is_active = 1`).
		WillReturnRows(rows)

	chans, err := st.ActiveChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, chans, 2)
	assert.Equal(t, "tg-1", chans[0].ID)
	assert.Equal(t, domain.PlatformTelegram, chans[0].Platform)
	assert.True(t, chans[0].OnlyCoupons)
	assert.True(t, chans[1].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSentSince(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		setup func(sqlmock.Sqlmock)
		want  bool
		err   bool
	}{
		{
			name: "match",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT COUNT\(1\) FROM send_ledger`).
					WithArgs("tg-1", "promotion_new", "product", "p1", since.UnixMilli()).
					WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
			},
			want: true,
		},
		{
			name: "no match",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT COUNT\(1\) FROM send_ledger`).
					WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
			},
		},
		{
			name: "database error",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT COUNT\(1\) FROM send_ledger`).WillReturnError(sql.ErrConnDone)
			},
			err: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, mock := newMockStore(t)
			tt.setup(mock)

			ok, err := st.SentSince(context.Background(), "tg-1", domain.EventPromotionNew,
				domain.EntityRef{Type: domain.EntityProduct, ID: "p1"}, since)
			if tt.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMySQLMarkDeliveryUnknownID(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE deliveries SET status = \?, error_message = \?, sent_at = \? WHERE id = \?`).
		WithArgs("failed", "boom", nil, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.MarkDelivery(context.Background(), "missing", domain.DeliveryFailed, "boom", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCodePublishedElsewhere(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM send_ledger WHERE entity_type = \? AND coupon_code = \? AND entity_id <> \?`).
		WithArgs("coupon", "SAVE10", "c2").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))

	ok, err := st.CodePublishedElsewhere(context.Background(), "SAVE10", "c2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.CodePublishedElsewhere(context.Background(), "  ", "c2")
	require.NoError(t, err)
	assert.False(t, ok, "empty code never queries")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitStatements(t *testing.T) {
	b, err := migrationsFS.ReadFile(mysqlDialect.migration)
	require.NoError(t, err)
	stmts := splitStatements(string(b))
	assert.Len(t, stmts, 4)
	for _, s := range stmts {
		assert.Contains(t, s, "CREATE TABLE IF NOT EXISTS")
	}
}

func TestMySQLPruneLedgerKeepsCodeMarkers(t *testing.T) {
	st, mock := newMockStore(t)
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM send_ledger WHERE sent_at < ? AND (entity_type <> ? OR coupon_code IS NULL OR coupon_code = '')`)).
		WithArgs(before.UnixMilli(), "coupon").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := st.PruneLedger(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

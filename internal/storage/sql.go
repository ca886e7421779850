package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"promocast/internal/domain"
	logx "promocast/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name           string
	migration      string
	upsertChannel  string
	upsertTemplate string
}

var sqliteDialect = dialect{
	name:      "sqlite",
	migration: "migrations/sqlite.sql",
	upsertChannel: `INSERT INTO channels(id, name, platform, identifier, is_active, settings) VALUES(?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, platform=excluded.platform,
		identifier=excluded.identifier, is_active=excluded.is_active, settings=excluded.settings`,
	upsertTemplate: `INSERT INTO templates(kind, platform, body, is_active, updated_at) VALUES(?,?,?,?,?)
		ON CONFLICT(kind, platform) DO UPDATE SET body=excluded.body, is_active=excluded.is_active, updated_at=excluded.updated_at`,
}

var mysqlDialect = dialect{
	name:      "mysql",
	migration: "migrations/mysql.sql",
	upsertChannel: `INSERT INTO channels(id, name, platform, identifier, is_active, settings) VALUES(?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE name=VALUES(name), platform=VALUES(platform),
		identifier=VALUES(identifier), is_active=VALUES(is_active), settings=VALUES(settings)`,
	upsertTemplate: `INSERT INTO templates(kind, platform, body, is_active, updated_at) VALUES(?,?,?,?,?)
		ON DUPLICATE KEY UPDATE body=VALUES(body), is_active=VALUES(is_active), updated_at=VALUES(updated_at)`,
}

// sqlStore implements Store over database/sql for every SQL driver.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
	now func() time.Time
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *sqlStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqlStore{db: db, d: d, log: log, now: time.Now}
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(s.d.migration)
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(string(b)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.d.name, err)
		}
	}
	return nil
}

func splitStatements(src string) []string {
	var out []string
	for _, part := range strings.Split(src, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Channels.

const channelCols = `id, name, platform, identifier, is_active, settings`

func (s *sqlStore) ActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+channelCols+` FROM channels WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *sqlStore) Channel(ctx context.Context, id string) (domain.Channel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+channelCols+` FROM channels WHERE id = ?`, id)
	ch, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Channel{}, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return ch, err
}

func (s *sqlStore) UpsertChannel(ctx context.Context, ch domain.Channel) error {
	if strings.TrimSpace(ch.ID) == "" {
		return errors.New("channel id is required")
	}
	settings, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.d.upsertChannel,
		ch.ID, ch.Name, string(ch.Platform), ch.Identifier, boolInt(ch.IsActive), string(settings))
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChannel(sc scanner) (domain.Channel, error) {
	var (
		ch       domain.Channel
		platform string
		active   int
		settings sql.NullString
	)
	if err := sc.Scan(&ch.ID, &ch.Name, &platform, &ch.Identifier, &active, &settings); err != nil {
		return domain.Channel{}, err
	}
	id, name, ident := ch.ID, ch.Name, ch.Identifier
	if settings.Valid && strings.TrimSpace(settings.String) != "" {
		if err := json.Unmarshal([]byte(settings.String), &ch); err != nil {
			return domain.Channel{}, fmt.Errorf("channel %s settings: %w", id, err)
		}
	}
	// Columns win over whatever the settings blob carries.
	ch.ID, ch.Name, ch.Identifier = id, name, ident
	ch.Platform = domain.Platform(strings.ToLower(platform))
	ch.IsActive = active != 0
	return ch, nil
}

// Templates.

func (s *sqlStore) ActiveTemplate(ctx context.Context, kind string, platform domain.Platform) (Template, error) {
	t := Template{Kind: kind, Platform: platform}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT body, updated_at FROM templates WHERE kind = ? AND platform = ? AND is_active = 1`,
		kind, string(platform),
	).Scan(&t.Body, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, fmt.Errorf("template %s/%s: %w", kind, platform, ErrNotFound)
	}
	if err != nil {
		return Template{}, err
	}
	t.Active = true
	t.UpdatedAt = time.UnixMilli(updated)
	return t, nil
}

func (s *sqlStore) UpsertTemplate(ctx context.Context, t Template) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.d.upsertTemplate,
		t.Kind, string(t.Platform), t.Body, boolInt(t.Active), t.UpdatedAt.UnixMilli())
	return err
}

// Delivery log.

func (s *sqlStore) CreateDelivery(ctx context.Context, e domain.DeliveryLogEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.Status == "" {
		e.Status = domain.DeliveryPending
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deliveries(id, event_type, platform, channel_id, payload, status, error_message, sent_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, string(e.EventType), string(e.Platform), e.ChannelID, string(payload), string(e.Status),
		nullStr(e.ErrorMessage), nullMillis(e.SentAt), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

func (s *sqlStore) MarkDelivery(ctx context.Context, id string, status domain.DeliveryStatus, errMsg string, at time.Time) error {
	var sentAt any
	if status == domain.DeliverySent {
		sentAt = at.UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, error_message = ?, sent_at = ? WHERE id = ?`,
		string(status), nullStr(errMsg), sentAt, id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqlStore) DeliveryStats(ctx context.Context, since time.Time) (domain.DeliveryStats, error) {
	st := domain.NewDeliveryStats(since)
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, status, COUNT(1) FROM deliveries WHERE created_at >= ? GROUP BY platform, status`,
		since.UnixMilli(),
	)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var platform, status string
		var n int
		if err := rows.Scan(&platform, &status, &n); err != nil {
			return st, err
		}
		st.Add(domain.Platform(platform), domain.DeliveryStatus(status), n)
	}
	return st, rows.Err()
}

// Ledger.

func (s *sqlStore) RecordSend(ctx context.Context, e domain.SendLedgerEntry) error {
	if e.SentAt.IsZero() {
		e.SentAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_ledger(channel_id, event_type, entity_type, entity_id, coupon_code, sent_at) VALUES(?,?,?,?,?,?)`,
		e.ChannelID, string(e.EventType), string(e.EntityType), e.EntityID, nullStr(e.CouponCode), e.SentAt.UnixMilli(),
	)
	return err
}

func (s *sqlStore) SentSince(ctx context.Context, channelID string, eventType domain.EventType, entity domain.EntityRef, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM send_ledger
		 WHERE channel_id = ? AND event_type = ? AND entity_type = ? AND entity_id = ? AND sent_at >= ?`,
		channelID, string(eventType), string(entity.Type), entity.ID, since.UnixMilli(),
	).Scan(&n)
	return n > 0, err
}

func (s *sqlStore) CodePublishedElsewhere(ctx context.Context, code, entityID string) (bool, error) {
	if strings.TrimSpace(code) == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM send_ledger WHERE entity_type = ? AND coupon_code = ? AND entity_id <> ?`,
		string(domain.EntityCoupon), code, entityID,
	).Scan(&n)
	return n > 0, err
}

// Retention.

// PruneLedger keeps coupon rows that carry a code: they are the permanent
// marker read by CodePublishedElsewhere.
func (s *sqlStore) PruneLedger(ctx context.Context, before time.Time) (int64, error) {
	return s.execCount(ctx,
		`DELETE FROM send_ledger WHERE sent_at < ? AND (entity_type <> ? OR coupon_code IS NULL OR coupon_code = '')`,
		before.UnixMilli(), string(domain.EntityCoupon),
	)
}

func (s *sqlStore) PruneDeliveries(ctx context.Context, before time.Time) (int64, error) {
	return s.execCount(ctx, `DELETE FROM deliveries WHERE created_at < ?`, before.UnixMilli())
}

func (s *sqlStore) execCount(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

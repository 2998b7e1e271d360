package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadgate/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for
// local development and single-node setups; production runs postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                   TEXT PRIMARY KEY,
	type                 TEXT NOT NULL DEFAULT 'FORM',
	status               TEXT NOT NULL DEFAULT 'PENDING_OTP',
	first_name           TEXT NOT NULL,
	last_name            TEXT NOT NULL,
	phone                TEXT NOT NULL,
	email                TEXT NOT NULL DEFAULT '',
	zip                  TEXT NOT NULL,
	city                 TEXT NOT NULL DEFAULT '',
	state                TEXT NOT NULL DEFAULT '',
	homeowner            INTEGER NOT NULL DEFAULT 0,
	issue_type           TEXT NOT NULL DEFAULT '',
	urgency              TEXT NOT NULL DEFAULT '',
	duplicate_of_lead_id TEXT NOT NULL DEFAULT '',
	consent_timestamp    DATETIME NOT NULL,
	consent_version      TEXT NOT NULL DEFAULT '1.0',
	utm_source           TEXT NOT NULL DEFAULT '',
	utm_campaign         TEXT NOT NULL DEFAULT '',
	utm_content          TEXT NOT NULL DEFAULT '',
	utm_term             TEXT NOT NULL DEFAULT '',
	landing_page         TEXT NOT NULL DEFAULT '',
	ip_hash              TEXT NOT NULL DEFAULT '',
	user_agent           TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_phone_zip_created ON leads(phone, zip, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);

CREATE TABLE IF NOT EXISTS buyers (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	delivery_type  TEXT NOT NULL DEFAULT 'WEBHOOK',
	webhook_url    TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	price_per_lead REAL NOT NULL DEFAULT 0,
	coverage       TEXT NOT NULL DEFAULT '[]',
	is_active      INTEGER NOT NULL DEFAULT 1,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_buyers_active_created ON buyers(is_active, created_at ASC);

CREATE TABLE IF NOT EXISTS deliveries (
	id            TEXT PRIMARY KEY,
	lead_id       TEXT NOT NULL REFERENCES leads(id),
	buyer_id      TEXT NOT NULL REFERENCES buyers(id),
	status        TEXT NOT NULL DEFAULT 'PENDING',
	response_code INTEGER NOT NULL DEFAULT 0,
	response_body TEXT NOT NULL DEFAULT '',
	attempt       INTEGER NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deliveries_lead_id ON deliveries(lead_id);

CREATE TABLE IF NOT EXISTS calls (
	id            TEXT PRIMARY KEY,
	sid           TEXT NOT NULL UNIQUE,
	from_number   TEXT NOT NULL,
	to_number     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	duration      INTEGER NOT NULL DEFAULT 0,
	recording_url TEXT NOT NULL DEFAULT '',
	lead_id       TEXT NOT NULL DEFAULT '',
	utm_source    TEXT NOT NULL DEFAULT '',
	utm_campaign  TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calls_lead_id ON calls(lead_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	out := *lead
	out.ID = uuid.New().String()
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, string(out.Type), string(out.Status), out.FirstName, out.LastName, out.Phone,
		out.Email, out.Zip, out.City, out.State, out.Homeowner, string(out.IssueType),
		string(out.Urgency), out.DuplicateOfLeadID, out.ConsentTimestamp, out.ConsentVersion,
		out.UTMSource, out.UTMCampaign, out.UTMContent, out.UTMTerm, out.LandingPage,
		out.IPHash, out.UserAgent, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert lead")
	}
	return &out, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	lead, err := scanLead(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return lead, nil
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ? AND status NOT IN ('DUPLICATE', 'DELIVERED', 'FAILED')`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("lead not found or terminal: %s", id)
	}
	return nil
}

func (s *SQLiteStore) FindQualifiedLead(ctx context.Context, q QualifiedLeadQuery) (*model.Lead, error) {
	placeholders := make([]string, len(q.Statuses))
	args := []any{q.Phone, q.Zip, q.Since}
	for i, st := range q.Statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		WHERE phone = ? AND zip = ? AND created_at >= ? AND status IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at ASC LIMIT 1`,
		args...,
	)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find qualified lead")
	}
	return lead, nil
}

func (s *SQLiteStore) GetLeadByCallSID(ctx context.Context, sid string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT l.id, l.type, l.status, l.first_name, l.last_name, l.phone, l.email, l.zip, l.city, l.state,
		l.homeowner, l.issue_type, l.urgency, l.duplicate_of_lead_id, l.consent_timestamp, l.consent_version,
		l.utm_source, l.utm_campaign, l.utm_content, l.utm_term, l.landing_page, l.ip_hash, l.user_agent,
		l.created_at, l.updated_at
		FROM leads l JOIN calls c ON c.lead_id = l.id WHERE c.sid = ? LIMIT 1`,
		sid,
	)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead by call sid %s", sid)
	}
	return lead, nil
}

func (s *SQLiteStore) CreateBuyer(ctx context.Context, buyer *model.Buyer) (*model.Buyer, error) {
	out := *buyer
	out.ID = uuid.New().String()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if out.Coverage == nil {
		out.Coverage = []string{}
	}

	coverageJSON, err := json.Marshal(out.Coverage)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal coverage")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO buyers (id, name, delivery_type, webhook_url, email, price_per_lead, coverage, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Name, string(out.DeliveryType), out.WebhookURL, out.Email,
		out.PricePerLead, string(coverageJSON), out.IsActive, out.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert buyer")
	}
	return &out, nil
}

func (s *SQLiteStore) ListBuyers(ctx context.Context, filter BuyerFilter) ([]model.Buyer, error) {
	query := `SELECT id, name, delivery_type, webhook_url, email, price_per_lead, coverage, is_active, created_at FROM buyers`
	if filter.ActiveOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at ASC`
	var args []any
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list buyers")
	}
	defer rows.Close()

	var buyers []model.Buyer
	for rows.Next() {
		var b model.Buyer
		var deliveryType, coverageJSON string
		if err := rows.Scan(&b.ID, &b.Name, &deliveryType, &b.WebhookURL, &b.Email,
			&b.PricePerLead, &coverageJSON, &b.IsActive, &b.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan buyer")
		}
		b.DeliveryType = model.DeliveryType(deliveryType)
		if err := json.Unmarshal([]byte(coverageJSON), &b.Coverage); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal coverage")
		}
		buyers = append(buyers, b)
	}
	return buyers, eris.Wrap(rows.Err(), "sqlite: list buyers rows")
}

func (s *SQLiteStore) SetBuyerActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE buyers SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set buyer active %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("buyer not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) CreateDelivery(ctx context.Context, d *model.Delivery) (*model.Delivery, error) {
	out := *d
	out.ID = uuid.New().String()
	out.CreatedAt = time.Now().UTC()

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO deliveries (id, lead_id, buyer_id, status, response_code, response_body, attempt, created_at)
		VALUES (?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(attempt), 0) + 1 FROM deliveries WHERE lead_id = ?), ?)
		RETURNING attempt`,
		out.ID, out.LeadID, out.BuyerID, string(out.Status), out.ResponseCode,
		out.ResponseBody, out.LeadID, out.CreatedAt,
	).Scan(&out.Attempt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert delivery")
	}
	return &out, nil
}

func (s *SQLiteStore) ListDeliveries(ctx context.Context, leadID string) ([]model.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, buyer_id, status, response_code, response_body, attempt, created_at
		FROM deliveries WHERE lead_id = ? ORDER BY attempt ASC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list deliveries %s", leadID)
	}
	defer rows.Close()

	var deliveries []model.Delivery
	for rows.Next() {
		var d model.Delivery
		var status string
		if err := rows.Scan(&d.ID, &d.LeadID, &d.BuyerID, &status, &d.ResponseCode,
			&d.ResponseBody, &d.Attempt, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan delivery")
		}
		d.Status = model.DeliveryStatus(status)
		deliveries = append(deliveries, d)
	}
	return deliveries, eris.Wrap(rows.Err(), "sqlite: list deliveries rows")
}

func (s *SQLiteStore) CreateCall(ctx context.Context, call *model.Call) (*model.Call, error) {
	out := *call
	out.ID = uuid.New().String()
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (id, sid, from_number, to_number, status, duration, recording_url, lead_id, utm_source, utm_campaign, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.SID, out.FromNumber, out.ToNumber, out.Status, out.Duration,
		out.RecordingURL, out.LeadID, out.UTMSource, out.UTMCampaign, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert call")
	}
	return &out, nil
}

func (s *SQLiteStore) UpdateCallStatus(ctx context.Context, sid string, status string, duration int, recordingURL string) (*model.Call, error) {
	var c model.Call
	err := s.db.QueryRowContext(ctx,
		`UPDATE calls SET status = ?, duration = ?, recording_url = ?, updated_at = ? WHERE sid = ?
		RETURNING id, sid, from_number, to_number, status, duration, recording_url, lead_id, utm_source, utm_campaign, created_at, updated_at`,
		status, duration, recordingURL, time.Now().UTC(), sid,
	).Scan(&c.ID, &c.SID, &c.FromNumber, &c.ToNumber, &c.Status, &c.Duration,
		&c.RecordingURL, &c.LeadID, &c.UTMSource, &c.UTMCampaign, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update call %s", sid)
	}
	return &c, nil
}

func (s *SQLiteStore) LinkCallLead(ctx context.Context, callID, leadID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE calls SET lead_id = ?, updated_at = ? WHERE id = ?`,
		leadID, time.Now().UTC(), callID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: link call %s", callID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("call not found: %s", callID)
	}
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgate/internal/db"
	"github.com/sells-group/leadgate/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const leadColumns = `id, type, status, first_name, last_name, phone, email, zip, city, state,
	homeowner, issue_type, urgency, duplicate_of_lead_id, consent_timestamp, consent_version,
	utm_source, utm_campaign, utm_content, utm_term, landing_page, ip_hash, user_agent,
	created_at, updated_at`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot intake path.
var preparedStatements = map[string]string{
	"get_lead":           `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`,
	"update_lead_status": `UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND status NOT IN ('DUPLICATE', 'DELIVERED', 'FAILED')`,
	"find_qualified_lead": `SELECT ` + leadColumns + ` FROM leads
		WHERE phone = $1 AND zip = $2 AND created_at >= $3 AND status = ANY($4)
		ORDER BY created_at ASC LIMIT 1`,
	"list_active_buyers": `SELECT id, name, delivery_type, webhook_url, email, price_per_lead, coverage, is_active, created_at
		FROM buyers WHERE is_active ORDER BY created_at ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	type                 TEXT NOT NULL DEFAULT 'FORM',
	status               TEXT NOT NULL DEFAULT 'PENDING_OTP',
	first_name           TEXT NOT NULL,
	last_name            TEXT NOT NULL,
	phone                TEXT NOT NULL,
	email                TEXT NOT NULL DEFAULT '',
	zip                  TEXT NOT NULL,
	city                 TEXT NOT NULL DEFAULT '',
	state                TEXT NOT NULL DEFAULT '',
	homeowner            BOOLEAN NOT NULL DEFAULT false,
	issue_type           TEXT NOT NULL DEFAULT '',
	urgency              TEXT NOT NULL DEFAULT '',
	duplicate_of_lead_id TEXT NOT NULL DEFAULT '',
	consent_timestamp    TIMESTAMPTZ NOT NULL,
	consent_version      TEXT NOT NULL DEFAULT '1.0',
	utm_source           TEXT NOT NULL DEFAULT '',
	utm_campaign         TEXT NOT NULL DEFAULT '',
	utm_content          TEXT NOT NULL DEFAULT '',
	utm_term             TEXT NOT NULL DEFAULT '',
	landing_page         TEXT NOT NULL DEFAULT '',
	ip_hash              TEXT NOT NULL DEFAULT '',
	user_agent           TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_phone_zip_created ON leads(phone, zip, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);

CREATE TABLE IF NOT EXISTS buyers (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name           TEXT NOT NULL,
	delivery_type  TEXT NOT NULL DEFAULT 'WEBHOOK',
	webhook_url    TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	price_per_lead NUMERIC NOT NULL DEFAULT 0,
	coverage       JSONB NOT NULL DEFAULT '[]',
	is_active      BOOLEAN NOT NULL DEFAULT true,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_buyers_active_created ON buyers(is_active, created_at ASC);

CREATE TABLE IF NOT EXISTS deliveries (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id       TEXT NOT NULL REFERENCES leads(id),
	buyer_id      TEXT NOT NULL REFERENCES buyers(id),
	status        TEXT NOT NULL DEFAULT 'PENDING',
	response_code INTEGER NOT NULL DEFAULT 0,
	response_body TEXT NOT NULL DEFAULT '',
	attempt       INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deliveries_lead_id ON deliveries(lead_id);

CREATE TABLE IF NOT EXISTS calls (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	sid           TEXT NOT NULL UNIQUE,
	from_number   TEXT NOT NULL,
	to_number     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT '',
	duration      INTEGER NOT NULL DEFAULT 0,
	recording_url TEXT NOT NULL DEFAULT '',
	lead_id       TEXT NOT NULL DEFAULT '',
	utm_source    TEXT NOT NULL DEFAULT '',
	utm_campaign  TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_calls_lead_id ON calls(lead_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	out := *lead
	out.ID = uuid.New().String()
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		out.ID, string(out.Type), string(out.Status), out.FirstName, out.LastName, out.Phone,
		out.Email, out.Zip, out.City, out.State, out.Homeowner, string(out.IssueType),
		string(out.Urgency), out.DuplicateOfLeadID, out.ConsentTimestamp, out.ConsentVersion,
		out.UTMSource, out.UTMCampaign, out.UTMContent, out.UTMTerm, out.LandingPage,
		out.IPHash, out.UserAgent, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert lead")
	}
	return &out, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return lead, nil
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3 AND status NOT IN ('DUPLICATE', 'DELIVERED', 'FAILED')`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lead not found or terminal: %s", id)
	}
	return nil
}

func (s *PostgresStore) FindQualifiedLead(ctx context.Context, q QualifiedLeadQuery) (*model.Lead, error) {
	statuses := make([]string, len(q.Statuses))
	for i, st := range q.Statuses {
		statuses[i] = string(st)
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads
		WHERE phone = $1 AND zip = $2 AND created_at >= $3 AND status = ANY($4)
		ORDER BY created_at ASC LIMIT 1`,
		q.Phone, q.Zip, q.Since, statuses,
	)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find qualified lead")
	}
	return lead, nil
}

func (s *PostgresStore) GetLeadByCallSID(ctx context.Context, sid string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT l.id, l.type, l.status, l.first_name, l.last_name, l.phone, l.email, l.zip, l.city, l.state,
		l.homeowner, l.issue_type, l.urgency, l.duplicate_of_lead_id, l.consent_timestamp, l.consent_version,
		l.utm_source, l.utm_campaign, l.utm_content, l.utm_term, l.landing_page, l.ip_hash, l.user_agent,
		l.created_at, l.updated_at
		FROM leads l JOIN calls c ON c.lead_id = l.id WHERE c.sid = $1 LIMIT 1`,
		sid,
	)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead by call sid %s", sid)
	}
	return lead, nil
}

func (s *PostgresStore) CreateBuyer(ctx context.Context, buyer *model.Buyer) (*model.Buyer, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal coverage")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO buyers (id, name, delivery_type, webhook_url, email, price_per_lead, coverage, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		out.ID, out.Name, string(out.DeliveryType), out.WebhookURL, out.Email,
		out.PricePerLead, coverageJSON, out.IsActive, out.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert buyer")
	}
	return &out, nil
}

func (s *PostgresStore) ListBuyers(ctx context.Context, filter BuyerFilter) ([]model.Buyer, error) {
	query := `SELECT id, name, delivery_type, webhook_url, email, price_per_lead, coverage, is_active, created_at FROM buyers`
	if filter.ActiveOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at ASC`
	args := []any{}
	if filter.Limit > 0 {
		query += ` LIMIT $1`
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list buyers")
	}
	defer rows.Close()

	var buyers []model.Buyer
	for rows.Next() {
		var b model.Buyer
		var deliveryType string
		var coverageJSON []byte
		if err := rows.Scan(&b.ID, &b.Name, &deliveryType, &b.WebhookURL, &b.Email,
			&b.PricePerLead, &coverageJSON, &b.IsActive, &b.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan buyer")
		}
		b.DeliveryType = model.DeliveryType(deliveryType)
		if err := json.Unmarshal(coverageJSON, &b.Coverage); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal coverage")
		}
		buyers = append(buyers, b)
	}
	return buyers, eris.Wrap(rows.Err(), "postgres: list buyers rows")
}

func (s *PostgresStore) SetBuyerActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE buyers SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: set buyer active %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("buyer not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CreateDelivery(ctx context.Context, d *model.Delivery) (*model.Delivery, error) {
	out := *d
	out.ID = uuid.New().String()
	out.CreatedAt = time.Now().UTC()

	// The attempt number is assigned inside the insert so concurrent
	// attempts for one lead cannot collide.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO deliveries (id, lead_id, buyer_id, status, response_code, response_body, attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6,
			(SELECT COALESCE(MAX(attempt), 0) + 1 FROM deliveries WHERE lead_id = $2), $7)
		RETURNING attempt`,
		out.ID, out.LeadID, out.BuyerID, string(out.Status), out.ResponseCode,
		out.ResponseBody, out.CreatedAt,
	).Scan(&out.Attempt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert delivery")
	}
	return &out, nil
}

func (s *PostgresStore) ListDeliveries(ctx context.Context, leadID string) ([]model.Delivery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, buyer_id, status, response_code, response_body, attempt, created_at
		FROM deliveries WHERE lead_id = $1 ORDER BY attempt ASC`,
		leadID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list deliveries %s", leadID)
	}
	defer rows.Close()

	var deliveries []model.Delivery
	for rows.Next() {
		var d model.Delivery
		var status string
		if err := rows.Scan(&d.ID, &d.LeadID, &d.BuyerID, &status, &d.ResponseCode,
			&d.ResponseBody, &d.Attempt, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan delivery")
		}
		d.Status = model.DeliveryStatus(status)
		deliveries = append(deliveries, d)
	}
	return deliveries, eris.Wrap(rows.Err(), "postgres: list deliveries rows")
}

func (s *PostgresStore) CreateCall(ctx context.Context, call *model.Call) (*model.Call, error) {
	out := *call
	out.ID = uuid.New().String()
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (id, sid, from_number, to_number, status, duration, recording_url, lead_id, utm_source, utm_campaign, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		out.ID, out.SID, out.FromNumber, out.ToNumber, out.Status, out.Duration,
		out.RecordingURL, out.LeadID, out.UTMSource, out.UTMCampaign, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert call")
	}
	return &out, nil
}

func (s *PostgresStore) UpdateCallStatus(ctx context.Context, sid string, status string, duration int, recordingURL string) (*model.Call, error) {
	var c model.Call
	err := s.pool.QueryRow(ctx,
		`UPDATE calls SET status = $1, duration = $2, recording_url = $3, updated_at = $4 WHERE sid = $5
		RETURNING id, sid, from_number, to_number, status, duration, recording_url, lead_id, utm_source, utm_campaign, created_at, updated_at`,
		status, duration, recordingURL, time.Now().UTC(), sid,
	).Scan(&c.ID, &c.SID, &c.FromNumber, &c.ToNumber, &c.Status, &c.Duration,
		&c.RecordingURL, &c.LeadID, &c.UTMSource, &c.UTMCampaign, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update call %s", sid)
	}
	return &c, nil
}

func (s *PostgresStore) LinkCallLead(ctx context.Context, callID, leadID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE calls SET lead_id = $1, updated_at = $2 WHERE id = $3`,
		leadID, time.Now().UTC(), callID)
	if err != nil {
		return eris.Wrapf(err, "postgres: link call %s", callID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("call not found: %s", callID)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanLead reads one lead row in leadColumns order.
func scanLead(row rowScanner) (*model.Lead, error) {
	var l model.Lead
	var typ, status, issueType, urgency string
	err := row.Scan(&l.ID, &typ, &status, &l.FirstName, &l.LastName, &l.Phone, &l.Email,
		&l.Zip, &l.City, &l.State, &l.Homeowner, &issueType, &urgency, &l.DuplicateOfLeadID,
		&l.ConsentTimestamp, &l.ConsentVersion, &l.UTMSource, &l.UTMCampaign, &l.UTMContent,
		&l.UTMTerm, &l.LandingPage, &l.IPHash, &l.UserAgent, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.Type = model.LeadType(typ)
	l.Status = model.LeadStatus(status)
	l.IssueType = model.IssueType(issueType)
	l.Urgency = model.Urgency(urgency)
	return &l, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore implements persistence over database/sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func encodeStrings(v []string) []byte {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return b
}

func decodeStrings(b []byte) []string {
	var v []string
	if len(b) > 0 {
		json.Unmarshal(b, &v)
	}
	if v == nil {
		v = []string{}
	}
	return v
}

// ----- tickets -----

const ticketColumns = `id, title, description, customer_name, customer_email,
	status, priority, channel, tags, assigned_to, user_id, replies,
	created_at, updated_at`

// ticketListQuery builds the ticket list statement for a resolved status
// predicate. An empty predicate selects every ticket and binds nothing.
func ticketListQuery(statusPredicate string) (string, []any) {
	q := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if statusPredicate != "" {
		q += ` WHERE status = $1`
		args = append(args, statusPredicate)
	}
	q += ` ORDER BY created_at DESC`
	return q, args
}

func (s *PostgresStore) ListTickets(ctx context.Context, statusPredicate string) ([]Ticket, error) {
	q, args := ticketListQuery(statusPredicate)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := []Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(r rowScanner) (Ticket, error) {
	var t Ticket
	var tags []byte
	err := r.Scan(&t.ID, &t.Title, &t.Description, &t.CustomerName, &t.CustomerEmail,
		&t.Status, &t.Priority, &t.Channel, &tags, &t.AssignedTo, &t.UserID, &t.Replies,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Ticket{}, err
	}
	t.Tags = decodeStrings(tags)
	return t, nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, id string) (Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	t, err := scanTicket(row)
	if err != nil {
		return Ticket{}, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) InsertTicket(ctx context.Context, t Ticket) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tickets (id, title, description, customer_name, customer_email,
			status, priority, channel, tags, assigned_to, user_id, replies,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.Title, t.Description, t.CustomerName, t.CustomerEmail,
		t.Status, t.Priority, t.Channel, encodeStrings(t.Tags), t.AssignedTo,
		t.UserID, t.Replies, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTicket(ctx context.Context, t Ticket) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET title = $2, description = $3, customer_name = $4,
			customer_email = $5, status = $6, priority = $7, channel = $8,
			tags = $9, assigned_to = $10, replies = $11, updated_at = $12
		WHERE id = $1`,
		t.ID, t.Title, t.Description, t.CustomerName, t.CustomerEmail,
		t.Status, t.Priority, t.Channel, encodeStrings(t.Tags), t.AssignedTo,
		t.Replies, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", t.ID, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteTicket(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete ticket %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete ticket %s: %w", id, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) TicketStatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*) FROM tickets GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("ticket status counts: %w", err)
	}
	defer rows.Close()

	counts := []StatusCount{}
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *PostgresStore) CountTicketsCreatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM tickets WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tickets since: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListRecentTickets(ctx context.Context, limit int) ([]Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent tickets: %w", err)
	}
	defer rows.Close()

	tickets := []Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (s *PostgresStore) TicketMonthlyCounts(ctx context.Context, months int) ([]MonthCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(date_trunc('month', created_at), 'YYYY-MM') AS month, count(*)
		FROM tickets
		WHERE created_at >= date_trunc('month', now()) - ($1 || ' months')::interval
		GROUP BY month ORDER BY month`, months-1)
	if err != nil {
		return nil, fmt.Errorf("ticket monthly counts: %w", err)
	}
	defer rows.Close()

	counts := []MonthCount{}
	for rows.Next() {
		var c MonthCount
		if err := rows.Scan(&c.Month, &c.Count); err != nil {
			return nil, fmt.Errorf("scan month count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// AvgResolutionHours averages created-to-last-update time over closed
// tickets. Returns 0 when no ticket is closed.
func (s *PostgresStore) AvgResolutionHours(ctx context.Context) (float64, error) {
	var hours sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT avg(EXTRACT(EPOCH FROM updated_at - created_at) / 3600)
		FROM tickets WHERE status IN ('closed', 'terminated')`).Scan(&hours)
	if err != nil {
		return 0, fmt.Errorf("avg resolution hours: %w", err)
	}
	return hours.Float64, nil
}

// ----- projects -----

const projectColumns = `id, name, description, status, deadline, team_members,
	user_id, created_at, updated_at`

func projectListQuery(statusPredicate string) (string, []any) {
	q := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if statusPredicate != "" {
		q += ` WHERE status = $1`
		args = append(args, statusPredicate)
	}
	q += ` ORDER BY created_at DESC`
	return q, args
}

func scanProject(r rowScanner) (Project, error) {
	var p Project
	var team []byte
	var deadline sql.NullTime
	err := r.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &deadline, &team,
		&p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	if deadline.Valid {
		t := deadline.Time
		p.Deadline = &t
	}
	p.TeamMembers = decodeStrings(team)
	return p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, statusPredicate string) ([]Project, error) {
	q, args := projectListQuery(statusPredicate)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if err != nil {
		return Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, p Project) error {
	var deadline sql.NullTime
	if p.Deadline != nil {
		deadline = sql.NullTime{Time: *p.Deadline, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, deadline, team_members,
			user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Name, p.Description, p.Status, deadline, encodeStrings(p.TeamMembers),
		p.UserID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p Project) error {
	var deadline sql.NullTime
	if p.Deadline != nil {
		deadline = sql.NullTime{Time: *p.Deadline, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = $2, description = $3, status = $4, deadline = $5,
			team_members = $6, updated_at = $7
		WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Status, deadline,
		encodeStrings(p.TeamMembers), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ProjectStatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*) FROM projects GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("project status counts: %w", err)
	}
	defer rows.Close()

	counts := []StatusCount{}
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ----- notifications -----

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, message, href, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.UserID, n.Message, n.Href, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, message, href, is_read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	list := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Href, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read %s: %w", id, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnreadNotificationCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread notification count: %w", err)
	}
	return n, nil
}

// ----- users -----

const userColumns = `id, display_name, email, password_hash, role,
	is_email_verified, verification_token, verification_expires_at,
	preferences, created_at, updated_at`

func scanUser(r rowScanner) (User, error) {
	var u User
	var verifyTok sql.NullString
	var verifyExp sql.NullTime
	err := r.Scan(&u.ID, &u.DisplayName, &u.Email, &u.PasswordHash, &u.Role,
		&u.IsEmailVerified, &verifyTok, &verifyExp, &u.Preferences,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	u.VerificationToken = verifyTok.String
	if verifyExp.Valid {
		t := verifyExp.Time
		u.VerificationExpiresAt = &t
	}
	return u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	u, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) InsertUser(ctx context.Context, u User) error {
	var verifyTok sql.NullString
	if u.VerificationToken != "" {
		verifyTok = sql.NullString{String: u.VerificationToken, Valid: true}
	}
	var verifyExp sql.NullTime
	if u.VerificationExpiresAt != nil {
		verifyExp = sql.NullTime{Time: *u.VerificationExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role,
			is_email_verified, verification_token, verification_expires_at,
			preferences, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.DisplayName, u.Email, u.PasswordHash, u.Role,
		u.IsEmailVerified, verifyTok, verifyExp, u.Preferences,
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u User) error {
	var verifyTok sql.NullString
	if u.VerificationToken != "" {
		verifyTok = sql.NullString{String: u.VerificationToken, Valid: true}
	}
	var verifyExp sql.NullTime
	if u.VerificationExpiresAt != nil {
		verifyExp = sql.NullTime{Time: *u.VerificationExpiresAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET display_name = $2, email = $3, password_hash = $4,
			role = $5, is_email_verified = $6, verification_token = $7,
			verification_expires_at = $8, preferences = $9, updated_at = $10
		WHERE id = $1`,
		u.ID, u.DisplayName, u.Email, u.PasswordHash, u.Role,
		u.IsEmailVerified, verifyTok, verifyExp, u.Preferences, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ----- password resets -----

func (s *PostgresStore) InsertPasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO NOTHING`,
		tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM password_resets
		WHERE token_hash = $1 AND expires_at > now()
		RETURNING user_id`, tokenHash).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("consume password reset: %w", err)
	}
	return userID, nil
}

// ----- refresh sessions (database fallback when Redis is absent) -----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, jti, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_hash) DO UPDATE
		SET user_id = $2, jti = $3, expires_at = $4`,
		tokenHash, userID, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRefreshSession(ctx context.Context, tokenHash string) (userID, jti string, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, jti FROM refresh_sessions
		WHERE token_hash = $1 AND expires_at > now()`,
		tokenHash).Scan(&userID, &jti)
	if err != nil {
		return "", "", fmt.Errorf("get refresh session: %w", err)
	}
	return userID, jti, nil
}

func (s *PostgresStore) DeleteRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM revoked_access_tokens
			WHERE jti = $1 AND expires_at > now())`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

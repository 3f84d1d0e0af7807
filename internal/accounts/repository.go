package accounts

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Repository provides database operations for accounts
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new accounts repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, username, password_hash, first_name, last_name,
	gender, phone, role, language, specialty, assigned_doctor_id,
	email_verified, is_active, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Gender, &u.Phone, &u.Role, &u.Language, &u.Specialty, &u.AssignedDoctorID,
		&u.EmailVerified, &u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser inserts a new user
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	query := `
		INSERT INTO accounts.users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.pool.Exec(ctx, query,
		u.ID, u.Email, u.Username, u.PasswordHash, u.FirstName, u.LastName,
		u.Gender, u.Phone, u.Role, u.Language, u.Specialty, u.AssignedDoctorID,
		u.EmailVerified, u.IsActive, u.LastLoginAt, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("an account with this email already exists")
		}
		return errors.Wrap(err, "failed to create user")
	}
	return nil
}

// FindUserByID finds a user by ID
func (r *Repository) FindUserByID(ctx context.Context, id types.ID) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM accounts.users WHERE id = $1`

	u, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user")
	}
	return u, nil
}

// FindUserByEmail finds a user by email (case-insensitive)
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM accounts.users WHERE lower(email) = lower($1)`

	u, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", email)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find user")
	}
	return u, nil
}

// UpdateUser updates a user's mutable fields
func (r *Repository) UpdateUser(ctx context.Context, u *User) error {
	query := `
		UPDATE accounts.users SET
			first_name = $2, last_name = $3, gender = $4, phone = $5,
			role = $6, language = $7, specialty = $8, assigned_doctor_id = $9,
			password_hash = $10, email_verified = $11, is_active = $12,
			last_login_at = $13, updated_at = $14
		WHERE id = $1`

	u.UpdatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, query,
		u.ID, u.FirstName, u.LastName, u.Gender, u.Phone,
		u.Role, u.Language, u.Specialty, u.AssignedDoctorID,
		u.PasswordHash, u.EmailVerified, u.IsActive,
		u.LastLoginAt, u.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update user")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("user", u.ID.String())
	}
	return nil
}

// ListUsers lists users for the admin view with search and role filtering
func (r *Repository) ListUsers(ctx context.Context, filter ListUsersFilter, pageSize int) ([]*User, types.Page, error) {
	where := " WHERE 1=1"
	args := []any{}
	argPos := 1

	if filter.Search != "" {
		where += ` AND (email ILIKE $` + strconv.Itoa(argPos) +
			` OR first_name ILIKE $` + strconv.Itoa(argPos) +
			` OR last_name ILIKE $` + strconv.Itoa(argPos) + `)`
		args = append(args, "%"+filter.Search+"%")
		argPos++
	}
	if filter.Role != "" {
		where += ` AND role = $` + strconv.Itoa(argPos)
		args = append(args, filter.Role)
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM accounts.users`+where, args...).Scan(&total); err != nil {
		return nil, types.Page{}, errors.Wrap(err, "failed to count users")
	}

	page := types.NewPage(filter.Page, pageSize, total)

	query := `SELECT ` + userColumns + ` FROM accounts.users` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(argPos) + ` OFFSET $` + strconv.Itoa(argPos+1)
	args = append(args, page.Size, page.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, types.Page{}, errors.Wrap(err, "failed to list users")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, types.Page{}, errors.Wrap(err, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, page, rows.Err()
}

// ListClinicians returns all active clinicians, for assignment pickers
func (r *Repository) ListClinicians(ctx context.Context) ([]*User, error) {
	query := `SELECT ` + userColumns + ` FROM accounts.users
		WHERE role = 'clinician' AND is_active ORDER BY last_name, first_name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list clinicians")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan clinician")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateVerification stores an email verification token
func (r *Repository) CreateVerification(ctx context.Context, v *EmailVerification) error {
	query := `
		INSERT INTO accounts.email_verifications (id, user_id, token, expires_at, verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query, v.ID, v.UserID, v.Token, v.ExpiresAt, v.VerifiedAt, v.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create email verification")
	}
	return nil
}

// FindVerificationByToken looks up a verification token
func (r *Repository) FindVerificationByToken(ctx context.Context, token string) (*EmailVerification, error) {
	query := `
		SELECT id, user_id, token, expires_at, verified_at, created_at
		FROM accounts.email_verifications WHERE token = $1`

	v := &EmailVerification{}
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&v.ID, &v.UserID, &v.Token, &v.ExpiresAt, &v.VerifiedAt, &v.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("verification token", token)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find verification token")
	}
	return v, nil
}

// MarkVerified marks the token used and the user's email verified, atomically
func (r *Repository) MarkVerified(ctx context.Context, v *EmailVerification) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE accounts.email_verifications SET verified_at = $2 WHERE id = $1`,
		v.ID, now); err != nil {
		return errors.Wrap(err, "failed to mark verification used")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE accounts.users SET email_verified = true, updated_at = $2 WHERE id = $1`,
		v.UserID, now); err != nil {
		return errors.Wrap(err, "failed to mark user verified")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	v.VerifiedAt = &now
	return nil
}

// CreatePasswordReset stores a password reset token
func (r *Repository) CreatePasswordReset(ctx context.Context, p *PasswordReset) error {
	query := `
		INSERT INTO accounts.password_resets (id, user_id, token, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query, p.ID, p.UserID, p.Token, p.ExpiresAt, p.Used, p.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create password reset")
	}
	return nil
}

// FindResetByToken looks up a password reset token
func (r *Repository) FindResetByToken(ctx context.Context, token string) (*PasswordReset, error) {
	query := `
		SELECT id, user_id, token, expires_at, used, created_at
		FROM accounts.password_resets WHERE token = $1`

	p := &PasswordReset{}
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&p.ID, &p.UserID, &p.Token, &p.ExpiresAt, &p.Used, &p.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("reset token", token)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find reset token")
	}
	return p, nil
}

// CompletePasswordReset sets the new hash and burns all outstanding reset
// tokens for the user, atomically
func (r *Repository) CompletePasswordReset(ctx context.Context, p *PasswordReset, newHash string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE accounts.users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		p.UserID, newHash); err != nil {
		return errors.Wrap(err, "failed to update password")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE accounts.password_resets SET used = true WHERE user_id = $1 AND NOT used`,
		p.UserID); err != nil {
		return errors.Wrap(err, "failed to invalidate reset tokens")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// RecordLoginAttempt stores a login attempt
func (r *Repository) RecordLoginAttempt(ctx context.Context, a *LoginAttempt) error {
	query := `
		INSERT INTO accounts.login_attempts (id, email, ip, user_agent, successful, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query, a.ID, a.Email, a.IP, a.UserAgent, a.Successful, a.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to record login attempt")
	}
	return nil
}

// CountRecentFailures counts failed attempts for an email+IP pair inside the
// sliding lockout window
func (r *Repository) CountRecentFailures(ctx context.Context, email, ip string, window time.Duration) (int, error) {
	query := `
		SELECT count(*) FROM accounts.login_attempts
		WHERE lower(email) = lower($1) AND ip = $2 AND NOT successful AND created_at > $3`

	var n int
	err := r.pool.QueryRow(ctx, query, email, ip, time.Now().Add(-window)).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count login failures")
	}
	return n, nil
}

// CreateAssignmentRequest stores a doctor assignment request
func (r *Repository) CreateAssignmentRequest(ctx context.Context, req *DoctorAssignmentRequest) error {
	query := `
		INSERT INTO accounts.doctor_assignment_requests
			(id, patient_id, doctor_id, status, notes, reviewed_by, reviewed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		req.ID, req.PatientID, req.DoctorID, req.Status, req.Notes,
		req.ReviewedBy, req.ReviewedAt, req.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create assignment request")
	}
	return nil
}

// FindAssignmentRequest finds an assignment request by ID
func (r *Repository) FindAssignmentRequest(ctx context.Context, id types.ID) (*DoctorAssignmentRequest, error) {
	query := `
		SELECT id, patient_id, doctor_id, status, notes, reviewed_by, reviewed_at, created_at
		FROM accounts.doctor_assignment_requests WHERE id = $1`

	req := &DoctorAssignmentRequest{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.PatientID, &req.DoctorID, &req.Status, &req.Notes,
		&req.ReviewedBy, &req.ReviewedAt, &req.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("assignment request", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find assignment request")
	}
	return req, nil
}

// ListAssignmentRequests lists assignment requests, newest first
func (r *Repository) ListAssignmentRequests(ctx context.Context, status string) ([]*DoctorAssignmentRequest, error) {
	query := `
		SELECT id, patient_id, doctor_id, status, notes, reviewed_by, reviewed_at, created_at
		FROM accounts.doctor_assignment_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list assignment requests")
	}
	defer rows.Close()

	var reqs []*DoctorAssignmentRequest
	for rows.Next() {
		req := &DoctorAssignmentRequest{}
		if err := rows.Scan(
			&req.ID, &req.PatientID, &req.DoctorID, &req.Status, &req.Notes,
			&req.ReviewedBy, &req.ReviewedAt, &req.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan assignment request")
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// ReviewAssignmentRequest records the admin decision and, when approved,
// assigns the clinician to the patient in the same transaction
func (r *Repository) ReviewAssignmentRequest(ctx context.Context, req *DoctorAssignmentRequest) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE accounts.doctor_assignment_requests
		 SET status = $2, notes = $3, reviewed_by = $4, reviewed_at = $5 WHERE id = $1`,
		req.ID, req.Status, req.Notes, req.ReviewedBy, req.ReviewedAt); err != nil {
		return errors.Wrap(err, "failed to update assignment request")
	}

	if req.Status == AssignmentApproved {
		if _, err := tx.Exec(ctx,
			`UPDATE accounts.users SET assigned_doctor_id = $2, updated_at = now() WHERE id = $1`,
			req.PatientID, req.DoctorID); err != nil {
			return errors.Wrap(err, "failed to assign doctor")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

// AssignDoctor sets a patient's clinician directly (admin action)
func (r *Repository) AssignDoctor(ctx context.Context, patientID, doctorID types.ID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts.users SET assigned_doctor_id = $2, updated_at = now()
		 WHERE id = $1 AND role = 'patient'`,
		patientID, doctorID)
	if err != nil {
		return errors.Wrap(err, "failed to assign doctor")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("patient", patientID.String())
	}
	return nil
}


package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"certifychain/internal/domain"
)

//go:embed schema.sql
var schemaDDL string

// Postgres implements every store interface over one *sql.DB.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies the embedded DDL. Statements are idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- institutions ---

func (p *Postgres) Save(ctx context.Context, inst domain.Institution) error {
	query := `
		INSERT INTO institutions (id, address, name, email, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := p.db.ExecContext(ctx, query, inst.ID, inst.Address.Hex(), inst.Name, inst.Email, inst.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert institution: %w", err)
	}
	return nil
}

func (p *Postgres) scanInstitution(row *sql.Row) (domain.Institution, error) {
	var inst domain.Institution
	var addr string
	err := row.Scan(&inst.ID, &addr, &inst.Name, &inst.Email, &inst.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Institution{}, ErrNotFound
	}
	if err != nil {
		return domain.Institution{}, fmt.Errorf("scan institution: %w", err)
	}
	inst.Address = common.HexToAddress(addr)
	return inst, nil
}

func (p *Postgres) FindByAddress(ctx context.Context, addr common.Address) (domain.Institution, error) {
	query := `SELECT id, address, name, email, created_at FROM institutions WHERE address = $1`
	return p.scanInstitution(p.db.QueryRowContext(ctx, query, addr.Hex()))
}

func (p *Postgres) FindByID(ctx context.Context, id uuid.UUID) (domain.Institution, error) {
	query := `SELECT id, address, name, email, created_at FROM institutions WHERE id = $1`
	return p.scanInstitution(p.db.QueryRowContext(ctx, query, id))
}

func (p *Postgres) UpdateContact(ctx context.Context, id uuid.UUID, name, email string) error {
	query := `UPDATE institutions SET name = $2, email = $3 WHERE id = $1`
	res, err := p.db.ExecContext(ctx, query, id, name, email)
	if err != nil {
		return fmt.Errorf("update institution: %w", err)
	}
	return requireRow(res)
}

func (p *Postgres) List(ctx context.Context) ([]domain.Institution, error) {
	query := `SELECT id, address, name, email, created_at FROM institutions ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list institutions: %w", err)
	}
	defer rows.Close()

	var out []domain.Institution
	for rows.Next() {
		var inst domain.Institution
		var addr string
		if err := rows.Scan(&inst.ID, &addr, &inst.Name, &inst.Email, &inst.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan institution: %w", err)
		}
		inst.Address = common.HexToAddress(addr)
		out = append(out, inst)
	}
	return out, rows.Err()
}

// --- students ---

func (p *Postgres) SaveStudent(ctx context.Context, student domain.Student) error {
	query := `
		INSERT INTO students (id, name, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
	`
	if _, err := p.db.ExecContext(ctx, query, student.ID, student.Name, student.Email, student.CreatedAt); err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}

func (p *Postgres) FindStudentByEmail(ctx context.Context, email string) (domain.Student, error) {
	query := `SELECT id, name, email, created_at FROM students WHERE email = $1`
	var student domain.Student
	err := p.db.QueryRowContext(ctx, query, email).Scan(&student.ID, &student.Name, &student.Email, &student.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Student{}, ErrNotFound
	}
	if err != nil {
		return domain.Student{}, fmt.Errorf("find student: %w", err)
	}
	return student, nil
}

func (p *Postgres) FindStudentByID(ctx context.Context, id uuid.UUID) (domain.Student, error) {
	query := `SELECT id, name, email, created_at FROM students WHERE id = $1`
	var student domain.Student
	err := p.db.QueryRowContext(ctx, query, id).Scan(&student.ID, &student.Name, &student.Email, &student.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Student{}, ErrNotFound
	}
	if err != nil {
		return domain.Student{}, fmt.Errorf("find student: %w", err)
	}
	return student, nil
}

func (p *Postgres) UpdateStudentName(ctx context.Context, id uuid.UUID, name string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE students SET name = $2 WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return requireRow(res)
}

// --- certificates ---

func (p *Postgres) SaveCertificate(ctx context.Context, cert domain.Certificate) error {
	query := `
		INSERT INTO certificates
			(id, certificate_id, student_id, institution_id, course_name, issue_date,
			 blockchain_tx, is_revoked, revocation_reason, revocation_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := p.db.ExecContext(ctx, query,
		cert.ID, cert.CertificateID, cert.StudentID, cert.InstitutionID, cert.CourseName,
		cert.IssueDate, cert.TxRef, cert.IsRevoked, nullString(cert.RevocationReason),
		cert.RevocationDate, cert.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (p *Postgres) FindCertificateByCertificateID(ctx context.Context, certificateID string) (domain.Certificate, error) {
	query := `
		SELECT id, certificate_id, student_id, institution_id, course_name, issue_date,
		       blockchain_tx, is_revoked, revocation_reason, revocation_date, created_at
		FROM certificates WHERE certificate_id = $1
	`
	var cert domain.Certificate
	var reason sql.NullString
	err := p.db.QueryRowContext(ctx, query, certificateID).Scan(
		&cert.ID, &cert.CertificateID, &cert.StudentID, &cert.InstitutionID, &cert.CourseName,
		&cert.IssueDate, &cert.TxRef, &cert.IsRevoked, &reason, &cert.RevocationDate, &cert.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Certificate{}, ErrNotFound
	}
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("find certificate: %w", err)
	}
	cert.RevocationReason = reason.String
	return cert, nil
}

func (p *Postgres) CertificateExists(ctx context.Context, certificateID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM certificates WHERE certificate_id = $1)`, certificateID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("certificate exists: %w", err)
	}
	return exists, nil
}

func (p *Postgres) MarkCertificateRevoked(ctx context.Context, certificateID, reason string, revokedAt time.Time) error {
	// NOT is_revoked guard keeps the first revocation timestamp.
	query := `
		UPDATE certificates
		SET is_revoked = TRUE, revocation_reason = $2, revocation_date = $3
		WHERE certificate_id = $1 AND NOT is_revoked
	`
	res, err := p.db.ExecContext(ctx, query, certificateID, reason, revokedAt)
	if err != nil {
		return fmt.Errorf("mark revoked: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		exists, err := p.CertificateExists(ctx, certificateID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (p *Postgres) ListCertificatesByInstitution(ctx context.Context, institutionID uuid.UUID) ([]domain.Certificate, error) {
	query := `
		SELECT id, certificate_id, student_id, institution_id, course_name, issue_date,
		       blockchain_tx, is_revoked, revocation_reason, revocation_date, created_at
		FROM certificates WHERE institution_id = $1 ORDER BY created_at
	`
	rows, err := p.db.QueryContext(ctx, query, institutionID)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []domain.Certificate
	for rows.Next() {
		var cert domain.Certificate
		var reason sql.NullString
		if err := rows.Scan(
			&cert.ID, &cert.CertificateID, &cert.StudentID, &cert.InstitutionID, &cert.CourseName,
			&cert.IssueDate, &cert.TxRef, &cert.IsRevoked, &reason, &cert.RevocationDate, &cert.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		cert.RevocationReason = reason.String
		out = append(out, cert)
	}
	return out, rows.Err()
}

// --- api keys ---

func (p *Postgres) SaveAPIKey(ctx context.Context, key domain.APIKey) error {
	query := `
		INSERT INTO api_keys
			(id, institution_id, label, key_prefix, secret_hash, fingerprint,
			 permissions, is_active, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	perms := make([]string, len(key.Permissions))
	for i, perm := range key.Permissions {
		perms[i] = string(perm)
	}
	_, err := p.db.ExecContext(ctx, query,
		key.ID, key.InstitutionID, key.Label, key.Prefix, key.SecretHash, key.Fingerprint,
		pq.Array(perms), key.Active, key.CreatedAt, key.LastUsedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

const apiKeyColumns = `id, institution_id, label, key_prefix, secret_hash, fingerprint,
	permissions, is_active, created_at, last_used_at`

func scanAPIKey(scan func(dest ...any) error) (domain.APIKey, error) {
	var key domain.APIKey
	var perms []string
	err := scan(&key.ID, &key.InstitutionID, &key.Label, &key.Prefix, &key.SecretHash,
		&key.Fingerprint, pq.Array(&perms), &key.Active, &key.CreatedAt, &key.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.APIKey{}, ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, fmt.Errorf("scan api key: %w", err)
	}
	key.Permissions = make([]domain.Permission, len(perms))
	for i, perm := range perms {
		key.Permissions[i] = domain.Permission(perm)
	}
	return key, nil
}

func (p *Postgres) FindAPIKeyByFingerprint(ctx context.Context, fingerprint []byte) (domain.APIKey, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE fingerprint = $1`, fingerprint)
	return scanAPIKey(row.Scan)
}

func (p *Postgres) FindAPIKeyByID(ctx context.Context, id uuid.UUID) (domain.APIKey, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	return scanAPIKey(row.Scan)
}

func (p *Postgres) ListAPIKeysByInstitution(ctx context.Context, institutionID uuid.UUID) ([]domain.APIKey, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE institution_id = $1 ORDER BY created_at`, institutionID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (p *Postgres) SetAPIKeyActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := p.db.ExecContext(ctx, `UPDATE api_keys SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set api key active: %w", err)
	}
	return requireRow(res)
}

func (p *Postgres) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return requireRow(res)
}

func (p *Postgres) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

// --- verification events ---

func (p *Postgres) AppendVerification(ctx context.Context, event domain.VerificationEvent) error {
	query := `
		INSERT INTO certificate_verifications
			(id, certificate_id, verification_method, ip_address, source, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.db.ExecContext(ctx, query,
		event.ID, event.CertificateID, string(event.Method), event.SourceAddr,
		string(event.Source), event.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert verification event: %w", err)
	}
	return nil
}

func (p *Postgres) ListVerificationsByCertificate(ctx context.Context, certificateID string) ([]domain.VerificationEvent, error) {
	query := `
		SELECT id, certificate_id, verification_method, ip_address, source, occurred_at
		FROM certificate_verifications WHERE certificate_id = $1 ORDER BY occurred_at
	`
	rows, err := p.db.QueryContext(ctx, query, certificateID)
	if err != nil {
		return nil, fmt.Errorf("list verification events: %w", err)
	}
	defer rows.Close()

	var out []domain.VerificationEvent
	for rows.Next() {
		var event domain.VerificationEvent
		var method, source string
		if err := rows.Scan(&event.ID, &event.CertificateID, &method, &event.SourceAddr, &source, &event.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan verification event: %w", err)
		}
		event.Method = domain.VerificationMethod(method)
		event.Source = domain.TrustTag(source)
		out = append(out, event)
	}
	return out, rows.Err()
}

// --- divergences ---

func (p *Postgres) AppendDivergence(ctx context.Context, div domain.Divergence) error {
	query := `
		INSERT INTO divergences (id, certificate_id, kind, detail, detected_at, resolved)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := p.db.ExecContext(ctx, query,
		div.ID, div.CertificateID, string(div.Kind), nullString(div.Detail), div.DetectedAt, div.Resolved)
	if err != nil {
		return fmt.Errorf("insert divergence: %w", err)
	}
	return nil
}

func (p *Postgres) DivergenceExists(ctx context.Context, certificateID string, kind domain.DivergenceKind) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM divergences WHERE certificate_id = $1 AND kind = $2)`,
		certificateID, string(kind)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("divergence exists: %w", err)
	}
	return exists, nil
}

func (p *Postgres) ListDivergences(ctx context.Context, unresolvedOnly bool) ([]domain.Divergence, error) {
	query := `
		SELECT id, certificate_id, kind, detail, detected_at, resolved
		FROM divergences
		WHERE ($1 = FALSE OR NOT resolved)
		ORDER BY detected_at
	`
	rows, err := p.db.QueryContext(ctx, query, unresolvedOnly)
	if err != nil {
		return nil, fmt.Errorf("list divergences: %w", err)
	}
	defer rows.Close()

	var out []domain.Divergence
	for rows.Next() {
		var div domain.Divergence
		var kind string
		var detail sql.NullString
		if err := rows.Scan(&div.ID, &div.CertificateID, &kind, &detail, &div.DetectedAt, &div.Resolved); err != nil {
			return nil, fmt.Errorf("scan divergence: %w", err)
		}
		div.Kind = domain.DivergenceKind(kind)
		div.Detail = detail.String
		out = append(out, div)
	}
	return out, rows.Err()
}

func (p *Postgres) ResolveDivergence(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `UPDATE divergences SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolve divergence: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- interface views ---
//
// One Postgres value serves every store interface; the views rename the
// entity-qualified methods onto the narrow interfaces handed to services.

func (p *Postgres) Institutions() InstitutionStore { return p }
func (p *Postgres) Students() StudentStore         { return pgStudents{p} }
func (p *Postgres) Certificates() CertificateStore { return pgCertificates{p} }
func (p *Postgres) APIKeys() APIKeyStore           { return pgAPIKeys{p} }
func (p *Postgres) Verifications() VerificationStore {
	return pgVerifications{p}
}
func (p *Postgres) Divergences() DivergenceStore { return pgDivergences{p} }

type pgStudents struct{ *Postgres }

func (s pgStudents) Save(ctx context.Context, student domain.Student) error {
	return s.SaveStudent(ctx, student)
}
func (s pgStudents) FindByEmail(ctx context.Context, email string) (domain.Student, error) {
	return s.FindStudentByEmail(ctx, email)
}
func (s pgStudents) FindByID(ctx context.Context, id uuid.UUID) (domain.Student, error) {
	return s.FindStudentByID(ctx, id)
}
func (s pgStudents) UpdateName(ctx context.Context, id uuid.UUID, name string) error {
	return s.UpdateStudentName(ctx, id, name)
}

type pgCertificates struct{ *Postgres }

func (s pgCertificates) Save(ctx context.Context, cert domain.Certificate) error {
	return s.SaveCertificate(ctx, cert)
}
func (s pgCertificates) FindByCertificateID(ctx context.Context, certificateID string) (domain.Certificate, error) {
	return s.FindCertificateByCertificateID(ctx, certificateID)
}
func (s pgCertificates) Exists(ctx context.Context, certificateID string) (bool, error) {
	return s.CertificateExists(ctx, certificateID)
}
func (s pgCertificates) MarkRevoked(ctx context.Context, certificateID, reason string, revokedAt time.Time) error {
	return s.MarkCertificateRevoked(ctx, certificateID, reason, revokedAt)
}
func (s pgCertificates) ListByInstitution(ctx context.Context, institutionID uuid.UUID) ([]domain.Certificate, error) {
	return s.ListCertificatesByInstitution(ctx, institutionID)
}

type pgAPIKeys struct{ *Postgres }

func (s pgAPIKeys) Save(ctx context.Context, key domain.APIKey) error {
	return s.SaveAPIKey(ctx, key)
}
func (s pgAPIKeys) FindByFingerprint(ctx context.Context, fingerprint []byte) (domain.APIKey, error) {
	return s.FindAPIKeyByFingerprint(ctx, fingerprint)
}
func (s pgAPIKeys) FindByID(ctx context.Context, id uuid.UUID) (domain.APIKey, error) {
	return s.FindAPIKeyByID(ctx, id)
}
func (s pgAPIKeys) ListByInstitution(ctx context.Context, institutionID uuid.UUID) ([]domain.APIKey, error) {
	return s.ListAPIKeysByInstitution(ctx, institutionID)
}
func (s pgAPIKeys) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.SetAPIKeyActive(ctx, id, active)
}
func (s pgAPIKeys) Delete(ctx context.Context, id uuid.UUID) error {
	return s.DeleteAPIKey(ctx, id)
}
func (s pgAPIKeys) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.TouchAPIKeyLastUsed(ctx, id, at)
}

type pgVerifications struct{ *Postgres }

func (s pgVerifications) Append(ctx context.Context, event domain.VerificationEvent) error {
	return s.AppendVerification(ctx, event)
}
func (s pgVerifications) ListByCertificate(ctx context.Context, certificateID string) ([]domain.VerificationEvent, error) {
	return s.ListVerificationsByCertificate(ctx, certificateID)
}

type pgDivergences struct{ *Postgres }

func (s pgDivergences) Append(ctx context.Context, div domain.Divergence) error {
	return s.AppendDivergence(ctx, div)
}
func (s pgDivergences) Exists(ctx context.Context, certificateID string, kind domain.DivergenceKind) (bool, error) {
	return s.DivergenceExists(ctx, certificateID, kind)
}
func (s pgDivergences) List(ctx context.Context, unresolvedOnly bool) ([]domain.Divergence, error) {
	return s.ListDivergences(ctx, unresolvedOnly)
}
func (s pgDivergences) Resolve(ctx context.Context, id uuid.UUID) error {
	return s.ResolveDivergence(ctx, id)
}

var (
	_ InstitutionStore  = (*Postgres)(nil)
	_ StudentStore      = pgStudents{}
	_ CertificateStore  = pgCertificates{}
	_ APIKeyStore       = pgAPIKeys{}
	_ VerificationStore = pgVerifications{}
	_ DivergenceStore   = pgDivergences{}
)

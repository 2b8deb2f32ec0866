package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/otpauth/app"
)

// profilesDB is the subset of *pgxpool.Pool the profile store uses.
type profilesDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

const profileColumns = `id, phone, name, role, id_number, attributes, created_at, updated_at`

// ProfileStore reads and writes the profiles table.
type ProfileStore struct {
	db profilesDB
}

var _ app.ProfileStore = (*ProfileStore)(nil)

// NewProfileStore creates a ProfileStore on db.
func NewProfileStore(db profilesDB) *ProfileStore {
	return &ProfileStore{db: db}
}

// FindByPhone returns the oldest profile whose phone equals one of forms.
func (s *ProfileStore) FindByPhone(ctx context.Context, forms ...string) (*app.Profile, error) {
	ctx, span := tracer.Start(ctx, "postgres.profiles.find_by_phone")
	defer span.End()

	if len(forms) == 0 {
		return nil, fmt.Errorf("profile store: find by phone: %w", domain.ErrNotFound)
	}

	row := s.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE phone = ANY($1) ORDER BY created_at LIMIT 1`,
		forms)
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("profile store: find by phone: %w", err)
	}
	return p, nil
}

// GetByID returns the profile keyed id.
func (s *ProfileStore) GetByID(ctx context.Context, id string) (*app.Profile, error) {
	ctx, span := tracer.Start(ctx, "postgres.profiles.get")
	defer span.End()

	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("profile store: get %s: %w", id, err)
	}
	return p, nil
}

// Insert creates p. An existing row at p.ID is left untouched and reported
// as domain.ErrAlreadyExists.
func (s *ProfileStore) Insert(ctx context.Context, p app.Profile) error {
	ctx, span := tracer.Start(ctx, "postgres.profiles.insert")
	defer span.End()

	attributes := p.Attributes
	if attributes == nil {
		attributes = map[string]any{}
	}
	attrs, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("profile store: marshal attributes: %w", err)
	}
	var idNumber *string
	if p.IDNumber != "" {
		idNumber = &p.IDNumber
	}

	tag, err := s.db.Exec(ctx,
		`INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Phone, p.Name, p.Role, idNumber, attrs, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("profile store: insert %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile store: insert %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Delete removes the profile keyed id. A missing row is not an error.
func (s *ProfileStore) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.profiles.delete")
	defer span.End()

	if _, err := s.db.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("profile store: delete %s: %w", id, err)
	}
	return nil
}

func scanProfile(row pgx.Row) (*app.Profile, error) {
	var (
		p         app.Profile
		idNumber  *string
		attrs     []byte
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&p.ID, &p.Phone, &p.Name, &p.Role, &idNumber, &attrs, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if idNumber != nil {
		p.IDNumber = *idNumber
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()
	return &p, nil
}

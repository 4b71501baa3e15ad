package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"copyflow.org/internal/auth"
	"copyflow.org/internal/content"
	"copyflow.org/internal/ids"
	"copyflow.org/internal/workflow"
)

// Store persists content, comments and users in Postgres.
type Store struct {
	db *sql.DB
}

var (
	_ content.Store  = (*Store)(nil)
	_ auth.UserStore = (*Store)(nil)
)

const uniqueViolation = "23505"

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// --- content ---

const contentColumns = `id, org_id, title, prompt, generated_content, edited_content, status,
	created_by_id, created_by_name, created_at, updated_at, version`

func (s *Store) CreateContent(ctx context.Context, item *content.Item) (*content.Item, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: nil item", content.ErrValidation)
	}
	cp := *item
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	if cp.Version == 0 {
		cp.Version = 1
	}
	_, err := s.db.ExecContext(ctx, `
		insert into content(id, org_id, title, prompt, generated_content, edited_content, status,
			created_by_id, created_by_name, created_at, updated_at, version)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, cp.ID, cp.OrgID, cp.Title, cp.Prompt, cp.GeneratedContent, cp.EditedContent, string(cp.Status),
		cp.CreatedBy.UserID, cp.CreatedBy.Name, cp.CreatedAt, cp.UpdatedAt, cp.Version)
	if isUnique(err) {
		return nil, fmt.Errorf("%w: duplicate id %s", content.ErrConflict, cp.ID)
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *Store) GetContent(ctx context.Context, orgID, id string) (*content.Item, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+contentColumns+`
		from content where id=$1 and org_id=$2
	`, id, orgID)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: content %s", content.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadPublications(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

func (s *Store) ListContent(ctx context.Context, orgID string, f content.ListFilter) ([]content.Item, error) {
	q := `select ` + contentColumns + ` from content where org_id=$1`
	args := []any{orgID}
	if f.CreatedBy != "" {
		args = append(args, f.CreatedBy)
		q += fmt.Sprintf(" and created_by_id=$%d", len(args))
	}
	if len(f.Statuses) > 0 {
		placeholders := ""
		for _, st := range f.Statuses {
			args = append(args, string(st))
			if placeholders != "" {
				placeholders += ","
			}
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		q += " and status in (" + placeholders + ")"
	}
	q += " order by updated_at desc, id asc"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]content.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

func (s *Store) UpdateContent(ctx context.Context, orgID, id string, expectedVersion int64, upd content.Update) (*content.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var edited, status sql.NullString
	if upd.EditedContent != nil {
		edited = sql.NullString{String: *upd.EditedContent, Valid: true}
	}
	if upd.Status != nil {
		status = sql.NullString{String: string(*upd.Status), Valid: true}
	}
	updatedAt := upd.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	row := tx.QueryRowContext(ctx, `
		update content
		set edited_content = coalesce($4, edited_content),
		    status         = coalesce($5, status),
		    updated_at     = $6,
		    version        = version + 1
		where id=$1 and org_id=$2 and version=$3
		returning `+contentColumns+`
	`, id, orgID, expectedVersion, edited, status, updatedAt)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Missing row and stale version look identical to the guarded
		// update; a second read tells them apart.
		var current int64
		probe := tx.QueryRowContext(ctx, `select version from content where id=$1 and org_id=$2`, id, orgID)
		switch err := probe.Scan(&current); {
		case errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("%w: content %s", content.ErrNotFound, id)
		case err != nil:
			return nil, err
		default:
			return nil, fmt.Errorf("%w: content %s at version %d, expected %d", content.ErrConflict, id, current, expectedVersion)
		}
	}
	if err != nil {
		return nil, err
	}

	if upd.AddPublication != nil {
		p := upd.AddPublication
		if _, err := tx.ExecContext(ctx, `
			insert into publications(content_id, channel, published_by_id, published_by_name, published_at, external_ref)
			values ($1,$2,$3,$4,$5,$6)
		`, id, p.Channel, p.PublishedBy.UserID, p.PublishedBy.Name, p.PublishedAt, p.ExternalRef); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if err := s.loadPublications(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

func (s *Store) loadPublications(ctx context.Context, it *content.Item) error {
	rows, err := s.db.QueryContext(ctx, `
		select channel, published_by_id, published_by_name, published_at, coalesce(external_ref,'')
		from publications where content_id=$1 order by published_at asc, id asc
	`, it.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p content.Publication
		if err := rows.Scan(&p.Channel, &p.PublishedBy.UserID, &p.PublishedBy.Name, &p.PublishedAt, &p.ExternalRef); err != nil {
			return err
		}
		it.Publications = append(it.Publications, p)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*content.Item, error) {
	var it content.Item
	var status string
	if err := row.Scan(&it.ID, &it.OrgID, &it.Title, &it.Prompt, &it.GeneratedContent, &it.EditedContent,
		&status, &it.CreatedBy.UserID, &it.CreatedBy.Name, &it.CreatedAt, &it.UpdatedAt, &it.Version); err != nil {
		return nil, err
	}
	it.Status = workflow.Status(status)
	return &it, nil
}

// --- comments ---

func (s *Store) AddComment(ctx context.Context, orgID, contentID string, c *content.Comment) (*content.Comment, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil comment", content.ErrValidation)
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `select 1 from content where id=$1 and org_id=$2`, contentID, orgID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: content %s", content.ErrNotFound, contentID)
	}
	if err != nil {
		return nil, err
	}

	cp := *c
	if cp.ID == "" {
		cp.ID = ids.New()
	}
	cp.ContentID = contentID
	if err := s.db.QueryRowContext(ctx, `
		insert into comments(id, content_id, org_id, body, author_id, author_name, author_role, created_at)
		values ($1,$2,$3,$4,$5,$6,$7, now())
		returning created_at, seq
	`, cp.ID, contentID, orgID, cp.Text, cp.CreatedBy.UserID, cp.CreatedBy.Name, string(cp.CreatedBy.Role)).Scan(&cp.CreatedAt, &cp.Seq); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *Store) ListComments(ctx context.Context, orgID, contentID string) ([]content.Comment, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `select 1 from content where id=$1 and org_id=$2`, contentID, orgID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: content %s", content.ErrNotFound, contentID)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, content_id, body, author_id, author_name, author_role, created_at, seq
		from comments
		where content_id=$1 and org_id=$2
		order by created_at asc, seq asc
	`, contentID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]content.Comment, 0)
	for rows.Next() {
		var c content.Comment
		var role string
		if err := rows.Scan(&c.ID, &c.ContentID, &c.Text, &c.CreatedBy.UserID, &c.CreatedBy.Name, &role, &c.CreatedAt, &c.Seq); err != nil {
			return nil, err
		}
		c.CreatedBy.Role = workflow.Role(role)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- users ---

const userColumns = `id, name, email, role, org_id, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	if user == nil {
		return fmt.Errorf("%w: nil user", auth.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, name, email, role, org_id, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.Name, user.Email, string(user.Role), user.OrgID, user.CreatedAt, user.UpdatedAt)
	if isUnique(err) {
		return fmt.Errorf("%w: user %s", auth.ErrConflict, user.ID)
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=$1`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", auth.ErrNotFound, email)
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context, orgID string) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users where org_id=$1 order by created_at asc`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]auth.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	var name, role, org sql.NullString
	if upd.Name != nil {
		name = sql.NullString{String: *upd.Name, Valid: true}
	}
	if upd.Role != nil {
		role = sql.NullString{String: string(*upd.Role), Valid: true}
	}
	if upd.OrgID != nil {
		org = sql.NullString{String: *upd.OrgID, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		update users
		set name       = coalesce($2, name),
		    role       = coalesce($3, role),
		    org_id     = coalesce($4, org_id),
		    updated_at = now()
		where id=$1
		returning `+userColumns+`
	`, id, name, role, org)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", auth.ErrNotFound, id)
	}
	return u, err
}

func scanUser(row rowScanner) (*auth.User, error) {
	var u auth.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.OrgID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = workflow.Role(role)
	return &u, nil
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

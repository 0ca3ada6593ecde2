package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/evidenceflow/refscreen/internal/screening"
)

type Store struct {
	DB *sql.DB
}

func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Project is a screening project: one set of criteria over a set of references.
type Project struct {
	ID           string
	UserID       string
	Name         string
	Criteria     screening.Criteria
	Mode         string
	ScheduleCron string
	CreatedAt    time.Time
}

func (s *Store) CreateProject(ctx context.Context, userID, name string, criteria screening.Criteria, mode, cron string) (string, error) {
	raw, err := json.Marshal(criteria)
	if err != nil {
		return "", err
	}
	var id string
	err = s.DB.QueryRowContext(ctx,
		`INSERT INTO projects (user_id, name, criteria, mode, schedule_cron) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		userID, name, raw, mode, cron).Scan(&id)
	return id, err
}

func (s *Store) GetProject(ctx context.Context, id, userID string) (Project, bool, error) {
	var p Project
	var raw []byte
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, name, criteria, mode, schedule_cron, created_at FROM projects WHERE id=$1 AND user_id=$2`,
		id, userID).Scan(&p.ID, &p.UserID, &p.Name, &raw, &p.Mode, &p.ScheduleCron, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return Project{}, false, nil
	}
	if err != nil {
		return Project{}, false, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Criteria); err != nil {
			return Project{}, false, fmt.Errorf("decode criteria: %w", err)
		}
	}
	return p, true, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, name, criteria, mode, schedule_cron, created_at FROM projects WHERE user_id=$1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProjects(rows)
}

// ListAllProjects returns every project; used by the auto-run scheduler.
func (s *Store) ListAllProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, name, criteria, mode, schedule_cron, created_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProjects(rows)
}

func scanProjects(rows *sql.Rows) ([]Project, error) {
	var out []Project
	for rows.Next() {
		var p Project
		var raw []byte
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &raw, &p.Mode, &p.ScheduleCron, &p.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p.Criteria); err != nil {
				return nil, fmt.Errorf("decode criteria: %w", err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProjectCriteria(ctx context.Context, id, userID string, criteria screening.Criteria) error {
	raw, err := json.Marshal(criteria)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE projects SET criteria=$1 WHERE id=$2 AND user_id=$3`, raw, id, userID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

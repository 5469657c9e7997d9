package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"progress/internal/school/model"
)

var ErrNotFound = errors.New("school not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schoolColumns = `id, name, address, created_at, updated_at`

func scanSchool(row pgx.Row) (model.School, error) {
	var school model.School
	err := row.Scan(&school.ID, &school.Name, &school.Address, &school.CreatedAt, &school.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return school, ErrNotFound
	}
	return school, err
}

func (s *Store) CreateSchool(ctx context.Context, school model.School) (model.School, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO schools (name, address, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING `+schoolColumns+`
	`, school.Name, school.Address, now)
	return scanSchool(row)
}

func (s *Store) GetSchool(ctx context.Context, id int64) (model.School, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+schoolColumns+` FROM schools WHERE id = $1`, id)
	return scanSchool(row)
}

func (s *Store) ListSchools(ctx context.Context) ([]model.School, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+schoolColumns+` FROM schools ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schools []model.School
	for rows.Next() {
		school, err := scanSchool(rows)
		if err != nil {
			return nil, err
		}
		schools = append(schools, school)
	}
	return schools, rows.Err()
}

type SchoolUpdate struct {
	Name    *string
	Address *string
}

func (s *Store) UpdateSchool(ctx context.Context, id int64, update SchoolUpdate) (model.School, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE schools
		SET name = COALESCE($2, name),
		    address = COALESCE($3, address),
		    updated_at = $4
		WHERE id = $1
		RETURNING `+schoolColumns+`
	`, id, update.Name, update.Address, time.Now().UTC())
	return scanSchool(row)
}

func (s *Store) DeleteSchool(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schools WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SchoolExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schools WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *Store) AddTeacher(ctx context.Context, schoolID, teacherID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO school_teachers (school_id, teacher_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, schoolID, teacherID)
	return err
}

func (s *Store) RemoveTeacher(ctx context.Context, schoolID, teacherID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM school_teachers WHERE school_id = $1 AND teacher_id = $2`, schoolID, teacherID)
	return err
}

func (s *Store) ListTeachers(ctx context.Context, schoolID int64) ([]int64, error) {
	return s.listIDs(ctx, `SELECT teacher_id FROM school_teachers WHERE school_id = $1 ORDER BY teacher_id`, schoolID)
}

func (s *Store) TeacherInSchool(ctx context.Context, schoolID, teacherID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM school_teachers WHERE school_id = $1 AND teacher_id = $2)
	`, schoolID, teacherID).Scan(&exists)
	return exists, err
}

func (s *Store) AddStudent(ctx context.Context, schoolID, studentID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO school_students (school_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, schoolID, studentID)
	return err
}

func (s *Store) ListStudents(ctx context.Context, schoolID int64) ([]int64, error) {
	return s.listIDs(ctx, `SELECT student_id FROM school_students WHERE school_id = $1 ORDER BY student_id`, schoolID)
}

func (s *Store) listIDs(ctx context.Context, query string, schoolID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, query, schoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

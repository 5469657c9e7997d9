package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"progress/internal/timetable/model"
)

var (
	ErrNotFound         = errors.New("timetable not found")
	ErrDuplicateBooking = errors.New("student already booked")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const timetableColumns = `id, school_id, teacher_id, subject, start_time, end_time, day_of_week, max_students, created_at, updated_at`

func scanTimetable(row pgx.Row) (model.Timetable, error) {
	var tt model.Timetable
	err := row.Scan(&tt.ID, &tt.SchoolID, &tt.TeacherID, &tt.Subject, &tt.StartTime, &tt.EndTime,
		&tt.DayOfWeek, &tt.MaxStudents, &tt.CreatedAt, &tt.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tt, ErrNotFound
	}
	return tt, err
}

func (s *Store) CreateTimetable(ctx context.Context, tt model.Timetable) (model.Timetable, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO timetables (school_id, teacher_id, subject, start_time, end_time, day_of_week, max_students, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+timetableColumns+`
	`, tt.SchoolID, tt.TeacherID, tt.Subject, tt.StartTime, tt.EndTime, tt.DayOfWeek, tt.MaxStudents, now)
	return scanTimetable(row)
}

func (s *Store) GetTimetable(ctx context.Context, id int64) (model.Timetable, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+timetableColumns+` FROM timetables WHERE id = $1`, id)
	return scanTimetable(row)
}

func (s *Store) ListTimetables(ctx context.Context) ([]model.Timetable, error) {
	return s.list(ctx, `SELECT `+timetableColumns+` FROM timetables ORDER BY id`)
}

func (s *Store) ListTimetablesBySchool(ctx context.Context, schoolID int64) ([]model.Timetable, error) {
	return s.list(ctx, `SELECT `+timetableColumns+` FROM timetables WHERE school_id = $1 ORDER BY id`, schoolID)
}

func (s *Store) ListTimetablesByTeacher(ctx context.Context, teacherID int64) ([]model.Timetable, error) {
	return s.list(ctx, `SELECT `+timetableColumns+` FROM timetables WHERE teacher_id = $1 ORDER BY id`, teacherID)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]model.Timetable, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tts []model.Timetable
	for rows.Next() {
		tt, err := scanTimetable(rows)
		if err != nil {
			return nil, err
		}
		tts = append(tts, tt)
	}
	return tts, rows.Err()
}

type TimetableUpdate struct {
	Subject     *string
	StartTime   *string
	EndTime     *string
	DayOfWeek   *string
	MaxStudents *int
}

func (s *Store) UpdateTimetable(ctx context.Context, id int64, update TimetableUpdate) (model.Timetable, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE timetables
		SET subject = COALESCE($2, subject),
		    start_time = COALESCE($3, start_time),
		    end_time = COALESCE($4, end_time),
		    day_of_week = COALESCE($5, day_of_week),
		    max_students = COALESCE($6, max_students),
		    updated_at = $7
		WHERE id = $1
		RETURNING `+timetableColumns+`
	`, id, update.Subject, update.StartTime, update.EndTime, update.DayOfWeek, update.MaxStudents, time.Now().UTC())
	return scanTimetable(row)
}

func (s *Store) DeleteTimetable(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM timetables WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TimetableExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM timetables WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// CreateBooking relies on a unique (timetable_id, student_id) index so
// that a student can hold at most one seat per slot under concurrency.
func (s *Store) CreateBooking(ctx context.Context, timetableID, studentID int64) (model.Booking, error) {
	var booking model.Booking
	err := s.pool.QueryRow(ctx, `
		INSERT INTO bookings (timetable_id, student_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, timetable_id, student_id, created_at
	`, timetableID, studentID, time.Now().UTC()).
		Scan(&booking.ID, &booking.TimetableID, &booking.StudentID, &booking.CreatedAt)
	if isUniqueViolation(err) {
		return booking, ErrDuplicateBooking
	}
	return booking, err
}

func (s *Store) CountBookings(ctx context.Context, timetableID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE timetable_id = $1`, timetableID).Scan(&count)
	return count, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

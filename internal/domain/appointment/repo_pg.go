package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/db"
)

const foreignKeyViolation = "23503"

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &appointmentRepoPG{pool: pool} }

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

type pgTransactor struct{ pool *pgxpool.Pool }

// NewPGTransactor runs work inside a Postgres transaction shared by every
// repository that resolves its connection through db.Conn.
func NewPGTransactor(pool *pgxpool.Pool) Transactor { return pgTransactor{pool: pool} }

func (t pgTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, t.pool, fn)
}

const apptCols = `id, patient_id, doctor_id, date, time, duration, type, mode, status,
	symptoms, patient_notes, doctor_notes, diagnosis, treatment, follow_up, signature,
	consultation_fee, payment_status, payment_amount, payment_currency,
	payment_transaction_id, payment_paid_at,
	rescheduled_from_date, rescheduled_from_time, reschedule_reason, rescheduled_by, rescheduled_at,
	cancellation_reason, cancelled_by, cancelled_at,
	rating, review, review_date, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var fromDate *time.Time
	var fromTime, fromReason *string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.Time, &a.Duration, &a.Type, &a.Mode, &a.Status,
		&a.Symptoms, &a.PatientNotes, &a.DoctorNotes, &a.Diagnosis, &a.Treatment, &a.FollowUp, &a.Signature,
		&a.ConsultationFee, &a.Payment.Status, &a.Payment.Amount, &a.Payment.Currency,
		&a.Payment.TransactionID, &a.Payment.PaidAt,
		&fromDate, &fromTime, &fromReason, &a.RescheduledBy, &a.RescheduledAt,
		&a.CancellationReason, &a.CancelledBy, &a.CancelledAt,
		&a.Rating, &a.Review, &a.ReviewDate, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Date = Day(a.Date)
	if fromDate != nil {
		rec := &RescheduleRecord{Date: Day(*fromDate)}
		if fromTime != nil {
			rec.Time = *fromTime
		}
		if fromReason != nil {
			rec.Reason = *fromReason
		}
		a.RescheduledFrom = rec
	}
	if a.Symptoms == nil {
		a.Symptoms = []string{}
	}
	return &a, nil
}

func rescheduleColumns(a *Appointment) (*time.Time, *string, *string) {
	if a.RescheduledFrom == nil {
		return nil, nil, nil
	}
	d, t, reason := a.RescheduledFrom.Date, a.RescheduledFrom.Time, a.RescheduledFrom.Reason
	return &d, &t, &reason
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Symptoms == nil {
		a.Symptoms = []string{}
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	fromDate, fromTime, fromReason := rescheduleColumns(a)
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (`+apptCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35)`,
		a.ID, a.PatientID, a.DoctorID, a.Date, a.Time, a.Duration, a.Type, a.Mode, a.Status,
		a.Symptoms, a.PatientNotes, a.DoctorNotes, a.Diagnosis, a.Treatment, a.FollowUp, a.Signature,
		a.ConsultationFee, a.Payment.Status, a.Payment.Amount, a.Payment.Currency,
		a.Payment.TransactionID, a.Payment.PaidAt,
		fromDate, fromTime, fromReason, a.RescheduledBy, a.RescheduledAt,
		a.CancellationReason, a.CancelledBy, a.CancelledAt,
		a.Rating, a.Review, a.ReviewDate, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	msgs, err := r.listMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Messages = msgs
	return a, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	a.UpdatedAt = time.Now().UTC()
	fromDate, fromTime, fromReason := rescheduleColumns(a)
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET
			date = $2, time = $3, duration = $4, type = $5, mode = $6, status = $7,
			symptoms = $8, patient_notes = $9, doctor_notes = $10, diagnosis = $11,
			treatment = $12, follow_up = $13, signature = $14,
			payment_status = $15, payment_amount = $16, payment_currency = $17,
			payment_transaction_id = $18, payment_paid_at = $19,
			rescheduled_from_date = $20, rescheduled_from_time = $21, reschedule_reason = $22,
			rescheduled_by = $23, rescheduled_at = $24,
			cancellation_reason = $25, cancelled_by = $26, cancelled_at = $27,
			rating = $28, review = $29, review_date = $30, updated_at = $31
		WHERE id = $1`,
		a.ID, a.Date, a.Time, a.Duration, a.Type, a.Mode, a.Status,
		a.Symptoms, a.PatientNotes, a.DoctorNotes, a.Diagnosis,
		a.Treatment, a.FollowUp, a.Signature,
		a.Payment.Status, a.Payment.Amount, a.Payment.Currency,
		a.Payment.TransactionID, a.Payment.PaidAt,
		fromDate, fromTime, fromReason,
		a.RescheduledBy, a.RescheduledAt,
		a.CancellationReason, a.CancelledBy, a.CancelledAt,
		a.Rating, a.Review, a.ReviewDate, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// whereClause renders f as a WHERE clause whose placeholders start at $1.
func whereClause(f Filter) (string, []interface{}) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1

	if f.PatientID != nil {
		where += fmt.Sprintf(" AND patient_id = $%d", idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.DoctorID != nil {
		where += fmt.Sprintf(" AND doctor_id = $%d", idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if len(f.Statuses) > 0 {
		where += fmt.Sprintf(" AND status = ANY($%d)", idx)
		args = append(args, f.Statuses)
		idx++
	}
	if f.Type != "" {
		where += fmt.Sprintf(" AND type = $%d", idx)
		args = append(args, f.Type)
		idx++
	}
	if f.Mode != "" {
		where += fmt.Sprintf(" AND mode = $%d", idx)
		args = append(args, f.Mode)
		idx++
	}
	if f.From != nil {
		where += fmt.Sprintf(" AND date >= $%d", idx)
		args = append(args, Day(*f.From))
		idx++
		if f.FromTime != "" {
			where += fmt.Sprintf(" AND (date > $%d OR time >= $%d)", idx-1, idx)
			args = append(args, f.FromTime)
			idx++
		}
	}
	if f.To != nil {
		where += fmt.Sprintf(" AND date <= $%d", idx)
		args = append(args, Day(*f.To))
	}
	return where, args
}

func (r *appointmentRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	where, args := whereClause(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM appointment"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := " ORDER BY date DESC, time DESC"
	if f.Ascending {
		order = " ORDER BY date ASC, time ASC"
	}
	query := "SELECT " + apptCols + " FROM appointment" + where + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) CountByStatus(ctx context.Context, f Filter) (map[string]int, error) {
	where, args := whereClause(f)
	rows, err := r.conn(ctx).Query(ctx, "SELECT status, COUNT(*) FROM appointment"+where+" GROUP BY status", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *appointmentRepoPG) HasConflict(ctx context.Context, doctorID uuid.UUID, date time.Time, clock string, excludeID *uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointment
			WHERE doctor_id = $1 AND date = $2 AND time = $3 AND status <> $4
			  AND ($5::uuid IS NULL OR id <> $5)
		)`, doctorID, Day(date), clock, StatusCancelled, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return exists, nil
}

func (r *appointmentRepoPG) RatingSummary(ctx context.Context, doctorID uuid.UUID) (float64, int, error) {
	var avg float64
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(AVG(rating), 0)::float8, COUNT(rating)
		FROM appointment WHERE doctor_id = $1 AND rating IS NOT NULL`, doctorID).Scan(&avg, &n)
	if err != nil {
		return 0, 0, fmt.Errorf("rating summary: %w", err)
	}
	return avg, n, nil
}

func (r *appointmentRepoPG) listMessages(ctx context.Context, appointmentID uuid.UUID) ([]Message, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, sender_id, message, type, sent_at, read_by
		FROM appointment_message WHERE appointment_id = $1
		ORDER BY sent_at, seq`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Message, &m.Type, &m.Timestamp, &m.ReadBy); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *appointmentRepoPG) AddMessage(ctx context.Context, appointmentID uuid.UUID, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_message (id, appointment_id, sender_id, message, type, sent_at, read_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, appointmentID, m.SenderID, m.Message, m.Type, m.Timestamp, m.ReadBy)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) MarkMessagesRead(ctx context.Context, appointmentID, userID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment_message SET read_by = array_append(read_by, $2)
		WHERE appointment_id = $1 AND NOT ($2 = ANY(read_by))`, appointmentID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *appointmentRepoPG) DeleteMessage(ctx context.Context, appointmentID, messageID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM appointment_message WHERE appointment_id = $1 AND id = $2`, appointmentID, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

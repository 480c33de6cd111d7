package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"boxoffice/internal/database"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

type SeatRepository struct {
	db *database.DB
}

func NewSeatRepository(db *database.DB) *SeatRepository {
	return &SeatRepository{db: db}
}

const seatColumns = `id, event_id, section, row_label, seat_number, price_tier, status, version,
		       holder_reservation_id, reserved_until, updated_at`

func scanSeat(row interface{ Scan(dest ...any) error }) (models.Seat, error) {
	var seat models.Seat
	err := row.Scan(
		&seat.ID,
		&seat.EventID,
		&seat.Section,
		&seat.Row,
		&seat.Number,
		&seat.PriceTier,
		&seat.Status,
		&seat.Version,
		&seat.HolderReservationID,
		&seat.ReservedUntil,
		&seat.UpdatedAt,
	)
	return seat, err
}

func (r *SeatRepository) GetSeats(ctx context.Context, seatIDs []string) ([]models.Seat, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + seatColumns + `
		FROM seats
		WHERE id = ANY($1)
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(seatIDs))
	if err != nil {
		return nil, storeErr("get seats", err)
	}
	defer rows.Close()

	var seats []models.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, storeErr("scan seat", err)
		}
		seats = append(seats, seat)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("get seats", err)
	}
	return seats, nil
}

func (r *SeatRepository) ConditionalUpdate(ctx context.Context, u models.SeatUpdate) (int64, error) {
	allowed := models.AllowedPredecessors(u.Status)
	if len(allowed) == 0 {
		return 0, apperrors.ErrInvalidTransition
	}

	query := `
		UPDATE seats
		SET status = $3, version = version + 1, holder_reservation_id = $4,
		    reserved_until = $5, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = ANY($6)
		RETURNING version`

	var version int64
	err := r.db.QueryRowContext(ctx, query,
		u.SeatID,
		u.ExpectedVersion,
		u.Status,
		u.Holder,
		u.ReservedUntil,
		pq.Array(statusStrings(allowed)),
	).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, r.missOrConflict(ctx, u.SeatID)
	}
	if err != nil {
		return 0, storeErr("update seat", err)
	}

	return version, nil
}

// missOrConflict tells a missing seat apart from a stale write after an update matched no row
func (r *SeatRepository) missOrConflict(ctx context.Context, seatID string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM seats WHERE id = $1)`, seatID).Scan(&exists)
	if err != nil {
		return storeErr("check seat", err)
	}
	if !exists {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrVersionConflict
}

func (r *SeatRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Seat, error) {
	query := `
		SELECT ` + seatColumns + `
		FROM seats
		WHERE status = 'RESERVED' AND reserved_until < $1
		ORDER BY reserved_until
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, storeErr("list expired holds", err)
	}
	defer rows.Close()

	var seats []models.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, storeErr("scan seat", err)
		}
		seats = append(seats, seat)
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("list expired holds", err)
	}
	return seats, nil
}

func (r *SeatRepository) CreateSeats(ctx context.Context, seats []models.Seat) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO seats (id, event_id, section, row_label, seat_number, price_tier, status, version)
			VALUES ($1, $2, $3, $4, $5, $6, 'AVAILABLE', 0)
			ON CONFLICT (id) DO NOTHING`

		for _, seat := range seats {
			_, err := tx.ExecContext(ctx, query,
				seat.ID, seat.EventID, seat.Section, seat.Row, seat.Number, seat.PriceTier)
			if err != nil {
				return storeErr("insert seat", err)
			}
		}
		return nil
	})
}

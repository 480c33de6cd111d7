package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"boxoffice/internal/database"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

const uniqueViolation = "23505"

type ReservationRepository struct {
	db *database.DB
}

func NewReservationRepository(db *database.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Create(ctx context.Context, res *models.Reservation) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO reservations (id, event_id, user_id, status, queue_token, created_at, expires_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $6)`

		_, err := tx.ExecContext(ctx, query,
			res.ID,
			res.EventID,
			res.UserID,
			res.Status,
			res.QueueToken,
			res.CreatedAt,
			res.ExpiresAt,
		)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "reservations_pending_token_idx" {
			return apperrors.ErrQueueTokenInUse
		}
		if err != nil {
			return storeErr("insert reservation", err)
		}

		seatQuery := `INSERT INTO reservation_seats (reservation_id, seat_id, held_version) VALUES ($1, $2, $3)`
		for _, seatID := range res.SeatIDs {
			if _, err := tx.ExecContext(ctx, seatQuery, res.ID, seatID, res.SeatVersions[seatID]); err != nil {
				return storeErr("insert reservation seat", err)
			}
		}
		return nil
	})
}

func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	res := &models.Reservation{}
	query := `
		SELECT id, event_id, user_id, status, queue_token, created_at, expires_at, updated_at
		FROM reservations
		WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&res.ID,
		&res.EventID,
		&res.UserID,
		&res.Status,
		&res.QueueToken,
		&res.CreatedAt,
		&res.ExpiresAt,
		&res.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get reservation", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT seat_id, held_version FROM reservation_seats WHERE reservation_id = $1 ORDER BY seat_id`, id)
	if err != nil {
		return nil, storeErr("get reservation seats", err)
	}
	defer rows.Close()

	res.SeatVersions = make(map[string]int64)
	for rows.Next() {
		var seatID string
		var version int64
		if err := rows.Scan(&seatID, &version); err != nil {
			return nil, storeErr("scan reservation seat", err)
		}
		res.SeatIDs = append(res.SeatIDs, seatID)
		res.SeatVersions[seatID] = version
	}

	if err := rows.Err(); err != nil {
		return nil, storeErr("get reservation seats", err)
	}
	return res, nil
}

func (r *ReservationRepository) UpdateStatus(ctx context.Context, id string, from []models.ReservationStatus, to models.ReservationStatus) (bool, error) {
	query := `
		UPDATE reservations
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`

	result, err := r.db.ExecContext(ctx, query, id, to, pq.Array(statusStrings(from)))
	if err != nil {
		return false, storeErr("update reservation status", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("update reservation status", err)
	}
	return n > 0, nil
}

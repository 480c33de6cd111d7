package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createSeatsTable,
		createSeatsExpiryIndex,
		createReservationsTable,
		createReservationsTokenIndex,
		createReservationSeatsTable,
		createBookingsTable,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

const createSeatsTable = `
CREATE TABLE IF NOT EXISTS seats (
    id VARCHAR(64) PRIMARY KEY,
    event_id VARCHAR(64) NOT NULL,
    section VARCHAR(64) NOT NULL DEFAULT '',
    row_label VARCHAR(16) NOT NULL DEFAULT '',
    seat_number INTEGER NOT NULL DEFAULT 0,
    price_tier VARCHAR(32) NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL DEFAULT 'AVAILABLE',
    version BIGINT NOT NULL DEFAULT 0,
    holder_reservation_id VARCHAR(64),
    reserved_until TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (status IN ('AVAILABLE', 'RESERVED', 'SOLD'))
);`

const createSeatsExpiryIndex = `
CREATE INDEX IF NOT EXISTS seats_reserved_until_idx
ON seats (reserved_until) WHERE status = 'RESERVED';`

const createReservationsTable = `
CREATE TABLE IF NOT EXISTS reservations (
    id VARCHAR(64) PRIMARY KEY,
    event_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
    queue_token VARCHAR(64) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (status IN ('PENDING', 'CONFIRMED', 'EXPIRED', 'CANCELLED'))
);`

// One live hold per admitted queue token
const createReservationsTokenIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS reservations_pending_token_idx
ON reservations (queue_token) WHERE status = 'PENDING' AND queue_token <> '';`

const createReservationSeatsTable = `
CREATE TABLE IF NOT EXISTS reservation_seats (
    reservation_id VARCHAR(64) NOT NULL REFERENCES reservations(id) ON DELETE CASCADE,
    seat_id VARCHAR(64) NOT NULL REFERENCES seats(id),
    held_version BIGINT NOT NULL,

    PRIMARY KEY (reservation_id, seat_id)
);`

const createBookingsTable = `
CREATE TABLE IF NOT EXISTS bookings (
    id VARCHAR(64) PRIMARY KEY,
    reservation_id VARCHAR(64) NOT NULL UNIQUE REFERENCES reservations(id),
    user_id VARCHAR(64) NOT NULL,
    total_price BIGINT NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING_PAYMENT',
    payment_id VARCHAR(255),
    failure_reason VARCHAR(255),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    CHECK (status IN ('PENDING_PAYMENT', 'CONFIRMED', 'FAILED'))
);`

package external

import (
	"context"
	"errors"
	"fmt"

	"boxoffice/internal/models"
)

// ErrUnpriced is returned for a seat whose tier has no price
var ErrUnpriced = errors.New("seat has no price")

func tierPrice(prices map[string]int64, seatID, tier string) (int64, error) {
	price, ok := prices[tier]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: seat %s has unknown price tier %q", ErrUnpriced, seatID, tier)
	}
	return price, nil
}

type seatReader interface {
	GetSeats(ctx context.Context, seatIDs []string) ([]models.Seat, error)
}

// StaticCatalog derives seat info from the inventory rows and a fixed tier price table
type StaticCatalog struct {
	seats  seatReader
	prices map[string]int64
}

func NewStaticCatalog(seats seatReader, prices map[string]int64) *StaticCatalog {
	if prices == nil {
		prices = DefaultTierPrices
	}
	return &StaticCatalog{seats: seats, prices: prices}
}

func (c *StaticCatalog) Lookup(ctx context.Context, seatIDs []string) (map[string]models.SeatInfo, error) {
	seats, err := c.seats.GetSeats(ctx, seatIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.SeatInfo, len(seats))
	for _, seat := range seats {
		price, err := tierPrice(c.prices, seat.ID, seat.PriceTier)
		if err != nil {
			return nil, err
		}
		out[seat.ID] = models.SeatInfo{
			SeatID:    seat.ID,
			Section:   seat.Section,
			Row:       seat.Row,
			PriceTier: seat.PriceTier,
			Price:     price,
		}
	}
	return out, nil
}

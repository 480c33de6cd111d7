package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"boxoffice/internal/models"
)

// DefaultTierPrices are used when no catalog document carries a price (minor units)
var DefaultTierPrices = map[string]int64{
	"standard": 5000,
	"premium":  12000,
	"vip":      25000,
}

type CatalogConfig struct {
	URL        string
	Index      string
	Username   string
	Password   string
	MaxRetries int
	Timeout    time.Duration
}

// CatalogClient reads seat documents (section, row, tier, price) from Elasticsearch
type CatalogClient struct {
	client *elasticsearch.Client
	index  string
}

type seatDocument struct {
	SeatID    string `json:"seat_id"`
	EventID   string `json:"event_id"`
	Section   string `json:"section"`
	Row       string `json:"row"`
	Number    int    `json:"number"`
	PriceTier string `json:"price_tier"`
	Price     int64  `json:"price"`
}

type mgetResponse struct {
	Docs []struct {
		ID     string       `json:"_id"`
		Found  bool         `json:"found"`
		Source seatDocument `json:"_source"`
	} `json:"docs"`
}

func NewCatalogClient(cfg CatalogConfig) (*CatalogClient, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
		Transport:     &http.Transport{ResponseHeaderTimeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &CatalogClient{client: es, index: cfg.Index}, nil
}

// EnsureIndex creates the catalog index if it does not exist
func (c *CatalogClient) EnsureIndex(ctx context.Context) error {
	req := esapi.IndicesExistsRequest{
		Index: []string{c.index},
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		return nil
	}

	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"seat_id":    map[string]string{"type": "keyword"},
				"event_id":   map[string]string{"type": "keyword"},
				"section":    map[string]string{"type": "keyword"},
				"row":        map[string]string{"type": "keyword"},
				"number":     map[string]string{"type": "integer"},
				"price_tier": map[string]string{"type": "keyword"},
				"price":      map[string]string{"type": "long"},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	createReq := esapi.IndicesCreateRequest{
		Index: c.index,
		Body:  bytes.NewReader(body),
	}

	createRes, err := createReq.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("failed to create index: %s", createRes.String())
	}

	slog.Info("Created catalog index", "index", c.index)
	return nil
}

// Lookup returns catalog info for the requested seats. Seats without a document are absent.
func (c *CatalogClient) Lookup(ctx context.Context, seatIDs []string) (map[string]models.SeatInfo, error) {
	out := make(map[string]models.SeatInfo, len(seatIDs))
	if len(seatIDs) == 0 {
		return out, nil
	}

	body, err := json.Marshal(map[string][]string{"ids": seatIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mget body: %w", err)
	}

	req := esapi.MgetRequest{
		Index: c.index,
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch seats from catalog: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("catalog mget failed: %s", res.String())
	}

	var response mgetResponse
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}

	for _, doc := range response.Docs {
		if !doc.Found {
			continue
		}
		price := doc.Source.Price
		if price <= 0 {
			if price, err = tierPrice(DefaultTierPrices, doc.ID, doc.Source.PriceTier); err != nil {
				return nil, err
			}
		}
		out[doc.ID] = models.SeatInfo{
			SeatID:    doc.ID,
			Section:   doc.Source.Section,
			Row:       doc.Source.Row,
			PriceTier: doc.Source.PriceTier,
			Price:     price,
		}
	}

	return out, nil
}

// IndexSeats writes catalog documents for the given seats using tier prices
func (c *CatalogClient) IndexSeats(ctx context.Context, seats []models.Seat, prices map[string]int64) error {
	for _, seat := range seats {
		doc := seatDocument{
			SeatID:    seat.ID,
			EventID:   seat.EventID,
			Section:   seat.Section,
			Row:       seat.Row,
			Number:    seat.Number,
			PriceTier: seat.PriceTier,
			Price:     prices[seat.PriceTier],
		}

		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal seat %s: %w", seat.ID, err)
		}

		req := esapi.IndexRequest{
			Index:      c.index,
			DocumentID: seat.ID,
			Body:       bytes.NewReader(body),
		}

		res, err := req.Do(ctx, c.client)
		if err != nil {
			return fmt.Errorf("failed to index seat %s: %w", seat.ID, err)
		}
		res.Body.Close()

		if res.IsError() {
			return fmt.Errorf("failed to index seat %s: %s", seat.ID, res.Status())
		}
	}

	refresh := esapi.IndicesRefreshRequest{Index: []string{c.index}}
	res, err := refresh.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to refresh catalog index: %w", err)
	}
	res.Body.Close()

	return nil
}

// HealthCheck reports whether the cluster answers
func (c *CatalogClient) HealthCheck(ctx context.Context) error {
	res, err := c.client.Info(c.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch health check failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch health check failed: %s", strings.TrimSpace(res.String()))
	}
	return nil
}

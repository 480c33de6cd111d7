package admission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

type eventQueue struct {
	seq      int64
	waiting  []*models.QueueToken // ascending position
	admitted map[string]*models.QueueToken
	users    map[string]string // user id -> live token
}

// MemoryController keeps every queue in process behind one mutex
type MemoryController struct {
	mu     sync.Mutex
	cfg    Config
	events map[string]*eventQueue
	tokens map[string]*models.QueueToken
	now    func() time.Time
}

func NewMemoryController(cfg Config) *MemoryController {
	return &MemoryController{
		cfg:    cfg,
		events: make(map[string]*eventQueue),
		tokens: make(map[string]*models.QueueToken),
		now:    time.Now,
	}
}

func (c *MemoryController) queue(eventID string) *eventQueue {
	q, ok := c.events[eventID]
	if !ok {
		q = &eventQueue{
			admitted: make(map[string]*models.QueueToken),
			users:    make(map[string]string),
		}
		c.events[eventID] = q
	}
	return q
}

func (c *MemoryController) lapsed(t *models.QueueToken, now time.Time) bool {
	return t.AdmittedAt != nil && !now.Before(t.AdmittedAt.Add(c.cfg.GraceWindow))
}

func (c *MemoryController) expireLapsed(q *eventQueue, now time.Time) {
	for id, t := range q.admitted {
		if c.lapsed(t, now) {
			t.State = models.QueueExpired
			delete(q.admitted, id)
			if q.users[t.UserID] == id {
				delete(q.users, t.UserID)
			}
		}
	}
}

func (c *MemoryController) Enqueue(ctx context.Context, eventID, userID string) (models.QueueToken, error) {
	if eventID == "" || userID == "" {
		return models.QueueToken{}, apperrors.ErrInvalidRequest
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	q := c.queue(eventID)
	c.expireLapsed(q, now)

	if id, ok := q.users[userID]; ok {
		if t := c.tokens[id]; t != nil && (t.State == models.QueueWaiting || t.State == models.QueueAdmitted) {
			return *t, nil
		}
	}

	q.seq++
	t := &models.QueueToken{
		Token:    uuid.New().String(),
		EventID:  eventID,
		UserID:   userID,
		Position: q.seq,
		State:    models.QueueWaiting,
		IssuedAt: now,
	}
	c.tokens[t.Token] = t
	q.waiting = append(q.waiting, t)
	q.users[userID] = t.Token

	c.admit(q, len(q.waiting), now)
	return *t, nil
}

func (c *MemoryController) Admit(ctx context.Context, eventID string, batch int) ([]models.QueueToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.events[eventID]
	if !ok {
		return nil, nil
	}
	now := c.now()
	c.expireLapsed(q, now)
	return c.admit(q, batch, now), nil
}

func (c *MemoryController) admit(q *eventQueue, batch int, now time.Time) []models.QueueToken {
	room := c.cfg.Capacity - len(q.admitted)
	n := min(room, batch, len(q.waiting))
	if n <= 0 {
		return nil
	}

	out := make([]models.QueueToken, 0, n)
	for _, t := range q.waiting[:n] {
		at := now
		t.State = models.QueueAdmitted
		t.AdmittedAt = &at
		q.admitted[t.Token] = t
		out = append(out, *t)
	}
	q.waiting = q.waiting[n:]
	return out
}

func (c *MemoryController) status(t *models.QueueToken, now time.Time) models.QueueStatus {
	status := models.QueueStatus{
		Token:      t.Token,
		EventID:    t.EventID,
		Position:   t.Position,
		State:      t.State,
		AdmittedAt: t.AdmittedAt,
		GraceUntil: graceUntil(t.AdmittedAt, c.cfg.GraceWindow),
	}

	switch t.State {
	case models.QueueAdmitted:
		if c.lapsed(t, now) {
			status.State = models.QueueExpired
		} else {
			status.Admitted = true
		}
	case models.QueueWaiting:
		q := c.events[t.EventID]
		status.Ahead = int64(sort.Search(len(q.waiting), func(i int) bool {
			return q.waiting[i].Position >= t.Position
		}))
	}
	return status
}

func (c *MemoryController) Status(ctx context.Context, token string) (models.QueueStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tokens[token]
	if !ok {
		return models.QueueStatus{}, apperrors.ErrQueueTokenInvalid
	}
	return c.status(t, c.now()), nil
}

func (c *MemoryController) Validate(ctx context.Context, token, eventID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tokens[token]
	if !ok {
		return apperrors.ErrQueueTokenInvalid
	}
	return check(c.status(t, c.now()), *t, eventID, userID)
}

func (c *MemoryController) Complete(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tokens[token]
	if !ok {
		return apperrors.ErrQueueTokenInvalid
	}

	q := c.events[t.EventID]
	switch t.State {
	case models.QueueWaiting:
		i := sort.Search(len(q.waiting), func(i int) bool { return q.waiting[i].Position >= t.Position })
		if i < len(q.waiting) && q.waiting[i].Token == token {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
		}
	case models.QueueAdmitted:
		delete(q.admitted, token)
	default:
		return nil
	}

	t.State = models.QueueCompleted
	if q.users[t.UserID] == token {
		delete(q.users, t.UserID)
	}
	return nil
}

func (c *MemoryController) Events(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := make([]string, 0, len(c.events))
	for id := range c.events {
		events = append(events, id)
	}
	sort.Strings(events)
	return events, nil
}

func (c *MemoryController) Waiting(ctx context.Context, eventID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.events[eventID]
	if !ok {
		return 0, nil
	}
	return int64(len(q.waiting)), nil
}

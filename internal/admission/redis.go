package admission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

// Every queue mutation is one Lua script, so the cap and the position counter
// change atomically on the server. Token hashes are addressed through ARGV, which
// assumes a single (non-cluster) Redis.

// KEYS: users, seq, waiting, admitted, events
// ARGV: event_id, user_id, new_token, now_ms, grace_ms, ttl_sec, token_key_prefix
var enqueueScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[1], ARGV[2])
if existing then
  local tkey = ARGV[7] .. existing
  local state = redis.call('HGET', tkey, 'state')
  local pos = redis.call('HGET', tkey, 'position') or ''
  local issued = redis.call('HGET', tkey, 'issued_at') or ''
  if state == 'WAITING' then
    return {existing, pos, state, '', issued}
  end
  if state == 'ADMITTED' then
    local at = redis.call('HGET', tkey, 'admitted_at') or '0'
    if tonumber(at) + tonumber(ARGV[5]) > tonumber(ARGV[4]) then
      return {existing, pos, state, at, issued}
    end
    redis.call('ZREM', KEYS[4], existing)
    redis.call('HSET', tkey, 'state', 'EXPIRED')
  end
  redis.call('HDEL', KEYS[1], ARGV[2])
end
local pos = redis.call('INCR', KEYS[2])
local tkey = ARGV[7] .. ARGV[3]
redis.call('HSET', tkey, 'event_id', ARGV[1], 'user_id', ARGV[2], 'position', pos, 'issued_at', ARGV[4], 'state', 'WAITING')
redis.call('EXPIRE', tkey, ARGV[6])
redis.call('ZADD', KEYS[3], pos, ARGV[3])
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('SADD', KEYS[5], ARGV[1])
return {ARGV[3], tostring(pos), 'WAITING', '', ARGV[4]}
`)

// KEYS: waiting, admitted, users
// ARGV: now_ms, grace_ms, capacity, batch, token_key_prefix
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local lapsed = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', tostring(now - tonumber(ARGV[2])))
for _, t in ipairs(lapsed) do
  redis.call('ZREM', KEYS[2], t)
  local tkey = ARGV[5] .. t
  if redis.call('EXISTS', tkey) == 1 then
    redis.call('HSET', tkey, 'state', 'EXPIRED')
    local user = redis.call('HGET', tkey, 'user_id')
    if user and redis.call('HGET', KEYS[3], user) == t then
      redis.call('HDEL', KEYS[3], user)
    end
  end
end
local n = math.min(tonumber(ARGV[3]) - redis.call('ZCARD', KEYS[2]), tonumber(ARGV[4]))
local out = {}
while n > 0 do
  local head = redis.call('ZRANGE', KEYS[1], 0, 0)
  if #head == 0 then
    break
  end
  local t = head[1]
  redis.call('ZREM', KEYS[1], t)
  local tkey = ARGV[5] .. t
  if redis.call('EXISTS', tkey) == 1 then
    redis.call('HSET', tkey, 'state', 'ADMITTED', 'admitted_at', ARGV[1])
    redis.call('ZADD', KEYS[2], now, t)
    table.insert(out, t)
    n = n - 1
  end
end
return out
`)

// KEYS: waiting, admitted, users
// ARGV: token, token_key
var completeScript = redis.NewScript(`
local state = redis.call('HGET', ARGV[2], 'state')
if not state then
  return -1
end
if state ~= 'WAITING' and state ~= 'ADMITTED' then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', ARGV[2], 'state', 'COMPLETED')
local user = redis.call('HGET', ARGV[2], 'user_id')
if user and redis.call('HGET', KEYS[3], user) == ARGV[1] then
  redis.call('HDEL', KEYS[3], user)
end
return 1
`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings, failing fast when Redis is unreachable
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

type RedisController struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

func NewRedisController(client *redis.Client, cfg Config) *RedisController {
	return &RedisController{client: client, cfg: cfg, now: time.Now}
}

func (c *RedisController) eventKey(eventID, suffix string) string {
	return fmt.Sprintf("%s:event:%s:%s", c.cfg.KeyPrefix, eventID, suffix)
}

func (c *RedisController) tokenPrefix() string {
	return c.cfg.KeyPrefix + ":token:"
}

func (c *RedisController) eventsKey() string {
	return c.cfg.KeyPrefix + ":events"
}

func (c *RedisController) Enqueue(ctx context.Context, eventID, userID string) (models.QueueToken, error) {
	if eventID == "" || userID == "" {
		return models.QueueToken{}, apperrors.ErrInvalidRequest
	}

	keys := []string{
		c.eventKey(eventID, "users"),
		c.eventKey(eventID, "seq"),
		c.eventKey(eventID, "waiting"),
		c.eventKey(eventID, "admitted"),
		c.eventsKey(),
	}
	reply, err := enqueueScript.Run(ctx, c.client, keys,
		eventID,
		userID,
		uuid.New().String(),
		c.now().UnixMilli(),
		c.cfg.GraceWindow.Milliseconds(),
		int64(c.cfg.TokenTTL.Seconds()),
		c.tokenPrefix(),
	).StringSlice()
	if err != nil {
		return models.QueueToken{}, fmt.Errorf("%w: enqueue: %v", apperrors.ErrServiceUnavailable, err)
	}
	if len(reply) != 5 {
		return models.QueueToken{}, fmt.Errorf("%w: unexpected enqueue reply", apperrors.ErrServiceUnavailable)
	}

	token := models.QueueToken{
		Token:    reply[0],
		EventID:  eventID,
		UserID:   userID,
		Position: parseInt(reply[1]),
		State:    models.QueueState(reply[2]),
		IssuedAt: parseMillis(reply[4]),
	}
	if reply[3] != "" {
		at := parseMillis(reply[3])
		token.AdmittedAt = &at
	}
	if token.State != models.QueueWaiting {
		return token, nil
	}

	if _, err := c.Admit(ctx, eventID, c.cfg.Capacity); err != nil {
		return token, nil
	}
	if owner, err := c.lookup(ctx, token.Token); err == nil {
		return owner, nil
	}
	return token, nil
}

func (c *RedisController) Admit(ctx context.Context, eventID string, batch int) ([]models.QueueToken, error) {
	if batch <= 0 {
		return nil, nil
	}

	keys := []string{
		c.eventKey(eventID, "waiting"),
		c.eventKey(eventID, "admitted"),
		c.eventKey(eventID, "users"),
	}
	ids, err := admitScript.Run(ctx, c.client, keys,
		c.now().UnixMilli(),
		c.cfg.GraceWindow.Milliseconds(),
		c.cfg.Capacity,
		batch,
		c.tokenPrefix(),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: admit: %v", apperrors.ErrServiceUnavailable, err)
	}

	admitted := make([]models.QueueToken, 0, len(ids))
	for _, id := range ids {
		t, err := c.lookup(ctx, id)
		if err != nil {
			continue
		}
		admitted = append(admitted, t)
	}
	return admitted, nil
}

func (c *RedisController) lookup(ctx context.Context, token string) (models.QueueToken, error) {
	if token == "" {
		return models.QueueToken{}, apperrors.ErrQueueTokenInvalid
	}

	fields, err := c.client.HGetAll(ctx, c.tokenPrefix()+token).Result()
	if err != nil {
		return models.QueueToken{}, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}
	if len(fields) == 0 {
		return models.QueueToken{}, apperrors.ErrQueueTokenInvalid
	}

	t := models.QueueToken{
		Token:    token,
		EventID:  fields["event_id"],
		UserID:   fields["user_id"],
		Position: parseInt(fields["position"]),
		State:    models.QueueState(fields["state"]),
		IssuedAt: parseMillis(fields["issued_at"]),
	}
	if v := fields["admitted_at"]; v != "" {
		at := parseMillis(v)
		t.AdmittedAt = &at
	}
	return t, nil
}

func (c *RedisController) status(ctx context.Context, t models.QueueToken) (models.QueueStatus, error) {
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
		if status.GraceUntil != nil && c.now().Before(*status.GraceUntil) {
			status.Admitted = true
		} else {
			status.State = models.QueueExpired
		}
	case models.QueueWaiting:
		rank, err := c.client.ZRank(ctx, c.eventKey(t.EventID, "waiting"), t.Token).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return models.QueueStatus{}, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
		}
		status.Ahead = rank
	}
	return status, nil
}

func (c *RedisController) Status(ctx context.Context, token string) (models.QueueStatus, error) {
	t, err := c.lookup(ctx, token)
	if err != nil {
		return models.QueueStatus{}, err
	}
	return c.status(ctx, t)
}

func (c *RedisController) Validate(ctx context.Context, token, eventID, userID string) error {
	t, err := c.lookup(ctx, token)
	if err != nil {
		return err
	}
	status, err := c.status(ctx, t)
	if err != nil {
		return err
	}
	return check(status, t, eventID, userID)
}

func (c *RedisController) Complete(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.ErrQueueTokenInvalid
	}

	eventID, err := c.client.HGet(ctx, c.tokenPrefix()+token, "event_id").Result()
	if errors.Is(err, redis.Nil) {
		return apperrors.ErrQueueTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}

	keys := []string{
		c.eventKey(eventID, "waiting"),
		c.eventKey(eventID, "admitted"),
		c.eventKey(eventID, "users"),
	}
	n, err := completeScript.Run(ctx, c.client, keys, token, c.tokenPrefix()+token).Int()
	if err != nil {
		return fmt.Errorf("%w: complete: %v", apperrors.ErrServiceUnavailable, err)
	}
	if n < 0 {
		return apperrors.ErrQueueTokenInvalid
	}
	return nil
}

func (c *RedisController) Events(ctx context.Context) ([]string, error) {
	events, err := c.client.SMembers(ctx, c.eventsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}
	return events, nil
}

func (c *RedisController) Waiting(ctx context.Context, eventID string) (int64, error) {
	n, err := c.client.ZCard(ctx, c.eventKey(eventID, "waiting")).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}
	return n, nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseMillis(s string) time.Time {
	return time.UnixMilli(parseInt(s))
}

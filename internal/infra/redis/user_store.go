package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"nova-battle-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// UserStore keeps profiles in Redis:
//
//	user:{name}                HASH of gamification scalars
//	user:{name}:history        HASH battle id -> JSON history entry
//	user:{name}:history:order  ZSET of battle ids scored by date (ms)
type UserStore struct {
	client *redis.Client
}

func NewUserStore(client *redis.Client) *UserStore {
	return &UserStore{client: client}
}

// applyScript applies one ProfileUpdate atomically. ARGV:
// 1 username, 2 xp, 3 coins, 4 first, 5 blend, 6 accuracy, 7 mastery, 8 focus,
// 9 battle id, 10 entry JSON, 11 date ms, 12 cap.
var applyScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'username', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'xp', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'coins', ARGV[3])
if ARGV[4] == '1' then
  local played = tonumber(redis.call('HGET', KEYS[1], 'battlesPlayed') or '0')
  local w = tonumber(ARGV[5])
  local fields = {'accuracyScore', 'masteryScore', 'focusScore'}
  for i, field in ipairs(fields) do
    local v = tonumber(ARGV[5 + i])
    if played > 0 then
      local cur = tonumber(redis.call('HGET', KEYS[1], field) or '0')
      v = cur * (1 - w) + v * w
    end
    redis.call('HSET', KEYS[1], field, tostring(v))
  end
  redis.call('HINCRBY', KEYS[1], 'battlesPlayed', 1)
end
redis.call('HSET', KEYS[2], ARGV[9], ARGV[10])
redis.call('ZADD', KEYS[3], ARGV[11], ARGV[9])
local cap = tonumber(ARGV[12])
if cap > 0 then
  local n = redis.call('ZCARD', KEYS[3])
  if n > cap then
    local old = redis.call('ZRANGE', KEYS[3], 0, n - cap - 1)
    for _, id in ipairs(old) do
      redis.call('HDEL', KEYS[2], id)
    end
    redis.call('ZREMRANGEBYRANK', KEYS[3], 0, n - cap - 1)
  end
end
return 1
`)

func (s *UserStore) ApplyBattleResult(ctx context.Context, u domain.ProfileUpdate) error {
	entry, err := json.Marshal(u.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	first := "0"
	if u.First {
		first = "1"
	}
	keys := []string{userKey(u.Username), historyKey(u.Username), historyOrderKey(u.Username)}
	err = applyScript.Run(ctx, s.client, keys,
		u.Username, u.XPDelta, u.CoinsDelta, first, u.Blend,
		u.Accuracy, u.Mastery, u.Focus,
		u.History.BattleID, entry, u.History.Date.UnixMilli(), u.HistoryCap,
	).Err()
	if err != nil {
		return fmt.Errorf("apply battle result: %w", err)
	}
	return nil
}

func (s *UserStore) History(ctx context.Context, username string, limit, offset int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return []domain.HistoryEntry{}, nil
	}
	ids, err := s.client.ZRevRange(ctx, historyOrderKey(username), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("history order: %w", err)
	}
	if len(ids) == 0 {
		return []domain.HistoryEntry{}, nil
	}
	raws, err := s.client.HMGet(ctx, historyKey(username), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("history entries: %w", err)
	}
	out := make([]domain.HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var h domain.HistoryEntry
		if err := json.Unmarshal([]byte(str), &h); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *UserStore) Stats(ctx context.Context, username string) (domain.UserStats, error) {
	fields, err := s.client.HGetAll(ctx, userKey(username)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.UserStats{}, fmt.Errorf("load user: %w", err)
	}
	if len(fields) == 0 {
		return domain.UserStats{}, domain.ErrUserNotFound
	}
	return domain.UserStats{
		Username:      username,
		XP:            atoi(fields["xp"]),
		Coins:         atoi(fields["coins"]),
		AccuracyScore: atof(fields["accuracyScore"]),
		MasteryScore:  atof(fields["masteryScore"]),
		FocusScore:    atof(fields["focusScore"]),
		BattlesPlayed: atoi(fields["battlesPlayed"]),
	}, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func userKey(name string) string { return "user:" + name }
func historyKey(name string) string { return "user:" + name + ":history" }
func historyOrderKey(name string) string { return "user:" + name + ":history:order" }

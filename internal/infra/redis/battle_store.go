package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"nova-battle-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// BattleStore keeps battles in Redis. Layout:
//
//	battle:{id}          JSON of the immutable battle fields
//	battle:{id}:status   current status, changed only via transitionScript
//	battle:{id}:players  HASH username -> JSON player entry
//	battle:code:{code}   battle id, claimed with SETNX
//	battles:recent       ZSET of ids scored by creation time (ms)
type BattleStore struct {
	client *redis.Client
}

func NewBattleStore(client *redis.Client) *BattleStore {
	return &BattleStore{client: client}
}

// transitionScript sets KEYS[1] to ARGV[1] if its value is one of ARGV[2:].
// Returns -1 when the key is missing.
var transitionScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return -1
end
for i = 2, #ARGV do
  if cur == ARGV[i] then
    redis.call('SET', KEYS[1], ARGV[1])
    return 1
  end
end
return 0
`)

func (s *BattleStore) Create(ctx context.Context, battle domain.Battle) error {
	claimed, err := s.client.SetNX(ctx, codeKey(battle.Code), battle.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("claim code: %w", err)
	}
	if !claimed {
		return domain.ErrBattleCodeTaken
	}

	record := battle
	record.Players = nil
	record.Status = ""
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal battle: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, battleKey(battle.ID), data, 0)
		pipe.Set(ctx, statusKey(battle.ID), string(battle.Status), 0)
		pipe.ZAdd(ctx, recentKey, redis.Z{Score: float64(battle.CreatedAt.UnixMilli()), Member: battle.ID})
		for _, p := range battle.Players {
			raw, err := json.Marshal(p)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, playersKey(battle.ID), p.Username, raw)
		}
		return nil
	})
	if err != nil {
		_ = s.client.Del(ctx, codeKey(battle.Code)).Err()
		return fmt.Errorf("store battle: %w", err)
	}
	return nil
}

func (s *BattleStore) GetByID(ctx context.Context, id string) (domain.Battle, error) {
	pipe := s.client.Pipeline()
	rawCmd := pipe.Get(ctx, battleKey(id))
	statusCmd := pipe.Get(ctx, statusKey(id))
	playersCmd := pipe.HGetAll(ctx, playersKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.Battle{}, fmt.Errorf("load battle: %w", err)
	}

	raw, err := rawCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	if err != nil {
		return domain.Battle{}, err
	}
	var battle domain.Battle
	if err := json.Unmarshal(raw, &battle); err != nil {
		return domain.Battle{}, fmt.Errorf("unmarshal battle: %w", err)
	}
	battle.Status = domain.Status(statusCmd.Val())

	battle.Players = make([]domain.Player, 0, len(playersCmd.Val()))
	for _, v := range playersCmd.Val() {
		var p domain.Player
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return domain.Battle{}, fmt.Errorf("unmarshal player: %w", err)
		}
		battle.Players = append(battle.Players, p)
	}
	// hashes are unordered; present players in join order
	sort.Slice(battle.Players, func(i, j int) bool {
		a, b := battle.Players[i], battle.Players[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.Username < b.Username
	})
	return battle, nil
}

func (s *BattleStore) GetByCode(ctx context.Context, code string) (domain.Battle, error) {
	id, err := s.client.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	if err != nil {
		return domain.Battle{}, fmt.Errorf("resolve code: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *BattleStore) ListRecent(ctx context.Context, limit int) ([]domain.Battle, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, recentKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	out := make([]domain.Battle, 0, len(ids))
	for _, id := range ids {
		b, err := s.GetByID(ctx, id)
		if errors.Is(err, domain.ErrBattleNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *BattleStore) AddPlayer(ctx context.Context, battleID string, player domain.Player) (bool, error) {
	if err := s.mustExist(ctx, battleID); err != nil {
		return false, err
	}
	raw, err := json.Marshal(player)
	if err != nil {
		return false, fmt.Errorf("marshal player: %w", err)
	}
	added, err := s.client.HSetNX(ctx, playersKey(battleID), player.Username, raw).Result()
	if err != nil {
		return false, fmt.Errorf("add player: %w", err)
	}
	return added, nil
}

func (s *BattleStore) UpsertPlayer(ctx context.Context, battleID string, player domain.Player) error {
	if err := s.mustExist(ctx, battleID); err != nil {
		return err
	}
	raw, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("marshal player: %w", err)
	}
	return s.client.HSet(ctx, playersKey(battleID), player.Username, raw).Err()
}

func (s *BattleStore) TransitionStatus(ctx context.Context, battleID string, from []domain.Status, to domain.Status) (bool, error) {
	args := make([]interface{}, 0, len(from)+1)
	args = append(args, string(to))
	for _, st := range from {
		args = append(args, string(st))
	}
	res, err := transitionScript.Run(ctx, s.client, []string{statusKey(battleID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	if res < 0 {
		return false, domain.ErrBattleNotFound
	}
	return res == 1, nil
}

func (s *BattleStore) mustExist(ctx context.Context, battleID string) error {
	n, err := s.client.Exists(ctx, battleKey(battleID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrBattleNotFound
	}
	return nil
}

const recentKey = "battles:recent"

func battleKey(id string) string { return "battle:" + id }
func statusKey(id string) string { return "battle:" + id + ":status" }
func playersKey(id string) string { return "battle:" + id + ":players" }
func codeKey(code string) string { return "battle:code:" + code }

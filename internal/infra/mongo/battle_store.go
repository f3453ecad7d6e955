package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nova-battle-service/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type battleDoc struct {
	ID        string            `bson:"_id"`
	Code      string            `bson:"battleCode"`
	Name      string            `bson:"battleName"`
	Tags      []string          `bson:"tags"`
	Questions []domain.Question `bson:"questions"`
	Players   []domain.Player   `bson:"players"`
	Status    string            `bson:"status"`
	CreatedBy string            `bson:"createdBy"`
	CreatedAt time.Time         `bson:"createdAt"`
	StartTime *time.Time        `bson:"startTime,omitempty"`
	EndTime   *time.Time        `bson:"endTime,omitempty"`
}

func (d battleDoc) toDomain() domain.Battle {
	players := d.Players
	if players == nil {
		players = []domain.Player{}
	}
	return domain.Battle{
		ID:        d.ID,
		Code:      d.Code,
		Name:      d.Name,
		Tags:      d.Tags,
		Questions: d.Questions,
		Players:   players,
		Status:    domain.Status(d.Status),
		CreatedBy: d.CreatedBy,
		CreatedAt: d.CreatedAt,
		StartTime: d.StartTime,
		EndTime:   d.EndTime,
	}
}

// BattleStore keeps one document per battle in the battles collection. Player
// entries are embedded and only ever changed with single-document conditional updates.
type BattleStore struct {
	coll *mongo.Collection
}

func NewBattleStore(db *mongo.Database) *BattleStore {
	return &BattleStore{coll: db.Collection("battles")}
}

// EnsureIndexes creates the unique code index and the recency index.
func (s *BattleStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "battleCode", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	return err
}

func (s *BattleStore) Create(ctx context.Context, battle domain.Battle) error {
	doc := battleDoc{
		ID:        battle.ID,
		Code:      battle.Code,
		Name:      battle.Name,
		Tags:      battle.Tags,
		Questions: battle.Questions,
		Players:   battle.Players,
		Status:    string(battle.Status),
		CreatedBy: battle.CreatedBy,
		CreatedAt: battle.CreatedAt,
		StartTime: battle.StartTime,
		EndTime:   battle.EndTime,
	}
	if doc.Players == nil {
		doc.Players = []domain.Player{}
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrBattleCodeTaken
		}
		return fmt.Errorf("insert battle: %w", err)
	}
	return nil
}

func (s *BattleStore) GetByID(ctx context.Context, id string) (domain.Battle, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *BattleStore) GetByCode(ctx context.Context, code string) (domain.Battle, error) {
	return s.findOne(ctx, bson.D{{Key: "battleCode", Value: code}})
}

func (s *BattleStore) findOne(ctx context.Context, filter bson.D) (domain.Battle, error) {
	var doc battleDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	if err != nil {
		return domain.Battle{}, fmt.Errorf("find battle: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *BattleStore) ListRecent(ctx context.Context, limit int) ([]domain.Battle, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find battles: %w", err)
	}
	var docs []battleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode battles: %w", err)
	}
	out := make([]domain.Battle, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *BattleStore) AddPlayer(ctx context.Context, battleID string, player domain.Player) (bool, error) {
	pushed, err := s.pushIfAbsent(ctx, battleID, player)
	if err != nil || pushed {
		return pushed, err
	}
	return false, s.mustExist(ctx, battleID)
}

func (s *BattleStore) UpsertPlayer(ctx context.Context, battleID string, player domain.Player) error {
	// A concurrent join can land between the two updates; retrying settles it.
	for attempt := 0; attempt < 3; attempt++ {
		res, err := s.coll.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: battleID}, {Key: "players.username", Value: player.Username}},
			bson.D{{Key: "$set", Value: bson.D{{Key: "players.$", Value: player}}}},
		)
		if err != nil {
			return fmt.Errorf("update player: %w", err)
		}
		if res.MatchedCount == 1 {
			return nil
		}
		pushed, err := s.pushIfAbsent(ctx, battleID, player)
		if err != nil {
			return err
		}
		if pushed {
			return nil
		}
		if err := s.mustExist(ctx, battleID); err != nil {
			return err
		}
	}
	return fmt.Errorf("upsert player %s: too much contention", player.Username)
}

func (s *BattleStore) pushIfAbsent(ctx context.Context, battleID string, player domain.Player) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: battleID},
			{Key: "players.username", Value: bson.D{{Key: "$ne", Value: player.Username}}},
		},
		bson.D{{Key: "$push", Value: bson.D{{Key: "players", Value: player}}}},
	)
	if err != nil {
		return false, fmt.Errorf("push player: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (s *BattleStore) TransitionStatus(ctx context.Context, battleID string, from []domain.Status, to domain.Status) (bool, error) {
	allowed := make(bson.A, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: battleID},
			{Key: "status", Value: bson.D{{Key: "$in", Value: allowed}}},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: string(to)}}}},
	)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, battleID)
}

func (s *BattleStore) mustExist(ctx context.Context, battleID string) error {
	n, err := s.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: battleID}}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("count battle: %w", err)
	}
	if n == 0 {
		return domain.ErrBattleNotFound
	}
	return nil
}

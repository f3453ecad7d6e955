package mongo

import (
	"context"
	"errors"
	"fmt"

	"nova-battle-service/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type userDoc struct {
	Username      string  `bson:"_id"`
	XP            int     `bson:"xp"`
	Coins         int     `bson:"coins"`
	AccuracyScore float64 `bson:"accuracyScore"`
	MasteryScore  float64 `bson:"masteryScore"`
	FocusScore    float64 `bson:"focusScore"`
	BattlesPlayed int     `bson:"battlesPlayed"`
}

// UserStore keeps one document per user with an embedded, capped battleHistory array.
type UserStore struct {
	coll *mongo.Collection
}

func NewUserStore(db *mongo.Database) *UserStore {
	return &UserStore{coll: db.Collection("users")}
}

func (s *UserStore) ApplyBattleResult(ctx context.Context, u domain.ProfileUpdate) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: u.Username}},
		applyPipeline(u),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("apply battle result: %w", err)
	}
	return nil
}

// applyPipeline builds a single $set stage; every expression reads the document as it
// was before the update, so battlesPlayed below is the previous count.
func applyPipeline(u domain.ProfileUpdate) mongo.Pipeline {
	set := bson.D{
		{Key: "xp", Value: addTo("$xp", u.XPDelta)},
		{Key: "coins", Value: addTo("$coins", u.CoinsDelta)},
	}
	if u.First {
		set = append(set,
			bson.E{Key: "accuracyScore", Value: blendExpr("$accuracyScore", u.Accuracy, u.Blend)},
			bson.E{Key: "masteryScore", Value: blendExpr("$masteryScore", u.Mastery, u.Blend)},
			bson.E{Key: "focusScore", Value: blendExpr("$focusScore", u.Focus, u.Blend)},
			bson.E{Key: "battlesPlayed", Value: addTo("$battlesPlayed", 1)},
		)
	}

	history := bson.D{{Key: "$concatArrays", Value: bson.A{
		bson.D{{Key: "$filter", Value: bson.D{
			{Key: "input", Value: ifNull("$battleHistory", bson.A{})},
			{Key: "as", Value: "h"},
			{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$h.battleId", u.History.BattleID}}}},
		}}},
		bson.A{u.History},
	}}}
	if u.HistoryCap > 0 {
		history = bson.D{{Key: "$slice", Value: bson.A{history, -u.HistoryCap}}}
	}
	set = append(set, bson.E{Key: "battleHistory", Value: history})

	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func ifNull(field string, fallback interface{}) bson.D {
	return bson.D{{Key: "$ifNull", Value: bson.A{field, fallback}}}
}

func addTo(field string, delta int) bson.D {
	return bson.D{{Key: "$add", Value: bson.A{ifNull(field, 0), delta}}}
}

func blendExpr(field string, sample, weight float64) bson.D {
	blended := bson.D{{Key: "$add", Value: bson.A{
		bson.D{{Key: "$multiply", Value: bson.A{ifNull(field, 0.0), 1 - weight}}},
		sample * weight,
	}}}
	return bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$gt", Value: bson.A{ifNull("$battlesPlayed", 0), 0}}},
		blended,
		sample,
	}}}
}

func (s *UserStore) History(ctx context.Context, username string, limit, offset int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return []domain.HistoryEntry{}, nil
	}
	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "_id", Value: username}}}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "h", Value: bson.D{{Key: "$slice", Value: bson.A{
				bson.D{{Key: "$reverseArray", Value: ifNull("$battleHistory", bson.A{})}},
				offset,
				limit,
			}}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate history: %w", err)
	}
	var rows []struct {
		H []domain.HistoryEntry `bson:"h"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if len(rows) == 0 || rows[0].H == nil {
		return []domain.HistoryEntry{}, nil
	}
	return rows[0].H, nil
}

func (s *UserStore) Stats(ctx context.Context, username string) (domain.UserStats, error) {
	var doc userDoc
	err := s.coll.FindOne(ctx,
		bson.D{{Key: "_id", Value: username}},
		options.FindOne().SetProjection(bson.D{{Key: "battleHistory", Value: 0}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.UserStats{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("find user: %w", err)
	}
	return domain.UserStats{
		Username:      doc.Username,
		XP:            doc.XP,
		Coins:         doc.Coins,
		AccuracyScore: doc.AccuracyScore,
		MasteryScore:  doc.MasteryScore,
		FocusScore:    doc.FocusScore,
		BattlesPlayed: doc.BattlesPlayed,
	}, nil
}

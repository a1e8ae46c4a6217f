package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"event-fetch/internal/event_fetch/model"
)

const eventsColl = "events"

// Mongo 基于 MongoDB 的事件存储
type Mongo struct {
	DB     *mongo.Database
	events *mongo.Collection
	locks  *kmutex
}

// MustMongo 连接 MongoDB 并准备索引，失败直接 panic（进程起不来没有降级的意义）
func MustMongo(ctx context.Context, host, dbname, username, password, authSource string) *Mongo {
	clientOpts := options.Client().
		ApplyURI("mongodb://" + host).
		SetAuth(options.Credential{
			Username:   username,
			Password:   password,
			AuthSource: authSource,
		})

	cli, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		panic(err)
	}
	if err = cli.Ping(ctx, nil); err != nil {
		panic(err)
	}

	db := cli.Database(dbname)
	s := &Mongo{
		DB:     db,
		events: db.Collection(eventsColl),
		locks:  newKmutex(),
	}
	s.ensureIndexes(ctx)
	return s
}

// ensureIndexes 常用查询索引；指纹是 _id，唯一性由主键保证
func (s *Mongo) ensureIndexes(ctx context.Context) {
	_, _ = s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "week_identifier", Value: 1}}},
		{Keys: bson.D{{Key: "location", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "enrichment_status", Value: 1}}},
	})
}

// Ping 健康检查
func (s *Mongo) Ping(ctx context.Context) error {
	return s.DB.Client().Ping(ctx, nil)
}

// Upsert 指纹锁内做读-合-写，同一指纹不可能并发写出重复行
func (s *Mongo) Upsert(ctx context.Context, ev model.Event, force bool) (Outcome, error) {
	s.locks.Lock(ev.Fingerprint)
	defer s.locks.Unlock(ev.Fingerprint)

	var existing model.Event
	err := s.events.FindOne(ctx, bson.M{"_id": ev.Fingerprint}).Decode(&existing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := s.events.InsertOne(ctx, ev); err != nil {
			return Unchanged, fmt.Errorf("insert event: %w", err)
		}
		return Inserted, nil
	}
	if err != nil {
		return Unchanged, fmt.Errorf("read existing event: %w", err)
	}

	merged := Merge(existing, ev, force)
	if _, err := s.events.ReplaceOne(ctx, bson.M{"_id": ev.Fingerprint}, merged); err != nil {
		return Unchanged, fmt.Errorf("replace event: %w", err)
	}
	if Changed(existing, merged) {
		return Updated, nil
	}
	return Unchanged, nil
}

// Query 周/地点/分类下推给 Mongo，价格是自由文本，在内存里过滤
func (s *Mongo) Query(ctx context.Context, f Filter) ([]model.Event, error) {
	filter := bson.M{}
	if wk := f.WeekIdentifier(); wk != "" {
		filter["week_identifier"] = wk
	}

	cur, err := s.events.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func(cur *mongo.Cursor, ctx context.Context) {
		if err := cur.Close(ctx); err != nil {
		}
	}(cur, ctx)

	var out []model.Event
	for cur.Next(ctx) {
		var ev model.Event
		if err := cur.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if !MatchField(ev.Location, f.Location) ||
			!MatchField(ev.Category, f.Category) ||
			!MatchPrice(ev.Price, f.Price) {
			continue
		}
		out = append(out, ev)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// Pending 取还需要补全的事件
func (s *Mongo) Pending(ctx context.Context, limit int) ([]model.Event, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.events.Find(ctx, bson.M{"enrichment_status": bson.M{"$ne": model.EnrichmentComplete}}, opts)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer func(cur *mongo.Cursor, ctx context.Context) {
		if err := cur.Close(ctx); err != nil {
		}
	}(cur, ctx)

	var out []model.Event
	for cur.Next(ctx) {
		var ev model.Event
		if err := cur.Decode(&ev); err != nil {
			return nil, fmt.Errorf("decode pending event: %w", err)
		}
		if ev.NeedsEnrichment() {
			out = append(out, ev)
		}
	}
	return out, cur.Err()
}

// SetEnrichment 只写非空字段，维持补全结果的单调性
func (s *Mongo) SetEnrichment(ctx context.Context, fingerprint string, upd EnrichmentUpdate) error {
	s.locks.Lock(fingerprint)
	defer s.locks.Unlock(fingerprint)

	set := bson.M{}
	if upd.NameLocalized != "" {
		set["name_localized"] = upd.NameLocalized
	}
	if upd.DescriptionLocalized != "" {
		set["description_localized"] = upd.DescriptionLocalized
	}
	if upd.DescriptionDetail != "" {
		set["description_detail"] = upd.DescriptionDetail
	}
	if upd.Status != "" {
		set["enrichment_status"] = upd.Status
	}
	if len(set) == 0 {
		return nil
	}

	_, err := s.events.UpdateOne(ctx, bson.M{"_id": fingerprint}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("set enrichment: %w", err)
	}
	return nil
}

// Clear 清空事件集合
func (s *Mongo) Clear(ctx context.Context) error {
	if _, err := s.events.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

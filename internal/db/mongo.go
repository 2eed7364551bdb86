package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/02loveslollipop/plugmeter/internal/models"
)

const (
	defaultMongoDatabase = "tuya_energy"
	metaCollection       = "meta"
)

// Mongo keeps one readings_<deviceID> collection per device, indexed on timestamp.
type Mongo struct {
	client  *mongo.Client
	db      *mongo.Database
	indexed sync.Map // collection name -> struct{}
}

// NewMongo connects to MongoDB. The database name comes from the URI path.
func NewMongo(ctx context.Context, uri string, u *url.URL) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	return &Mongo{client: client, db: client.Database(mongoDatabaseName(u))}, nil
}

func mongoDatabaseName(u *url.URL) string {
	if u == nil {
		return defaultMongoDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDatabase
}

// CollectionName maps a device id to its readings collection. Letters, digits
// and '-' pass through; every other byte, '_' included, becomes "_xx" in hex,
// so distinct ids never share a collection.
func CollectionName(deviceID string) string {
	const hexdigits = "0123456789abcdef"
	var b strings.Builder
	b.WriteString("readings_")
	for i := 0; i < len(deviceID); i++ {
		c := deviceID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
			b.WriteByte(hexdigits[c>>4])
			b.WriteByte(hexdigits[c&0x0f])
		}
	}
	return b.String()
}

func (m *Mongo) collection(ctx context.Context, deviceID string) *mongo.Collection {
	name := CollectionName(deviceID)
	coll := m.db.Collection(name)
	if _, done := m.indexed.Load(name); !done {
		_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "timestamp", Value: 1}},
		})
		if err == nil {
			m.indexed.Store(name, struct{}{})
		}
	}
	return coll
}

// Append inserts one reading document.
func (m *Mongo) Append(ctx context.Context, deviceID string, r models.Reading) error {
	_, err := m.collection(ctx, deviceID).InsertOne(ctx, prepare(deviceID, r))
	return err
}

// AppendMany inserts readings unordered, like a bulk load.
func (m *Mongo) AppendMany(ctx context.Context, deviceID string, rs []models.Reading) error {
	if len(rs) == 0 {
		return nil
	}
	docs := make([]any, len(rs))
	for i, r := range rs {
		docs[i] = prepare(deviceID, r)
	}
	_, err := m.collection(ctx, deviceID).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

// Latest returns up to n newest readings in ascending order.
func (m *Mongo) Latest(ctx context.Context, deviceID string, n int) ([]models.Reading, error) {
	if n <= 0 {
		return []models.Reading{}, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(n))
	rs, err := m.find(ctx, deviceID, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	sortReadings(rs)
	return rs, nil
}

// Range returns readings between start and end inclusive.
func (m *Mongo) Range(ctx context.Context, deviceID string, start, end time.Time) ([]models.Reading, error) {
	filter := bson.D{{Key: "timestamp", Value: bson.D{
		{Key: "$gte", Value: start.UTC()},
		{Key: "$lte", Value: end.UTC()},
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	return m.find(ctx, deviceID, filter, opts)
}

// LastAtOrBefore returns the newest reading at or before t.
func (m *Mongo) LastAtOrBefore(ctx context.Context, deviceID string, t time.Time) (models.Reading, bool, error) {
	filter := bson.D{{Key: "timestamp", Value: bson.D{{Key: "$lte", Value: t.UTC()}}}}
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	var r models.Reading
	err := m.collection(ctx, deviceID).FindOne(ctx, filter, opts).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Reading{}, false, nil
	}
	if err != nil {
		return models.Reading{}, false, err
	}
	r.Timestamp = r.Timestamp.UTC()
	return r, true, nil
}

func (m *Mongo) find(ctx context.Context, deviceID string, filter bson.D, opts *options.FindOptionsBuilder) ([]models.Reading, error) {
	cursor, err := m.collection(ctx, deviceID).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]models.Reading, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Timestamp = out[i].Timestamp.UTC()
	}
	return out, nil
}

// ClaimMarker inserts {_id: key} into meta; a duplicate key means it was already claimed.
func (m *Mongo) ClaimMarker(ctx context.Context, key string) (bool, error) {
	_, err := m.db.Collection(metaCollection).InsertOne(ctx, bson.D{
		{Key: "_id", Value: key},
		{Key: "done", Value: true},
		{Key: "at", Value: time.Now().UTC()},
	})
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

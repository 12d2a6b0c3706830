package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"liveclass-backend/internal/models"
)

var tUUID = reflect.TypeOf(uuid.UUID{})

// MongoRegistry returns a bson registry that stores uuid.UUID as binary
// subtype 4 instead of an array of 16 ints.
func MongoRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(tUUID, bsoncodec.ValueEncoderFunc(encodeUUID))
	reg.RegisterTypeDecoder(tUUID, bsoncodec.ValueDecoderFunc(decodeUUID))
	return reg
}

func encodeUUID(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != tUUID {
		return bsoncodec.ValueEncoderError{Name: "encodeUUID", Types: []reflect.Type{tUUID}, Received: val}
	}
	u := val.Interface().(uuid.UUID)
	return vw.WriteBinaryWithSubtype(u[:], bsontype.BinaryUUID)
}

func decodeUUID(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != tUUID {
		return bsoncodec.ValueDecoderError{Name: "decodeUUID", Types: []reflect.Type{tUUID}, Received: val}
	}

	switch vr.Type() {
	case bsontype.Binary:
		data, subtype, err := vr.ReadBinary()
		if err != nil {
			return err
		}
		if subtype != bsontype.BinaryUUID && subtype != bsontype.BinaryUUIDOld {
			return fmt.Errorf("decodeUUID: unexpected binary subtype %#x", subtype)
		}
		u, err := uuid.FromBytes(data)
		if err != nil {
			return err
		}
		val.Set(reflect.ValueOf(u))
		return nil
	case bsontype.String:
		s, err := vr.ReadString()
		if err != nil {
			return err
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return err
		}
		val.Set(reflect.ValueOf(u))
		return nil
	case bsontype.Null:
		if err := vr.ReadNull(); err != nil {
			return err
		}
		val.Set(reflect.Zero(tUUID))
		return nil
	default:
		return fmt.Errorf("decodeUUID: cannot decode %v into uuid.UUID", vr.Type())
	}
}

// MongoCourseRepo stores each course as one document with its live sessions
// embedded, the layout the course platform has always used.
type MongoCourseRepo struct {
	coll *mongo.Collection
}

func NewMongoCourseRepo(db *mongo.Database) *MongoCourseRepo {
	return &MongoCourseRepo{coll: db.Collection("courses")}
}

// EnsureIndexes creates the lookup index used by owner filters.
func (r *MongoCourseRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "instructor_id", Value: 1}},
	})
	return err
}

func (r *MongoCourseRepo) Create(ctx context.Context, c *models.Course) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.LiveSessions == nil {
		c.LiveSessions = []models.LiveSession{}
	}
	now := time.Now().UTC()
	c.Version = 0
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.coll.InsertOne(ctx, c)
	return err
}

func (r *MongoCourseRepo) Load(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	var c models.Course
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.LiveSessions == nil {
		c.LiveSessions = []models.LiveSession{}
	}
	return &c, nil
}

// Save replaces the document only if its version still equals c.Version.
func (r *MongoCourseRepo) Save(ctx context.Context, c *models.Course) error {
	next := *c
	next.Version = c.Version + 1
	next.UpdatedAt = time.Now().UTC()

	res, err := r.coll.ReplaceOne(ctx, bson.M{"_id": c.ID, "version": c.Version}, &next)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.coll.CountDocuments(ctx, bson.M{"_id": c.ID})
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrCourseNotFound
		}
		return ErrVersionConflict
	}

	c.Version = next.Version
	c.UpdatedAt = next.UpdatedAt
	return nil
}

// FindByMeetingID returns the course whose live sessions reference the given
// provider meeting, matching the stored id or, for older records, the join link.
func (r *MongoCourseRepo) FindByMeetingID(ctx context.Context, meetingID string) (*models.Course, error) {
	link := joinLinkPattern(meetingID)
	filter := bson.M{"$or": bson.A{
		bson.M{"live_sessions.provider_meeting_id": meetingID},
		bson.M{"live_sessions.meeting_link": bson.M{"$regex": link}},
	}}
	var c models.Course
	err := r.coll.FindOne(ctx, filter).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *MongoCourseRepo) Find(ctx context.Context, filter models.SessionFilter) ([]*models.Course, error) {
	q := bson.M{}
	if filter.CourseID != nil {
		q["_id"] = *filter.CourseID
	}
	if filter.OwnerID != nil {
		q["instructor_id"] = *filter.OwnerID
	}

	cur, err := r.coll.Find(ctx, q, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var courses []*models.Course
	for cur.Next(ctx) {
		var c models.Course
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		courses = append(courses, &c)
	}
	return courses, cur.Err()
}

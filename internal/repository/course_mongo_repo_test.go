package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"liveclass-backend/internal/models"
)

func TestMongoRegistry_RoundTripsCourse(t *testing.T) {
	groupID := uuid.New()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	in := models.Course{
		ID:           uuid.New(),
		Title:        "Distributed Systems",
		InstructorID: uuid.New(),
		GroupID:      &groupID,
		LiveSessions: []models.LiveSession{{
			ID:                uuid.New(),
			StartTime:         start,
			EndTime:           start.Add(time.Hour),
			Topic:             "Intro",
			MeetingLink:       "https://zoom.us/j/123",
			ProviderMeetingID: "123",
			Materials:         []models.Material{},
			State:             models.SessionPersisted,
		}},
		Version: 3,
	}

	reg := MongoRegistry()
	raw, err := bson.MarshalWithRegistry(reg, in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	idVal := bson.Raw(raw).Lookup("_id")
	if subtype, _ := idVal.Binary(); subtype != 0x04 {
		t.Fatalf("expected _id stored as binary subtype 4, got %#x", subtype)
	}

	var out models.Course
	if err := bson.UnmarshalWithRegistry(reg, raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.ID != in.ID || out.InstructorID != in.InstructorID {
		t.Fatalf("course ids did not round trip")
	}
	if out.GroupID == nil || *out.GroupID != groupID {
		t.Fatalf("group id did not round trip: %v", out.GroupID)
	}
	if len(out.LiveSessions) != 1 || out.LiveSessions[0].ID != in.LiveSessions[0].ID {
		t.Fatalf("embedded session id did not round trip")
	}
	if out.LiveSessions[0].State != models.SessionPersisted || out.Version != 3 {
		t.Fatalf("unexpected decoded course: %+v", out)
	}
}

func TestDecodeUUID_AcceptsString(t *testing.T) {
	id := uuid.New()
	raw, err := bson.Marshal(bson.M{"_id": id.String()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out struct {
		ID uuid.UUID `bson:"_id"`
	}
	if err := bson.UnmarshalWithRegistry(MongoRegistry(), raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != id {
		t.Fatalf("expected %s, got %s", id, out.ID)
	}
}

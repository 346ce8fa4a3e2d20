package progress

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/maendeleo/core"
)

var (
	// errors
	ErrMissingType       = errors.New("event type is required")
	ErrMissingEntityType = errors.New("event entity type is required")
	ErrMissingEntityID   = errors.New("event entity id is required")
	ErrMetadataMismatch  = errors.New("event metadata does not match event type")
)

// nowFunc is overridden in tests.
var nowFunc = time.Now

type (
	EventType  string
	EntityType string
)

const (
	CourseStarted         EventType = "COURSE_STARTED"
	CourseProgressUpdated EventType = "COURSE_PROGRESS_UPDATED"
	CourseCompleted       EventType = "COURSE_COMPLETED"
	ChapterCompleted      EventType = "CHAPTER_COMPLETED"
	VideoWatched          EventType = "VIDEO_WATCHED"
	QuizStarted           EventType = "QUIZ_STARTED"
	QuestionAnswered      EventType = "QUESTION_ANSWERED"
	QuizCompleted         EventType = "QUIZ_COMPLETED"

	EntityCourse   EntityType = "course"
	EntityChapter  EntityType = "chapter"
	EntityQuiz     EntityType = "quiz"
	EntityQuestion EntityType = "question"
)

// entityTypeFor maps each event type to the entity type it must carry.
var entityTypeFor = map[EventType]EntityType{
	CourseStarted:         EntityCourse,
	CourseProgressUpdated: EntityCourse,
	CourseCompleted:       EntityCourse,
	ChapterCompleted:      EntityChapter,
	VideoWatched:          EntityChapter,
	QuizStarted:           EntityQuiz,
	QuestionAnswered:      EntityQuestion,
	QuizCompleted:         EntityQuiz,
}

func ValidEventType(s string) bool {
	_, ok := entityTypeFor[EventType(s)]
	return ok
}

func ValidEntityType(s string) bool {
	switch EntityType(s) {
	case EntityCourse, EntityChapter, EntityQuiz, EntityQuestion:
		return true
	}
	return false
}

type (
	// Metadata is the type-tagged payload of an Event; each event type pins
	// down its concrete shape (checked at construction time).
	Metadata interface {
		metadata()
	}

	CourseProgressMeta struct {
		Progress          float64  `json:"progress"`
		CompletedChapters []string `json:"completedChapters,omitempty"`
		CurrentChapterID  string   `json:"currentChapterId,omitempty"`
		TimeSpent         int64    `json:"timeSpent,omitempty"`
	}

	// ChapterMeta carries the parent course id to disambiguate chapters
	// reused across courses.
	ChapterMeta struct {
		CourseID string `json:"courseId"`
	}

	VideoWatchedMeta struct {
		CourseID      string  `json:"courseId"`
		Progress      float64 `json:"progress"`
		PlayedSeconds float64 `json:"playedSeconds"`
		Duration      float64 `json:"duration"`
	}

	QuestionAnsweredMeta struct {
		QuizID           string `json:"quizId"`
		SelectedOptionID string `json:"selectedOptionId,omitempty"`
		UserAnswer       string `json:"userAnswer,omitempty"`
		IsCorrect        bool   `json:"isCorrect"`
		TimeSpent        int64  `json:"timeSpent,omitempty"`
	}

	QuizCompletedMeta struct {
		Score      float64 `json:"score"`
		Percentage float64 `json:"percentage"`
		TimeSpent  int64   `json:"timeSpent,omitempty"`
	}
)

func (CourseProgressMeta) metadata()   {}
func (ChapterMeta) metadata()          {}
func (VideoWatchedMeta) metadata()     {}
func (QuestionAnsweredMeta) metadata() {}
func (QuizCompletedMeta) metadata()    {}

// Event is an atomic, immutable progress fact. Timestamp is wall-clock
// Unix milliseconds; it approximates log order but is not guaranteed sorted.
type Event struct {
	ID         string     `json:"id"`
	Type       EventType  `json:"type"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Timestamp  int64      `json:"timestamp"`
	Metadata   Metadata   `json:"metadata,omitempty"`
}

// NewEvent builds a validated Event stamped with the current time.
func NewEvent(typ EventType, entityID string, meta Metadata) (Event, error) {
	return NewEventAt(typ, entityID, meta, core.TimeMillis(nowFunc()))
}

// NewEventAt builds a validated Event with an explicit timestamp, for
// callers (the UI) that stamp events at the moment of the user action.
func NewEventAt(typ EventType, entityID string, meta Metadata, timestamp int64) (Event, error) {
	ev := Event{
		ID:         uuid.New().String(),
		Type:       typ,
		EntityType: entityTypeFor[typ],
		EntityID:   entityID,
		Timestamp:  timestamp,
	}
	ev.Metadata = meta
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Validate fails fast on caller misuse: missing required fields or a
// metadata payload that does not match the event type.
func (ev Event) Validate() error {
	if ev.Type == "" {
		return core.NewValidationError(ErrMissingType, core.FieldError{Field: "type", Error: ErrMissingType.Error()})
	}
	want, ok := entityTypeFor[ev.Type]
	if !ok {
		return core.NewValidationError(ErrMissingType, core.FieldError{Field: "type", Error: "unknown event type"})
	}
	if ev.EntityType == "" {
		return core.NewValidationError(ErrMissingEntityType, core.FieldError{Field: "entityType", Error: ErrMissingEntityType.Error()})
	}
	if ev.EntityType != want {
		return core.NewValidationError(ErrMetadataMismatch, core.FieldError{Field: "entityType", Error: "entity type does not match event type"})
	}
	if ev.EntityID == "" {
		return core.NewValidationError(ErrMissingEntityID, core.FieldError{Field: "entityId", Error: ErrMissingEntityID.Error()})
	}
	if !metadataMatches(ev.Type, ev.Metadata) {
		return core.NewValidationError(ErrMetadataMismatch, core.FieldError{Field: "metadata", Error: ErrMetadataMismatch.Error()})
	}
	return nil
}

func metadataMatches(typ EventType, meta Metadata) bool {
	switch typ {
	case CourseStarted, CourseCompleted, QuizStarted:
		return meta == nil
	case CourseProgressUpdated:
		_, ok := meta.(CourseProgressMeta)
		return ok
	case ChapterCompleted:
		m, ok := meta.(ChapterMeta)
		return ok && m.CourseID != ""
	case VideoWatched:
		m, ok := meta.(VideoWatchedMeta)
		return ok && m.CourseID != ""
	case QuestionAnswered:
		m, ok := meta.(QuestionAnsweredMeta)
		return ok && m.QuizID != ""
	case QuizCompleted:
		_, ok := meta.(QuizCompletedMeta)
		return ok
	}
	return false
}

// DecodeMetadata decodes a raw JSON metadata payload into the concrete
// shape for the given event type. A nil/empty payload is valid for event
// types that carry no metadata.
func DecodeMetadata(typ EventType, raw []byte) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var meta Metadata
	switch typ {
	case CourseProgressUpdated:
		m := CourseProgressMeta{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		meta = m
	case ChapterCompleted:
		m := ChapterMeta{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		meta = m
	case VideoWatched:
		m := VideoWatchedMeta{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		meta = m
	case QuestionAnswered:
		m := QuestionAnsweredMeta{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		meta = m
	case QuizCompleted:
		m := QuizCompletedMeta{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		meta = m
	default:
		// COURSE_STARTED & co carry no metadata; tolerate and drop extras.
		return nil, nil
	}
	return meta, nil
}

// eventJSON mirrors Event with raw metadata, for (de)serialization.
type eventJSON struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Timestamp  int64           `json:"timestamp"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

func (ev *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	meta, err := DecodeMetadata(raw.Type, raw.Metadata)
	if err != nil {
		return err
	}
	*ev = Event{
		ID:         raw.ID,
		Type:       raw.Type,
		EntityType: raw.EntityType,
		EntityID:   raw.EntityID,
		Timestamp:  raw.Timestamp,
		Metadata:   meta,
	}
	return nil
}

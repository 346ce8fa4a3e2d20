package progress

import (
	"fmt"
	"sync"
)

type (
	// CourseSummary is the derived progress state of one course.
	CourseSummary struct {
		CourseID          string   `json:"courseId"`
		IsStarted         bool     `json:"isStarted"`
		IsCompleted       bool     `json:"isCompleted"`
		Progress          float64  `json:"progress"`
		CompletedChapters []string `json:"completedChapters,omitempty"`
		CurrentChapterID  string   `json:"currentChapterId,omitempty"`
		TimeSpent         int64    `json:"timeSpent"`
	}

	// QuizSummary is the derived progress state of one quiz.
	QuizSummary struct {
		QuizID            string  `json:"quizId"`
		IsStarted         bool    `json:"isStarted"`
		IsCompleted       bool    `json:"isCompleted"`
		AnsweredQuestions int     `json:"answeredQuestions"`
		TotalQuestions    int     `json:"totalQuestions"`
		Progress          float64 `json:"progress"`
		Score             float64 `json:"score"`
		Percentage        float64 `json:"percentage"`
		TimeSpent         int64   `json:"timeSpent"`
	}

	// ChapterStatus is the derived completion state of one chapter within a course.
	ChapterStatus struct {
		ChapterID     string  `json:"chapterId"`
		CourseID      string  `json:"courseId"`
		IsCompleted   bool    `json:"isCompleted"`
		Progress      float64 `json:"progress"`
		PlayedSeconds float64 `json:"playedSeconds"`
		Duration      float64 `json:"duration"`
	}

	// Answer is the current answer state for one question.
	Answer struct {
		SelectedOptionID string `json:"selectedOptionId,omitempty"`
		UserAnswer       string `json:"userAnswer,omitempty"`
		IsCorrect        bool   `json:"isCorrect"`
		TimeSpent        int64  `json:"timeSpent,omitempty"`
		Timestamp        int64  `json:"timestamp"`
	}
)

// Projector computes pure, deterministic views over the event log.
// Results are memoized per (log version, entity); any append invalidates.
type Projector struct {
	log *Log

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	version uint64
	value   interface{}
}

func NewProjector(log *Log) *Projector {
	return &Projector{log: log, cache: make(map[string]cacheEntry)}
}

func (p *Projector) memo(key string, compute func() interface{}) interface{} {
	version := p.log.Version()
	p.mu.Lock()
	if entry, ok := p.cache[key]; ok && entry.version == version {
		p.mu.Unlock()
		return entry.value
	}
	p.mu.Unlock()

	value := compute()

	p.mu.Lock()
	p.cache[key] = cacheEntry{version: version, value: value}
	p.mu.Unlock()
	return value
}

// CourseSummary derives the current progress of a course from its events.
// Completion is monotonic: any COURSE_COMPLETED event pins IsCompleted.
func (p *Projector) CourseSummary(courseID string) CourseSummary {
	key := "course:" + courseID
	return p.memo(key, func() interface{} {
		sum := CourseSummary{CourseID: courseID}
		var latest int64 = -1
		for _, ev := range p.log.Query(EntityCourse, courseID) {
			switch ev.Type {
			case CourseStarted:
				sum.IsStarted = true
			case CourseCompleted:
				sum.IsCompleted = true
			case CourseProgressUpdated:
				// most recent wins; ties resolve to the later log entry
				if ev.Timestamp < latest {
					continue
				}
				latest = ev.Timestamp
				if meta, ok := ev.Metadata.(CourseProgressMeta); ok {
					sum.Progress = meta.Progress
					sum.CompletedChapters = meta.CompletedChapters
					sum.CurrentChapterID = meta.CurrentChapterID
					sum.TimeSpent = meta.TimeSpent
				}
			}
		}
		return sum
	}).(CourseSummary)
}

// QuizSummary derives the current progress of a quiz. Answering the same
// question twice counts once towards AnsweredQuestions.
func (p *Projector) QuizSummary(quizID string, totalQuestions int) QuizSummary {
	key := fmt.Sprintf("quiz:%s:%d", quizID, totalQuestions)
	return p.memo(key, func() interface{} {
		sum := QuizSummary{QuizID: quizID, TotalQuestions: totalQuestions}
		answered := make(map[string]struct{})
		for _, ev := range p.log.All() {
			switch ev.Type {
			case QuizStarted:
				if ev.EntityID == quizID {
					sum.IsStarted = true
				}
			case QuestionAnswered:
				if meta, ok := ev.Metadata.(QuestionAnsweredMeta); ok && meta.QuizID == quizID {
					answered[ev.EntityID] = struct{}{}
				}
			case QuizCompleted:
				if ev.EntityID != quizID {
					continue
				}
				sum.IsCompleted = true
				if meta, ok := ev.Metadata.(QuizCompletedMeta); ok {
					sum.Score = meta.Score
					sum.Percentage = meta.Percentage
					sum.TimeSpent = meta.TimeSpent
				}
			}
		}
		sum.AnsweredQuestions = len(answered)
		if totalQuestions > 0 {
			sum.Progress = float64(sum.AnsweredQuestions) / float64(totalQuestions) * 100
		}
		return sum
	}).(QuizSummary)
}

// ChapterStatus derives the completion state of a chapter, scoped by its
// parent course (chapters may be reused across courses).
func (p *Projector) ChapterStatus(chapterID, courseID string) ChapterStatus {
	key := "chapter:" + courseID + ":" + chapterID
	return p.memo(key, func() interface{} {
		status := ChapterStatus{ChapterID: chapterID, CourseID: courseID}
		var latest int64 = -1
		for _, ev := range p.log.Query(EntityChapter, chapterID) {
			switch ev.Type {
			case ChapterCompleted:
				if meta, ok := ev.Metadata.(ChapterMeta); ok && meta.CourseID == courseID {
					status.IsCompleted = true
				}
			case VideoWatched:
				meta, ok := ev.Metadata.(VideoWatchedMeta)
				if !ok || meta.CourseID != courseID {
					continue
				}
				if ev.Timestamp < latest {
					continue
				}
				latest = ev.Timestamp
				status.Progress = meta.Progress
				status.PlayedSeconds = meta.PlayedSeconds
				status.Duration = meta.Duration
			}
		}
		return status
	}).(ChapterStatus)
}

// QuizAnswers folds all QUESTION_ANSWERED events for a quiz into a map of
// questionID to current answer; later events overwrite earlier ones.
func (p *Projector) QuizAnswers(quizID string) map[string]Answer {
	key := "answers:" + quizID
	return p.memo(key, func() interface{} {
		answers := make(map[string]Answer)
		for _, ev := range p.log.All() {
			if ev.Type != QuestionAnswered {
				continue
			}
			meta, ok := ev.Metadata.(QuestionAnsweredMeta)
			if !ok || meta.QuizID != quizID {
				continue
			}
			if prev, exists := answers[ev.EntityID]; exists && ev.Timestamp < prev.Timestamp {
				continue
			}
			answers[ev.EntityID] = Answer{
				SelectedOptionID: meta.SelectedOptionID,
				UserAnswer:       meta.UserAnswer,
				IsCorrect:        meta.IsCorrect,
				TimeSpent:        meta.TimeSpent,
				Timestamp:        ev.Timestamp,
			}
		}
		return answers
	}).(map[string]Answer)
}

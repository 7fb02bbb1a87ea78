package domain

import (
	"time"
)

const (
	DefaultPassPercentage = 50.0
	DefaultPoints         = 1
)

// User is a registered account. Admins manage the catalog and never take quizzes.
type User struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	IsAdmin        bool      `json:"is_admin"`
	DateRegistered time.Time `json:"date_registered"`
}

type Subject struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Chapters    []Chapter `json:"chapters,omitempty"`
}

type Chapter struct {
	ID          int64  `json:"id"`
	SubjectID   int64  `json:"subject_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quizzes     []Quiz `json:"quizzes,omitempty"`

	SubjectName string `json:"subject_name,omitempty"`
}

// Quiz belongs to a chapter. When IsScheduled is set, the quiz can only be taken
// between StartDatetime and EndDatetime; a nil bound leaves that side open.
type Quiz struct {
	ID             int64      `json:"id"`
	ChapterID      int64      `json:"chapter_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	TimeLimit      *int       `json:"time_limit"`
	PassPercentage float64    `json:"pass_percentage"`
	IsScheduled    bool       `json:"is_scheduled"`
	StartDatetime  *time.Time `json:"start_datetime"`
	EndDatetime    *time.Time `json:"end_datetime"`
	Questions      []Question `json:"questions,omitempty"`

	ChapterName   string `json:"chapter_name,omitempty"`
	SubjectName   string `json:"subject_name,omitempty"`
	QuestionCount int    `json:"question_count"`
}

type Question struct {
	ID      int64    `json:"id"`
	QuizID  int64    `json:"quiz_id"`
	Text    string   `json:"text"`
	Points  int      `json:"points"`
	Options []Option `json:"options,omitempty"`
}

type Option struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"question_id"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"is_correct"`
}

// Attempt is one user's single pass at a quiz. Score is nil until the attempt is completed.
type Attempt struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	QuizID      int64      `json:"quiz_id"`
	DateTaken   time.Time  `json:"date_taken"`
	Score       *float64   `json:"score"`
	IsCompleted bool       `json:"is_completed"`
	Responses   []Response `json:"responses,omitempty"`
}

type Response struct {
	ID         int64 `json:"id"`
	AttemptID  int64 `json:"attempt_id"`
	QuestionID int64 `json:"question_id"`
	OptionID   int64 `json:"option_id"`
}

// AttemptSummary is an attempt joined with the quiz, chapter, subject and user it refers to.
type AttemptSummary struct {
	Attempt

	QuizTitle      string  `json:"quiz_title"`
	ChapterName    string  `json:"chapter_name"`
	SubjectName    string  `json:"subject_name"`
	PassPercentage float64 `json:"pass_percentage"`
	TimeLimit      *int    `json:"time_limit"`
	QuestionCount  int     `json:"question_count"`
	UserName       string  `json:"user_name"`
	UserEmail      string  `json:"user_email"`
}

func (s AttemptSummary) Passed() bool {
	return s.Attempt.Passed(s.PassPercentage)
}

func (s AttemptSummary) Status() AttemptStatus {
	return s.Attempt.Status(s.PassPercentage)
}

// Principal identifies the caller of a request.
type Principal struct {
	UserID    int64
	IsAdmin   bool
	SessionID string
}

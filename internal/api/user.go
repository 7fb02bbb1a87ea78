package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/quizmaster/internal/attempt"
	"github.com/victornm/quizmaster/internal/catalog"
	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
	"github.com/victornm/quizmaster/internal/report"
)

func (a *API) dashboard(c *gin.Context) {
	d, err := a.attempts.Dashboard(c.Request.Context(), principal(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// quizList lists the quizzes that can be taken now, grouped by subject and chapter.
func (a *API) quizList(c *gin.Context) {
	quizzes, err := a.attempts.AvailableQuizzes(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": catalog.GroupBySubject(quizzes)})
}

func (a *API) enterQuiz(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	resp, err := a.attempts.Enter(c.Request.Context(), attempt.EnterRequest{Principal: principal(c), QuizID: id})
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quiz": hideAnswers(resp.Quiz), "availability": resp.Availability})
}

func (a *API) startQuiz(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	resp, err := a.attempts.Start(c.Request.Context(), attempt.StartRequest{Principal: principal(c), QuizID: id})
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"attempt":        resp.Attempt,
		"quiz":           hideAnswers(resp.Quiz),
		"time_remaining": resp.TimeRemaining,
	})
}

type submitRequest struct {
	// Answers maps question IDs to the selected option ID. Unanswered questions are left out.
	Answers map[int64]int64 `json:"answers"`
}

func (a *API) submitQuiz(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	resp, err := a.attempts.Submit(c.Request.Context(), attempt.SubmitRequest{
		Principal: principal(c),
		QuizID:    id,
		Answers:   req.Answers,
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	score := 0.0
	if resp.Attempt.Score != nil {
		score = *resp.Attempt.Score
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  fmt.Sprintf("Quiz submitted! Your score: %.1f%%", score),
		"attempt":  resp.Attempt,
		"passed":   resp.Passed,
		"redirect": attempt.PathResults(resp.Attempt.ID),
	})
}

func (a *API) results(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	resp, err := a.attempts.Results(c.Request.Context(), principal(c), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) history(c *gin.Context) {
	attempts, err := a.attempts.History(c.Request.Context(), principal(c).UserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": nonNil(attempts)})
}

func (a *API) downloadHistory(c *gin.Context) {
	p := principal(c)
	if p.IsAdmin {
		a.fail(c, errors.Warning(errors.CodePermissionDenied, attempt.PathDashboard, "Admins cannot download user history."))
		return
	}

	attempts, err := a.attempts.History(c.Request.Context(), p.UserID)
	if err != nil {
		a.fail(c, err)
		return
	}

	a.csv(c, fmt.Sprintf("quiz_history_%d", p.UserID), attempts, false)
}

func (a *API) analysis(c *gin.Context) {
	an, err := a.attempts.Analysis(c.Request.Context(), principal(c).UserID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, an)
}

// csv sends attempts as a CSV attachment named after prefix and the current time.
func (a *API) csv(c *gin.Context, prefix string, attempts []domain.AttemptSummary, withUser bool) {
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, attempts, withUser); err != nil {
		a.fail(c, err)
		return
	}

	name := report.Filename(prefix, "csv", a.now())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

type optionView struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type questionView struct {
	ID      int64        `json:"id"`
	Text    string       `json:"text"`
	Points  int          `json:"points"`
	Options []optionView `json:"options"`
}

type quizView struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	ChapterName    string         `json:"chapter_name"`
	SubjectName    string         `json:"subject_name"`
	TimeLimit      *int           `json:"time_limit"`
	PassPercentage float64        `json:"pass_percentage"`
	IsScheduled    bool           `json:"is_scheduled"`
	StartDatetime  *time.Time     `json:"start_datetime"`
	EndDatetime    *time.Time     `json:"end_datetime"`
	Questions      []questionView `json:"questions"`
}

// hideAnswers is the quiz as shown to someone taking it, without the correct options.
func hideAnswers(q *domain.Quiz) quizView {
	v := quizView{
		ID:             q.ID,
		Title:          q.Title,
		Description:    q.Description,
		ChapterName:    q.ChapterName,
		SubjectName:    q.SubjectName,
		TimeLimit:      q.TimeLimit,
		PassPercentage: q.PassPercentage,
		IsScheduled:    q.IsScheduled,
		StartDatetime:  q.StartDatetime,
		EndDatetime:    q.EndDatetime,
		Questions:      make([]questionView, 0, len(q.Questions)),
	}

	for _, qq := range q.Questions {
		qv := questionView{ID: qq.ID, Text: qq.Text, Points: qq.Points, Options: make([]optionView, 0, len(qq.Options))}
		for _, o := range qq.Options {
			qv.Options = append(qv.Options, optionView{ID: o.ID, Text: o.Text})
		}
		v.Questions = append(v.Questions, qv)
	}

	return v
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

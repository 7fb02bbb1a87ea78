package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/quizmaster/internal/catalog"
	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
	"github.com/victornm/quizmaster/internal/jobs"
)

func (a *API) adminDashboard(c *gin.Context) {
	counts, err := a.catalog.Counts(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (a *API) sendMonthlyReports(c *gin.Context) {
	id, err := a.enqueuer.Enqueue(c.Request.Context(), jobs.TaskMonthlyReports, jobs.MonthlyReportsArgs{Force: true})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

func (a *API) performanceReport(c *gin.Context) {
	var req jobs.PerformanceReportArgs
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}
	if req.Format == "" {
		req.Format = jobs.FormatCSV
	}
	if req.Format != jobs.FormatCSV && req.Format != jobs.FormatJSON {
		a.fail(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("format must be csv or json")))
		return
	}

	id, err := a.enqueuer.Enqueue(c.Request.Context(), jobs.TaskPerformanceReport, req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

// Users

func (a *API) listUsers(c *gin.Context) {
	users, err := a.catalog.ListUsers(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": nonNil(users)})
}

func (a *API) toggleAdmin(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	u, err := a.catalog.ToggleAdmin(c.Request.Context(), principal(c), id)
	if err != nil {
		a.fail(c, err)
		return
	}

	verb := "revoked"
	if u.IsAdmin {
		verb = "granted"
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Admin status for %s has been %s.", u.Name, verb), "user": u})
}

func (a *API) deleteUser(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	if err := a.catalog.DeleteUser(c.Request.Context(), principal(c), id); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) downloadUser(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	attempts, err := a.catalog.ListAttempts(c.Request.Context(), catalog.AttemptsRequest{UserID: id})
	if err != nil {
		a.fail(c, err)
		return
	}
	a.csv(c, "user_performance_"+strconv.FormatInt(id, 10), attempts, true)
}

func (a *API) downloadAllUsers(c *gin.Context) {
	attempts, err := a.catalog.ListAttempts(c.Request.Context(), catalog.AttemptsRequest{})
	if err != nil {
		a.fail(c, err)
		return
	}
	a.csv(c, "all_users_performance", attempts, true)
}

// Subjects

func (a *API) listSubjects(c *gin.Context) {
	subjects, err := a.catalog.ListSubjects(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subjects": nonNil(subjects)})
}

func (a *API) createSubject(c *gin.Context) {
	var req catalog.SubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	sub, err := a.catalog.CreateSubject(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (a *API) getSubject(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	sub, err := a.catalog.GetSubject(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (a *API) updateSubject(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	var req catalog.SubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	sub, err := a.catalog.UpdateSubject(c.Request.Context(), id, req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (a *API) deleteSubject(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	if err := a.catalog.DeleteSubject(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Chapters

func (a *API) listChapters(c *gin.Context) {
	subjectID, ok := a.queryID(c, "subject_id")
	if !ok {
		return
	}

	chapters, err := a.catalog.ListChapters(c.Request.Context(), subjectID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chapters": nonNil(chapters)})
}

func (a *API) createChapter(c *gin.Context) {
	var req catalog.ChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	ch, err := a.catalog.CreateChapter(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (a *API) getChapter(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	ch, err := a.catalog.GetChapter(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (a *API) updateChapter(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	var req catalog.ChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	ch, err := a.catalog.UpdateChapter(c.Request.Context(), id, req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (a *API) deleteChapter(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	if err := a.catalog.DeleteChapter(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Quizzes

func (a *API) listQuizzes(c *gin.Context) {
	chapterID, ok := a.queryID(c, "chapter_id")
	if !ok {
		return
	}

	quizzes, err := a.catalog.ListQuizzes(c.Request.Context(), chapterID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": nonNil(quizzes)})
}

func (a *API) createQuiz(c *gin.Context) {
	var req catalog.QuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	resp, err := a.catalog.CreateQuiz(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (a *API) getQuiz(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	q, err := a.catalog.GetQuiz(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (a *API) updateQuiz(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	var req catalog.QuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	resp, err := a.catalog.UpdateQuiz(c.Request.Context(), id, req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) deleteQuiz(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	if err := a.catalog.DeleteQuiz(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) sendReminders(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	resp, err := a.catalog.SendReminders(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// Questions

func (a *API) listQuestions(c *gin.Context) {
	id, ok := a.id(c, "id")
	if !ok {
		return
	}

	questions, err := a.catalog.ListQuestions(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": nonNil(questions)})
}

func (a *API) createQuestion(c *gin.Context) {
	quizID, ok := a.id(c, "id")
	if !ok {
		return
	}

	var req catalog.QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	q, err := a.catalog.CreateQuestion(c.Request.Context(), quizID, req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (a *API) updateQuestion(c *gin.Context) {
	quizID, ok := a.id(c, "id")
	if !ok {
		return
	}
	id, ok := a.id(c, "qid")
	if !ok {
		return
	}

	var req catalog.QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	q, err := a.catalog.UpdateQuestion(c.Request.Context(), quizID, id, req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (a *API) deleteQuestion(c *gin.Context) {
	quizID, ok := a.id(c, "id")
	if !ok {
		return
	}
	id, ok := a.id(c, "qid")
	if !ok {
		return
	}

	if err := a.catalog.DeleteQuestion(c.Request.Context(), quizID, id); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Attempts

func (a *API) listAttempts(c *gin.Context) {
	var req catalog.AttemptsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	attempts, err := a.catalog.ListAttempts(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}

	type row struct {
		domain.AttemptSummary
		Passed bool                 `json:"passed"`
		Status domain.AttemptStatus `json:"status"`
	}
	rows := make([]row, 0, len(attempts))
	for _, at := range attempts {
		rows = append(rows, row{AttemptSummary: at, Passed: at.Passed(), Status: at.Status()})
	}

	c.JSON(http.StatusOK, gin.H{"attempts": rows})
}

func (a *API) downloadAttempts(c *gin.Context) {
	var req catalog.AttemptsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		a.badRequest(c, err)
		return
	}

	attempts, err := a.catalog.ListAttempts(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	a.csv(c, "user_performance_report", attempts, true)
}

// queryID parses an optional positive integer query parameter, 0 when absent.
func (a *API) queryID(c *gin.Context, name string) (int64, bool) {
	s := c.Query(name)
	if s == "" {
		return 0, true
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

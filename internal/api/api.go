// Package api exposes the services over HTTP with gin.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/victornm/quizmaster/internal/attempt"
	"github.com/victornm/quizmaster/internal/auth"
	"github.com/victornm/quizmaster/internal/catalog"
	"github.com/victornm/quizmaster/internal/domain"
	"github.com/victornm/quizmaster/internal/errors"
	"github.com/victornm/quizmaster/internal/report"
	"github.com/victornm/quizmaster/internal/task"
)

const (
	defaultAuthLimit  = 10
	defaultAuthWindow = time.Minute
	principalKey      = "principal"
)

type Auth interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*domain.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResponse, error)
	Verify(ctx context.Context, token string) (*domain.Principal, error)
	Logout(ctx context.Context, p domain.Principal) error
}

type Attempts interface {
	Enter(ctx context.Context, req attempt.EnterRequest) (*attempt.EnterResponse, error)
	Start(ctx context.Context, req attempt.StartRequest) (*attempt.StartResponse, error)
	Submit(ctx context.Context, req attempt.SubmitRequest) (*attempt.SubmitResponse, error)
	Results(ctx context.Context, p domain.Principal, attemptID int64) (*attempt.ResultsResponse, error)
	Dashboard(ctx context.Context, p domain.Principal) (*attempt.Dashboard, error)
	AvailableQuizzes(ctx context.Context) ([]domain.Quiz, error)
	History(ctx context.Context, userID int64) ([]domain.AttemptSummary, error)
	Analysis(ctx context.Context, userID int64) (*report.Analysis, error)
}

type Catalog interface {
	CreateSubject(ctx context.Context, req catalog.SubjectRequest) (*domain.Subject, error)
	UpdateSubject(ctx context.Context, id int64, req catalog.SubjectRequest) (*domain.Subject, error)
	DeleteSubject(ctx context.Context, id int64) error
	GetSubject(ctx context.Context, id int64) (*domain.Subject, error)
	ListSubjects(ctx context.Context) ([]domain.Subject, error)

	CreateChapter(ctx context.Context, req catalog.ChapterRequest) (*domain.Chapter, error)
	UpdateChapter(ctx context.Context, id int64, req catalog.ChapterRequest) (*domain.Chapter, error)
	DeleteChapter(ctx context.Context, id int64) error
	GetChapter(ctx context.Context, id int64) (*domain.Chapter, error)
	ListChapters(ctx context.Context, subjectID int64) ([]domain.Chapter, error)

	CreateQuiz(ctx context.Context, req catalog.QuizRequest) (*catalog.QuizResponse, error)
	UpdateQuiz(ctx context.Context, id int64, req catalog.QuizRequest) (*catalog.QuizResponse, error)
	DeleteQuiz(ctx context.Context, id int64) error
	GetQuiz(ctx context.Context, id int64) (*domain.Quiz, error)
	ListQuizzes(ctx context.Context, chapterID int64) ([]domain.Quiz, error)
	SendReminders(ctx context.Context, quizID int64) (*catalog.SendRemindersResponse, error)

	ListQuestions(ctx context.Context, quizID int64) ([]domain.Question, error)
	CreateQuestion(ctx context.Context, quizID int64, req catalog.QuestionRequest) (*domain.Question, error)
	UpdateQuestion(ctx context.Context, quizID, id int64, req catalog.QuestionRequest) (*domain.Question, error)
	DeleteQuestion(ctx context.Context, quizID, id int64) error

	Counts(ctx context.Context) (*catalog.Counts, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	ToggleAdmin(ctx context.Context, p domain.Principal, userID int64) (*domain.User, error)
	DeleteUser(ctx context.Context, p domain.Principal, userID int64) error
	ListAttempts(ctx context.Context, req catalog.AttemptsRequest) ([]domain.AttemptSummary, error)
	Search(ctx context.Context, p *domain.Principal, query string) (*catalog.SearchResponse, error)
}

// Tasks looks up the status of background tasks.
type Tasks interface {
	Status(id string) (task.Record, bool)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args any) (string, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

type Config struct {
	Auth     Auth
	Attempts Attempts
	Catalog  Catalog
	Tasks    Tasks
	Enqueuer Enqueuer
	// Limiter throttles register and login per client IP, disabled when nil.
	Limiter    RateLimiter
	AuthLimit  int
	AuthWindow time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type API struct {
	auth     Auth
	attempts Attempts
	catalog  Catalog
	tasks    Tasks
	enqueuer Enqueuer

	limiter    RateLimiter
	authLimit  int
	authWindow time.Duration
	now        func() time.Time
}

func New(c Config) *API {
	a := &API{
		auth:       c.Auth,
		attempts:   c.Attempts,
		catalog:    c.Catalog,
		tasks:      c.Tasks,
		enqueuer:   c.Enqueuer,
		limiter:    c.Limiter,
		authLimit:  c.AuthLimit,
		authWindow: c.AuthWindow,
		now:        c.Now,
	}

	if a.authLimit <= 0 {
		a.authLimit = defaultAuthLimit
	}
	if a.authWindow <= 0 {
		a.authWindow = defaultAuthWindow
	}
	if a.now == nil {
		a.now = time.Now
	}

	return a
}

// Register mounts every route under /api.
func (a *API) Register(e *gin.Engine) {
	r := e.Group("/api")

	authn := r.Group("/auth")
	authn.POST("/register", a.rateLimit("register"), a.register)
	authn.POST("/login", a.rateLimit("login"), a.login)
	authn.POST("/logout", a.authenticate, a.logout)
	authn.GET("/me", a.authenticate, a.me)

	r.GET("/search", a.optionalAuth, a.search)
	r.GET("/tasks/:id", a.authenticate, a.taskStatus)

	user := r.Group("/user", a.authenticate)
	user.GET("/dashboard", a.dashboard)
	user.GET("/quizzes", a.quizList)
	user.GET("/quizzes/:id", a.enterQuiz)
	user.POST("/quizzes/:id/start", a.startQuiz)
	user.POST("/quizzes/:id/submit", a.submitQuiz)
	user.GET("/results/:id", a.results)
	user.GET("/history", a.history)
	user.GET("/history/download", a.downloadHistory)
	user.GET("/analysis", a.analysis)

	admin := r.Group("/admin", a.authenticate, a.requireAdmin)
	admin.GET("/dashboard", a.adminDashboard)
	admin.POST("/monthly-reports", a.sendMonthlyReports)
	admin.POST("/reports", a.performanceReport)

	admin.GET("/users", a.listUsers)
	admin.GET("/users/download", a.downloadAllUsers)
	admin.POST("/users/:id/toggle-admin", a.toggleAdmin)
	admin.DELETE("/users/:id", a.deleteUser)
	admin.GET("/users/:id/download", a.downloadUser)

	admin.GET("/subjects", a.listSubjects)
	admin.POST("/subjects", a.createSubject)
	admin.GET("/subjects/:id", a.getSubject)
	admin.PUT("/subjects/:id", a.updateSubject)
	admin.DELETE("/subjects/:id", a.deleteSubject)

	admin.GET("/chapters", a.listChapters)
	admin.POST("/chapters", a.createChapter)
	admin.GET("/chapters/:id", a.getChapter)
	admin.PUT("/chapters/:id", a.updateChapter)
	admin.DELETE("/chapters/:id", a.deleteChapter)

	admin.GET("/quizzes", a.listQuizzes)
	admin.POST("/quizzes", a.createQuiz)
	admin.GET("/quizzes/:id", a.getQuiz)
	admin.PUT("/quizzes/:id", a.updateQuiz)
	admin.DELETE("/quizzes/:id", a.deleteQuiz)
	admin.POST("/quizzes/:id/reminders", a.sendReminders)
	admin.GET("/quizzes/:id/questions", a.listQuestions)
	admin.POST("/quizzes/:id/questions", a.createQuestion)
	admin.PUT("/quizzes/:id/questions/:qid", a.updateQuestion)
	admin.DELETE("/quizzes/:id/questions/:qid", a.deleteQuestion)

	admin.GET("/attempts", a.listAttempts)
	admin.GET("/attempts/download", a.downloadAttempts)
}

func (a *API) authenticate(c *gin.Context) {
	p, err := a.auth.Verify(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		a.fail(c, err)
		return
	}

	c.Set(principalKey, *p)
	c.Next()
}

// optionalAuth sets the principal when a valid token is sent and ignores it otherwise.
func (a *API) optionalAuth(c *gin.Context) {
	if h := c.GetHeader("Authorization"); h != "" {
		if p, err := a.auth.Verify(c.Request.Context(), h); err == nil {
			c.Set(principalKey, *p)
		}
	}
	c.Next()
}

func (a *API) requireAdmin(c *gin.Context) {
	if !principal(c).IsAdmin {
		a.fail(c, errors.Warning(errors.CodePermissionDenied, attempt.PathDashboard, "You need admin privileges to access this page."))
		return
	}
	c.Next()
}

func (a *API) rateLimit(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.limiter != nil && !a.limiter.Allow(c.Request.Context(), action+"_"+c.ClientIP(), a.authLimit, a.authWindow) {
			a.fail(c, errors.New(errors.CodeResourceExhausted, errors.WithMessagef("Too many requests, please try again later.")))
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) domain.Principal {
	p, _ := c.Get(principalKey)
	v, _ := p.(domain.Principal)
	return v
}

func optionalPrincipal(c *gin.Context) *domain.Principal {
	p, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	v := p.(domain.Principal)
	return &v
}

// fail writes err as the response. Warnings carry the message and the suggested redirect.
func (a *API) fail(c *gin.Context, err error) {
	e := errors.Convert(err)

	switch {
	case e.Code == errors.CodeInternal:
		slog.ErrorContext(c.Request.Context(), "api: request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	case e.IsWarning():
		c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"warning": e.Message, "redirect": e.Redirect})
	default:
		c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e.Message})
	}
}

func (a *API) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// id parses a positive integer path parameter, writing a 400 when it is not one.
func (a *API) id(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func (a *API) taskStatus(c *gin.Context) {
	rec, ok := a.tasks.Status(c.Param("id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (a *API) search(c *gin.Context) {
	resp, err := a.catalog.Search(c.Request.Context(), optionalPrincipal(c), c.Query("q"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

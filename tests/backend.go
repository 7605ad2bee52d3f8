package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/maabara/core/lab"
	"github.com/trezcool/maabara/core/session"
	"github.com/trezcool/maabara/core/student"
	"github.com/trezcool/maabara/core/submission"
)

// CourseBackend is an in-process course API with an attached object
// store. It serves the same routes the real backend does, authorized by
// the fake provider's tokens.
type CourseBackend struct {
	Server   *httptest.Server
	Provider *CredentialProvider // optional; backs /auth/update-attributes

	mu          sync.Mutex
	labs        map[string]lab.Lab
	submissions map[string]submission.PartSubmission
	objects     map[string][]byte
	students    []student.Student
	progress    map[string]student.Detail

	// failure switches and counters
	QueueDisabled bool // the queue endpoint 404s, forcing the client fallback
	FailReviews   bool // review updates 500
	ReviewPuts    int
	StoragePuts   int
}

func NewCourseBackend(provider *CredentialProvider) *CourseBackend {
	b := &CourseBackend{
		Provider:    provider,
		labs:        make(map[string]lab.Lab),
		submissions: make(map[string]submission.PartSubmission),
		objects:     make(map[string][]byte),
		progress:    make(map[string]student.Detail),
	}

	app := echo.New()
	app.HideBanner = true

	app.PUT("/storage/:key", b.putObject) // presigned target, no bearer auth

	api := app.Group("", b.requireAuth)
	api.GET("/labs", b.listLabs)
	api.GET("/labs/:id", b.getLab)
	api.PUT("/labs/:id", b.updateLab, b.requireStaff)
	api.POST("/labs/:id/lock", b.setLock(true), b.requireStaff)
	api.POST("/labs/:id/unlock", b.setLock(false), b.requireStaff)
	api.GET("/part-submissions", b.listSubmissions)
	api.GET("/part-submissions/queue", b.queue, b.requireStaff)
	api.POST("/part-submissions/presigned-url", b.presign)
	api.POST("/part-submissions", b.createSubmission)
	api.GET("/part-submissions/:id", b.getSubmission)
	api.PUT("/part-submissions/:id", b.reviewSubmission, b.requireStaff)
	api.GET("/students", b.listStudents, b.requireStaff)
	api.GET("/progress/:id", b.getProgress)
	api.PUT("/progress/:id", b.updateProgress, b.requireStaff)
	api.POST("/auth/update-attributes", b.updateAttributes)

	b.Server = httptest.NewServer(app)
	return b
}

func (b *CourseBackend) Close() { b.Server.Close() }

// fixtures

func (b *CourseBackend) AddLab(l lab.Lab) {
	b.mu.Lock()
	b.labs[l.LabID] = l
	b.mu.Unlock()
}

func (b *CourseBackend) AddSubmission(sub submission.PartSubmission) {
	if sub.SubmissionID == "" {
		sub.SubmissionID = uuid.New().String()
	}
	if sub.Status == "" {
		sub.Status = submission.StatusPending
	}
	b.mu.Lock()
	b.submissions[sub.SubmissionID] = sub
	b.mu.Unlock()
}

func (b *CourseBackend) AddStudent(s student.Student) {
	b.mu.Lock()
	b.students = append(b.students, s)
	b.mu.Unlock()
}

func (b *CourseBackend) SetProgress(studentID string, d student.Detail) {
	b.mu.Lock()
	b.progress[studentID] = d
	b.mu.Unlock()
}

func (b *CourseBackend) Submission(id string) (submission.PartSubmission, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.submissions[id]
	return sub, ok
}

func (b *CourseBackend) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

// middleware

const claimsKey = "claims"

func (b *CourseBackend) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		if !strings.HasPrefix(auth, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		}
		claims, err := ParseTestToken(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}
		c.Set(claimsKey, claims)
		return next(c)
	}
}

func (b *CourseBackend) requireStaff(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if claims := getClaims(c); claims == nil || claims.Role != session.RoleStaff {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "staff only"})
		}
		return next(c)
	}
}

func getClaims(c echo.Context) *TokenClaims {
	claims, _ := c.Get(claimsKey).(*TokenClaims)
	return claims
}

// labs

func (b *CourseBackend) listLabs(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	labs := make([]lab.Lab, 0, len(b.labs))
	for _, l := range b.labs {
		labs = append(labs, l)
	}
	sort.Slice(labs, func(i, j int) bool { return labs[i].Order < labs[j].Order })
	return c.JSON(http.StatusOK, labs)
}

func (b *CourseBackend) getLab(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.labs[c.Param("id")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "lab not found"})
	}
	// a lock bars students from the detail view, not staff
	if l.Locked && getClaims(c).Role != session.RoleStaff {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "this lab is locked"})
	}
	return c.JSON(http.StatusOK, l)
}

func (b *CourseBackend) updateLab(c echo.Context) error {
	var l lab.Lab
	if err := c.Bind(&l); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	l.LabID = c.Param("id")
	l.UpdatedAt = time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.labs[l.LabID]; !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "lab not found"})
	}
	b.labs[l.LabID] = l
	return c.JSON(http.StatusOK, l)
}

func (b *CourseBackend) setLock(locked bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		l, ok := b.labs[c.Param("id")]
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "lab not found"})
		}
		l.Locked = locked
		l.UpdatedAt = time.Now()
		b.labs[l.LabID] = l
		return c.JSON(http.StatusOK, l)
	}
}

// submissions

func (b *CourseBackend) listSubmissions(c echo.Context) error {
	var filters submission.QueueFilters
	if err := c.Bind(&filters); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	b.mu.Lock()
	all := make([]submission.PartSubmission, 0, len(b.submissions))
	for _, sub := range b.submissions {
		all = append(all, sub)
	}
	b.mu.Unlock()

	// students only ever see their own records
	if claims := getClaims(c); claims.Role != session.RoleStaff {
		filters.StudentID = claims.StudentID
	}
	items := submission.Filter(all, filters)
	submission.Sort(items, filters)
	return c.JSON(http.StatusOK, items)
}

func (b *CourseBackend) queue(c echo.Context) error {
	b.mu.Lock()
	disabled := b.QueueDisabled
	all := make([]submission.PartSubmission, 0, len(b.submissions))
	for _, sub := range b.submissions {
		all = append(all, sub)
	}
	b.mu.Unlock()

	if disabled {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	}
	var filters submission.QueueFilters
	if err := c.Bind(&filters); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if filters.Status == "" {
		filters.Status = submission.StatusPending
	}
	items := submission.Filter(all, filters)
	submission.Sort(items, filters)
	return c.JSON(http.StatusOK, submission.Queue{
		Items:        items,
		TotalCount:   len(all),
		PendingCount: submission.CountPending(all),
	})
}

func (b *CourseBackend) presign(c echo.Context) error {
	var req submission.PresignRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	key := fmt.Sprintf("%s-%s-%s", req.LabID, req.PartID, uuid.New().String())
	return c.JSON(http.StatusOK, submission.PresignTarget{
		UploadURL: b.Server.URL + "/storage/" + key,
		FileKey:   key,
	})
}

func (b *CourseBackend) putObject(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	b.mu.Lock()
	b.objects[c.Param("key")] = data
	b.StoragePuts++
	b.mu.Unlock()
	return c.NoContent(http.StatusOK)
}

func (b *CourseBackend) createSubmission(c echo.Context) error {
	var req submission.NewPartSubmission
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	claims := getClaims(c)
	now := time.Now()
	sub := submission.PartSubmission{
		SubmissionID: uuid.New().String(),
		LabID:        req.LabID,
		PartID:       req.PartID,
		StudentID:    claims.StudentID,
		UserID:       claims.Subject,
		Username:     claims.Email,
		FullName:     claims.FullName,
		FileKey:      req.FileKey,
		Notes:        req.Notes,
		Status:       submission.StatusPending,
		SubmittedAt:  now,
		UpdatedAt:    now,
		SelfCheckoff: req.SelfCheckoff,
	}
	if sub.FileKey != "" {
		sub.VideoURL = b.Server.URL + "/storage/" + sub.FileKey
	}

	b.mu.Lock()
	b.submissions[sub.SubmissionID] = sub
	b.mu.Unlock()
	return c.JSON(http.StatusCreated, sub)
}

func (b *CourseBackend) getSubmission(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.submissions[c.Param("id")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "submission not found"})
	}
	// single-record reads carry a freshly signed media URL
	if sub.FileKey != "" {
		sub.VideoURL = b.Server.URL + "/storage/" + sub.FileKey + "?sig=" + uuid.New().String()
	}
	return c.JSON(http.StatusOK, sub)
}

func (b *CourseBackend) reviewSubmission(c echo.Context) error {
	var req submission.ReviewUpdate
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	claims := getClaims(c)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ReviewPuts++
	if b.FailReviews {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "review failed"})
	}
	sub, ok := b.submissions[c.Param("id")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "submission not found"})
	}
	sub.Status = req.Status
	sub.Feedback = req.Feedback
	sub.ReviewedBy = claims.Email
	sub.ReviewedAt = time.Now()
	sub.UpdatedAt = sub.ReviewedAt
	b.submissions[sub.SubmissionID] = sub
	return c.JSON(http.StatusOK, sub)
}

// students & progress

func (b *CourseBackend) listStudents(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return c.JSON(http.StatusOK, b.students)
}

func (b *CourseBackend) getProgress(c echo.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.progress[c.Param("id")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "student not found"})
	}
	return c.JSON(http.StatusOK, d)
}

func (b *CourseBackend) updateProgress(c echo.Context) error {
	var upd student.CheckoffUpdate
	if err := c.Bind(&upd); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.progress[c.Param("id")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "student not found"})
	}
	for i := range d.Progress {
		if d.Progress[i].LabID != upd.LabID {
			continue
		}
		if upd.Status != "" {
			d.Progress[i].Status = upd.Status
		}
		if upd.Completed != nil {
			d.Progress[i].Completed = *upd.Completed
		}
		if upd.Grade != nil {
			d.Progress[i].Grade = upd.Grade
		}
		for j := range d.Progress[i].Parts {
			if upd.PartID != "" && d.Progress[i].Parts[j].PartID == upd.PartID && upd.Completed != nil {
				d.Progress[i].Parts[j].Completed = *upd.Completed
				d.Progress[i].Parts[j].CompletedAt = time.Now()
			}
		}
	}
	b.progress[c.Param("id")] = d
	return c.JSON(http.StatusOK, d)
}

// auth

// updateAttributes persists the full name at the provider and
// denormalizes it into the caller's existing submission records.
func (b *CourseBackend) updateAttributes(c echo.Context) error {
	var req struct {
		FullName string `json:"fullName"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	accessToken := c.Request().Header.Get("X-Access-Token")
	if accessToken == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing access token"})
	}
	if _, err := ParseTestToken(accessToken); err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid access token"})
	}
	claims := getClaims(c)

	if b.Provider != nil {
		b.Provider.SetAttribute(claims.Email, session.AttrFullName, req.FullName)
	}

	b.mu.Lock()
	for id, sub := range b.submissions {
		if sub.Username == claims.Email {
			sub.FullName = req.FullName
			b.submissions[id] = sub
		}
	}
	b.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]string{"fullName": req.FullName})
}

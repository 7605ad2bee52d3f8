package testutil

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/maabara/core"
	"github.com/trezcool/maabara/core/lab"
	"github.com/trezcool/maabara/core/session"
	"github.com/trezcool/maabara/core/student"
	"github.com/trezcool/maabara/core/submission"
	backendsvc "github.com/trezcool/maabara/services/backend"
	credsvc "github.com/trezcool/maabara/services/credential"
	"github.com/trezcool/maabara/storage/tokencache"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type fixture struct {
	provider *CredentialProvider
	backend  *CourseBackend
	cache    *tokencache.Cache
	manager  *session.Manager
	client   *backendsvc.Client
	conf     *core.Config
}

func setup(t *testing.T) *fixture {
	t.Helper()

	provider := NewCredentialProvider()
	t.Cleanup(provider.Close)
	backend := NewCourseBackend(provider)
	t.Cleanup(backend.Close)

	f, err := os.CreateTemp("", "portal-test-*.db")
	if err != nil {
		t.Fatalf("could not create temp file: %v", err)
	}
	path := f.Name()
	f.Close()
	cache, err := tokencache.NewCacheFromFile(path)
	if err != nil {
		t.Fatalf("could not open cache: %v", err)
	}
	t.Cleanup(func() {
		cache.Close()
		os.Remove(path)
	})

	conf := &core.Config{
		CredentialEndpoint:  provider.Server.URL,
		APIBaseURL:          backend.Server.URL,
		HTTPTimeout:         5 * time.Second,
		TokenExpiration:     time.Hour,
		RefreshThreshold:    10 * time.Minute,
		SessionMaxAge:       7 * 24 * time.Hour,
		RequiredEmailSuffix: "@gatech.edu",
		MaxUploadBytes:      500 * 1024 * 1024,
	}

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)
	session.InitValidators(validate, translator, conf.RequiredEmailSuffix)

	httpClient := &http.Client{Timeout: conf.HTTPTimeout}
	store := credsvc.NewClient(conf, httpClient)
	client := backendsvc.NewClient(conf, httpClient)
	manager := session.NewManager(store, cache, client, conf, nopLogger{}, validate)

	return &fixture{
		provider: provider,
		backend:  backend,
		cache:    cache,
		manager:  manager,
		client:   client,
		conf:     conf,
	}
}

func (f *fixture) addStudent(email, pwd string) {
	f.provider.AddAccount(email, pwd, map[string]string{
		session.AttrRole:      session.RoleStudent,
		session.AttrStudentID: "903000001",
		session.AttrFullName:  "George Burdell",
	})
}

func (f *fixture) addStaff(email, pwd string) {
	f.provider.AddAccount(email, pwd, map[string]string{
		session.AttrRole:     session.RoleStaff,
		session.AttrFullName: "Ada Staff",
	})
}

func TestSignInLifecycle(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.addStudent("gburdell@gatech.edu", "hunter2222")

	// wrong password surfaces the friendly credential error
	err := f.manager.SignIn(ctx, "gburdell@gatech.edu", "wrong")
	assert.Equal(t, session.ErrInvalidCredentials, errors.Cause(err))
	assert.Equal(t, session.Unauthenticated, f.manager.State().State)

	// correct credentials persist the session
	err = f.manager.SignIn(ctx, "GBurdell@gatech.edu", "hunter2222")
	assert.NoError(t, err)
	st := f.manager.State()
	assert.Equal(t, session.Authenticated, st.State)
	assert.Equal(t, session.RoleStudent, st.User.Role)
	assert.Equal(t, "George Burdell", st.User.FullName)

	sess, err := f.cache.Load()
	assert.NoError(t, err)
	assert.True(t, sess.HasTokens())
	assert.False(t, sess.LastRefreshTime.IsZero())
	assert.False(t, sess.InitialSignInTime.IsZero())

	// a new manager over the same cache picks the session back up
	m2 := session.NewManager(
		credsvc.NewClient(f.conf, nil), f.cache, f.client, f.conf, nopLogger{},
		validator.New(),
	)
	assert.NoError(t, m2.CheckAuthState(ctx))
	assert.True(t, m2.State().IsAuthenticated())

	// sign out revokes everywhere and clears the cache
	assert.NoError(t, f.manager.SignOut(ctx))
	sess, _ = f.cache.Load()
	assert.True(t, sess.IsZero())
	assert.Equal(t, 1, f.provider.Calls("GlobalSignOut"))

	// the cleared cache resolves straight to unauthenticated
	assert.NoError(t, m2.CheckAuthState(ctx))
	assert.Equal(t, session.Unauthenticated, m2.State().State)
}

func TestSignUpAndConfirm(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	// outside the institution's domain: no provider call at all
	err := f.manager.SignUp(ctx, "someone@otherschool.edu", "hunter2222")
	assert.Error(t, err)
	assert.Equal(t, 0, f.provider.Calls("SignUp"))

	assert.NoError(t, f.manager.SignUp(ctx, "newkid@gatech.edu", "hunter2222"))

	// unconfirmed accounts cannot sign in yet
	err = f.manager.SignIn(ctx, "newkid@gatech.edu", "hunter2222")
	assert.Error(t, err)

	assert.Error(t, f.manager.ConfirmSignUp(ctx, "newkid@gatech.edu", "000000"))
	assert.NoError(t, f.manager.ConfirmSignUp(ctx, "newkid@gatech.edu", ConfirmationCode))

	assert.NoError(t, f.manager.SignIn(ctx, "newkid@gatech.edu", "hunter2222"))
	// no full name attribute yet
	assert.Equal(t, session.AuthenticatedNeedsName, f.manager.State().State)

	// setting the name through the backend clears the needs-name state
	assert.NoError(t, f.manager.UpdateUserAttributes(ctx, "New Kid"))
	assert.Equal(t, session.Authenticated, f.manager.State().State)
	assert.Equal(t, "New Kid", f.manager.State().User.FullName)
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.addStudent("gburdell@gatech.edu", "oldpassword")

	assert.NoError(t, f.manager.ForgotPassword(ctx, "gburdell@gatech.edu"))
	assert.NoError(t, f.manager.ConfirmForgotPassword(ctx, "gburdell@gatech.edu", ConfirmationCode, "newpassword1"))
	assert.NoError(t, f.manager.SignIn(ctx, "gburdell@gatech.edu", "newpassword1"))

	// attempt-limited resets surface the guidance error
	f.provider.AttemptLimited = true
	err := f.manager.ForgotPassword(ctx, "gburdell@gatech.edu")
	assert.Equal(t, session.ErrAttemptLimit, err)
}

func TestLockedLabAccess(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.addStudent("gburdell@gatech.edu", "hunter2222")
	f.addStaff("staff@gatech.edu", "hunter2222")
	f.backend.AddLab(lab.Lab{LabID: "lab3", Title: "Interrupts", Locked: true, Order: 3})

	assert.NoError(t, f.manager.SignIn(ctx, "gburdell@gatech.edu", "hunter2222"))
	token, err := f.manager.IDToken()
	assert.NoError(t, err)

	// the lock bars the student from the detail view
	_, err = f.client.Lab(ctx, token, "lab3")
	assert.Equal(t, lab.ErrAccessDenied, errors.Cause(err))

	// but not from the listing
	labs, err := f.client.Labs(ctx, token)
	assert.NoError(t, err)
	assert.Len(t, labs, 1)
	assert.Equal(t, lab.StatusLocked, labs[0].Status())

	// staff sees the detail and can unlock class-wide
	assert.NoError(t, f.manager.SignOut(ctx))
	assert.NoError(t, f.manager.SignIn(ctx, "staff@gatech.edu", "hunter2222"))
	staffToken, _ := f.manager.IDToken()
	_, err = f.client.Lab(ctx, staffToken, "lab3")
	assert.NoError(t, err)
	assert.NoError(t, f.client.UnlockLab(ctx, staffToken, "lab3"))

	// the student gets in now
	assert.NoError(t, f.manager.SignOut(ctx))
	assert.NoError(t, f.manager.SignIn(ctx, "gburdell@gatech.edu", "hunter2222"))
	token, _ = f.manager.IDToken()
	l, err := f.client.Lab(ctx, token, "lab3")
	assert.NoError(t, err)
	assert.Equal(t, lab.StatusUnlocked, l.Status())
}

func TestUploadPipeline(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.addStudent("gburdell@gatech.edu", "hunter2222")
	assert.NoError(t, f.manager.SignIn(ctx, "gburdell@gatech.edu", "hunter2222"))

	uploader := submission.NewUploader(f.client, f.manager, nil, f.conf.MaxUploadBytes)
	content := bytes.Repeat([]byte("frame"), 2048) // 10 KiB stand-in for a video

	sub, err := uploader.Upload(ctx, submission.File{
		Name:        "part1-demo.mp4",
		ContentType: "video/mp4",
		Size:        int64(len(content)),
		Body:        bytes.NewReader(content),
	}, "lab1", "part1", "blinks at 2Hz as required")
	assert.NoError(t, err)

	assert.Equal(t, submission.StatusPending, sub.Status)
	assert.Equal(t, "George Burdell", sub.FullName)
	assert.NotEmpty(t, sub.FileKey)

	// the bytes really landed in the object store under the presigned key
	stored, ok := f.backend.Object(sub.FileKey)
	assert.True(t, ok)
	assert.Equal(t, content, stored)
	assert.Equal(t, 1, f.backend.StoragePuts)

	// self-checkoff registers a record with no file
	sub2, err := uploader.SelfCheckoff(ctx, "lab1", "part2", "verified in lab")
	assert.NoError(t, err)
	assert.True(t, sub2.SelfCheckoff)
	assert.Empty(t, sub2.FileKey)
	assert.Equal(t, 1, f.backend.StoragePuts) // still just the one PUT
}

func TestReviewQueueFlow(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.addStaff("staff@gatech.edu", "hunter2222")
	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"s1", "s2", "s3"} {
		f.backend.AddSubmission(submission.PartSubmission{
			SubmissionID: id,
			LabID:        "lab1",
			PartID:       "part1",
			Username:     "gburdell@gatech.edu",
			FileKey:      id + ".mp4",
			Status:       submission.StatusPending,
			SubmittedAt:  Tick(base, i),
			UpdatedAt:    Tick(base, i),
		})
	}
	assert.NoError(t, f.manager.SignIn(ctx, "staff@gatech.edu", "hunter2222"))

	reviewer := submission.NewController(f.client, f.manager, nopLogger{}, "")
	assert.NoError(t, reviewer.Fetch(ctx, submission.QueueFilters{Status: submission.StatusPending}))
	assert.Equal(t, 3, reviewer.PendingCount())

	current, ok := reviewer.Current()
	assert.True(t, ok)
	assert.Equal(t, "s1", current.SubmissionID)

	// reject demands feedback before any network traffic
	err := reviewer.Reject(ctx, current, "")
	assert.Equal(t, submission.ErrFeedbackRequired, err)
	assert.Equal(t, 0, f.backend.ReviewPuts)

	// a decision round-trips and the record lands reviewed
	assert.NoError(t, reviewer.Approve(ctx, current, ""))
	assert.Equal(t, 1, f.backend.ReviewPuts)
	stored, _ := f.backend.Submission("s1")
	assert.Equal(t, submission.StatusApproved, stored.Status)
	assert.Equal(t, "Great job!", stored.Feedback)
	assert.Equal(t, "staff@gatech.edu", stored.ReviewedBy)

	current, ok = reviewer.Current()
	assert.True(t, ok)
	assert.Equal(t, "s2", current.SubmissionID)

	// queue endpoint down: the fallback serves the same view
	f.backend.QueueDisabled = true
	assert.NoError(t, reviewer.Fetch(ctx, submission.QueueFilters{Status: submission.StatusPending}))
	assert.Equal(t, 2, reviewer.PendingCount())
	items := reviewer.Items()
	assert.Len(t, items, 2)
	assert.Equal(t, "s2", items[0].SubmissionID)
	assert.Equal(t, "s3", items[1].SubmissionID)

	// a backend failure leaves the local queue untouched
	f.backend.FailReviews = true
	assert.Error(t, reviewer.Reject(ctx, items[0], "redo with the scope attached"))
	assert.Len(t, reviewer.Items(), 2)
}

func TestLabEditorRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.addStaff("staff@gatech.edu", "hunter2222")
	f.backend.AddLab(lab.Lab{LabID: "lab2", Title: "Timers", Order: 2})
	assert.NoError(t, f.manager.SignIn(ctx, "staff@gatech.edu", "hunter2222"))
	token, _ := f.manager.IDToken()

	updated := lab.Lab{
		LabID: "lab2",
		Title: "Timers and PWM",
		Order: 2,
		Parts: []lab.Part{
			{PartID: "part1", Title: "Blink via timer ISR", Order: 1, RequiresCheckoff: true, CheckoffType: lab.CheckoffVideo},
			{PartID: "part2", Title: "PWM dimming", Order: 2, RequiresCheckoff: true, CheckoffType: lab.CheckoffInLab},
		},
		StructuredContent: &lab.Content{
			Sections: []lab.Section{
				{
					ID: "intro", Type: "introduction", Title: "Overview", Order: 1,
					Blocks: []lab.ContentBlock{
						{Type: "text", Content: "Configure TIM2 in upcounting mode."},
						{Type: "code", Content: "TIM2->PSC = 7999;", Language: "c"},
					},
				},
			},
			Resources: []lab.Resource{
				{ID: "ds", Type: "document", Title: "Reference manual", URL: "https://example.com/rm0368.pdf"},
			},
		},
	}
	_, err := f.client.UpdateLab(ctx, token, updated)
	assert.NoError(t, err)

	got, err := f.client.Lab(ctx, token, "lab2")
	assert.NoError(t, err)
	got.UpdatedAt = updated.UpdatedAt // server-stamped
	AssertJSONEqual(t, MarshallObj(t, got), MarshallObj(t, updated))
}

func TestStudentsAndProgress(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.addStaff("staff@gatech.edu", "hunter2222")
	grade := 95.0
	f.backend.AddStudent(student.Student{
		Name: "George Burdell", Section: "A", HasAccount: true,
		ProgressSummary: &student.ProgressSummary{CompletedLabs: 1, TotalLabs: 5, OverallProgress: 20},
	})
	f.backend.SetProgress("903000001", student.Detail{
		Student: student.Student{Name: "George Burdell", Section: "A", HasAccount: true},
		Progress: []student.LabProgress{
			{LabID: "lab1", Title: "GPIO", Status: lab.StatusUnlocked, Parts: []student.PartProgress{
				{PartID: "part1", CheckoffType: lab.CheckoffVideo},
			}},
		},
	})
	assert.NoError(t, f.manager.SignIn(ctx, "staff@gatech.edu", "hunter2222"))
	token, _ := f.manager.IDToken()

	students, err := f.client.Students(ctx, token)
	assert.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, "George Burdell", students[0].Name)

	// manual checkoff with a grade
	done := true
	assert.NoError(t, f.client.UpdateProgress(ctx, token, "903000001", student.CheckoffUpdate{
		LabID:     "lab1",
		PartID:    "part1",
		Completed: &done,
		Grade:     &grade,
	}))
	detail, err := f.client.Progress(ctx, token, "903000001")
	assert.NoError(t, err)
	assert.True(t, detail.Progress[0].Completed)
	assert.NotNil(t, detail.Progress[0].Grade)
	assert.Equal(t, grade, *detail.Progress[0].Grade)
	assert.True(t, detail.Progress[0].Parts[0].Completed)
}

func TestNameDenormalization(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.provider.AddAccount("newkid@gatech.edu", "hunter2222", map[string]string{
		session.AttrRole: session.RoleStudent,
	})
	assert.NoError(t, f.manager.SignIn(ctx, "newkid@gatech.edu", "hunter2222"))

	uploader := submission.NewUploader(f.client, f.manager, nil, f.conf.MaxUploadBytes)
	sub, err := uploader.SelfCheckoff(ctx, "lab1", "part1", "")
	assert.NoError(t, err)
	assert.Empty(t, sub.FullName)
	assert.Equal(t, "newkid@gatech.edu", sub.DisplayName()) // username fallback

	// setting the name rewrites existing records
	assert.NoError(t, f.manager.UpdateUserAttributes(ctx, "New Kid"))
	stored, _ := f.backend.Submission(sub.SubmissionID)
	assert.Equal(t, "New Kid", stored.FullName)
	assert.Equal(t, "New Kid", stored.DisplayName())
}

// Package backendsvc is the HTTP client for the course backend API, an
// external collaborator consumed as a set of resource endpoints.
package backendsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/maabara/core"
	"github.com/trezcool/maabara/core/lab"
	"github.com/trezcool/maabara/core/session"
	"github.com/trezcool/maabara/core/student"
	"github.com/trezcool/maabara/core/submission"
)

// APIError is a non-2xx backend response; the raw body is kept for
// diagnostics.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL string
	client  *http.Client
}

var (
	_ submission.Backend       = (*Client)(nil)
	_ session.AttributeUpdater = (*Client)(nil)
)

func NewClient(conf *core.Config, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: conf.HTTPTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(conf.APIBaseURL, "/"),
		client:  client,
	}
}

// Labs

func (c *Client) Labs(ctx context.Context, idToken string) ([]lab.Lab, error) {
	var labs []lab.Lab
	err := c.do(ctx, http.MethodGet, "/labs", idToken, nil, nil, &labs)
	return labs, err
}

// Lab fetches one lab; a 403 means the lab is locked for this student and
// maps to lab.ErrAccessDenied.
func (c *Client) Lab(ctx context.Context, idToken, labID string) (lab.Lab, error) {
	var l lab.Lab
	err := c.do(ctx, http.MethodGet, "/labs/"+url.PathEscape(labID), idToken, nil, nil, &l)
	if apiErr, ok := errors.Cause(err).(*APIError); ok && apiErr.StatusCode == http.StatusForbidden {
		return lab.Lab{}, lab.ErrAccessDenied
	}
	return l, err
}

func (c *Client) UpdateLab(ctx context.Context, idToken string, l lab.Lab) (lab.Lab, error) {
	var out lab.Lab
	err := c.do(ctx, http.MethodPut, "/labs/"+url.PathEscape(l.LabID), idToken, nil, l, &out)
	return out, err
}

// LockLab locks the lab class-wide; only staff may call it.
func (c *Client) LockLab(ctx context.Context, idToken, labID string) error {
	return c.do(ctx, http.MethodPost, "/labs/"+url.PathEscape(labID)+"/lock", idToken, nil, nil, nil)
}

// UnlockLab clears the class-wide lock.
func (c *Client) UnlockLab(ctx context.Context, idToken, labID string) error {
	return c.do(ctx, http.MethodPost, "/labs/"+url.PathEscape(labID)+"/unlock", idToken, nil, nil, nil)
}

// Part submissions

func (c *Client) PartSubmissions(ctx context.Context, idToken string, filters submission.QueueFilters) ([]submission.PartSubmission, error) {
	var subs []submission.PartSubmission
	err := c.do(ctx, http.MethodGet, "/part-submissions", idToken, filterValues(filters), nil, &subs)
	return subs, err
}

func (c *Client) PartSubmission(ctx context.Context, idToken, submissionID string) (submission.PartSubmission, error) {
	var sub submission.PartSubmission
	err := c.do(ctx, http.MethodGet, "/part-submissions/"+url.PathEscape(submissionID), idToken, nil, nil, &sub)
	return sub, err
}

func (c *Client) CreatePartSubmission(ctx context.Context, idToken string, req submission.NewPartSubmission) (submission.PartSubmission, error) {
	var sub submission.PartSubmission
	err := c.do(ctx, http.MethodPost, "/part-submissions", idToken, nil, req, &sub)
	return sub, err
}

func (c *Client) UpdatePartSubmission(ctx context.Context, idToken, submissionID string, req submission.ReviewUpdate) (submission.PartSubmission, error) {
	var sub submission.PartSubmission
	err := c.do(ctx, http.MethodPut, "/part-submissions/"+url.PathEscape(submissionID), idToken, nil, req, &sub)
	return sub, err
}

func (c *Client) PresignedUpload(ctx context.Context, idToken string, req submission.PresignRequest) (submission.PresignTarget, error) {
	var target submission.PresignTarget
	err := c.do(ctx, http.MethodPost, "/part-submissions/presigned-url", idToken, nil, req, &target)
	return target, err
}

func (c *Client) Queue(ctx context.Context, idToken string, filters submission.QueueFilters) (submission.Queue, error) {
	var queue submission.Queue
	err := c.do(ctx, http.MethodGet, "/part-submissions/queue", idToken, filterValues(filters), nil, &queue)
	return queue, err
}

// Students & progress

func (c *Client) Students(ctx context.Context, idToken string) ([]student.Student, error) {
	var students []student.Student
	err := c.do(ctx, http.MethodGet, "/students", idToken, nil, nil, &students)
	return students, err
}

func (c *Client) Progress(ctx context.Context, idToken, studentID string) (student.Detail, error) {
	var detail student.Detail
	err := c.do(ctx, http.MethodGet, "/progress/"+url.PathEscape(studentID), idToken, nil, nil, &detail)
	return detail, err
}

func (c *Client) UpdateProgress(ctx context.Context, idToken, studentID string, upd student.CheckoffUpdate) error {
	return c.do(ctx, http.MethodPut, "/progress/"+url.PathEscape(studentID), idToken, nil, upd, nil)
}

// Auth

// UpdateAttributes persists the user's full name; the backend forwards
// the access token to the Credential Store and denormalizes the name
// into existing submission records.
func (c *Client) UpdateAttributes(ctx context.Context, idToken, accessToken, fullName string) error {
	body := map[string]string{"fullName": fullName}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/update-attributes", idToken, nil, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Access-Token", accessToken)
	return c.send(req, nil)
}

// plumbing

func (c *Client) do(ctx context.Context, method, path, idToken string, query url.Values, in, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, idToken, query, in)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path, idToken string, query url.Values, in interface{}) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrapf(err, "marshaling %s %s body", method, path)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s %s request", method, path)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idToken != "" {
		req.Header.Set("Authorization", "Bearer "+idToken)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading %s %s response", req.Method, req.URL.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(data) > 0 {
		if err = json.Unmarshal(data, out); err != nil {
			return errors.Wrapf(err, "decoding %s %s response", req.Method, req.URL.Path)
		}
	}
	return nil
}

func filterValues(filters submission.QueueFilters) url.Values {
	v := make(url.Values)
	if filters.Status != "" {
		v.Set("status", filters.Status)
	}
	if filters.LabID != "" {
		v.Set("labId", filters.LabID)
	}
	if filters.PartID != "" {
		v.Set("partId", filters.PartID)
	}
	if filters.StudentID != "" {
		v.Set("studentId", filters.StudentID)
	}
	if filters.SortBy != "" {
		v.Set("sortBy", filters.SortBy)
	}
	if filters.SortDirection != "" {
		v.Set("sortDirection", filters.SortDirection)
	}
	return v
}

package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

var (
	// errors
	ErrNotVideo         = errors.New("please select a video file")
	ErrFileTooLarge     = errors.New("file size exceeds the 500MB limit")
	ErrNoUploadTarget   = errors.New("failed to get upload URL")
	ErrTransferFailed   = errors.New("upload failed")
	ErrUploadInProgress = errors.New("an upload is already in progress")
)

type (
	// File is the local file to upload; Body is read exactly once.
	File struct {
		Name        string
		ContentType string
		Size        int64
		Body        io.Reader
	}

	// Uploader runs the three-phase upload protocol: acquire a presigned
	// target, PUT the bytes directly to the object store, then register
	// the submission record. One upload is active at a time per Uploader;
	// transfer is at-most-once, with no automatic retry.
	Uploader struct {
		backend  Backend
		tokens   TokenSource
		client   *http.Client
		maxBytes int64

		// OnProgress, when set, receives every progress snapshot.
		OnProgress func(UploadProgress)
		// OnComplete, when set, is invoked only after the submission
		// record has been registered.
		OnComplete func(submissionID, fileKey string)

		mu       sync.Mutex
		progress UploadProgress
		active   bool
	}
)

func NewUploader(backend Backend, tokens TokenSource, client *http.Client, maxBytes int64) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Uploader{
		backend:  backend,
		tokens:   tokens,
		client:   client,
		maxBytes: maxBytes,
		progress: UploadProgress{Status: UploadIdle},
	}
}

// Progress returns a snapshot of the current upload's state.
func (u *Uploader) Progress() UploadProgress {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.progress
}

// Reset clears all upload state back to idle. No partial state survives;
// a new file always restarts the full sequence. An in-flight transfer is
// aborted through its context, not by Reset.
func (u *Uploader) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active {
		return
	}
	u.progress = UploadProgress{Status: UploadIdle}
}

// Upload runs all four phases for a video-backed submission. Cancelling
// ctx aborts an in-flight transfer at the transport level.
func (u *Uploader) Upload(ctx context.Context, file File, labID, partID, notes string) (PartSubmission, error) {
	if err := u.begin(file.Name); err != nil {
		return PartSubmission{}, err
	}
	defer u.end()

	// phase 1: validate, no network
	if !strings.HasPrefix(file.ContentType, "video/") {
		return PartSubmission{}, u.fail(ErrNotVideo)
	}
	if u.maxBytes > 0 && file.Size > u.maxBytes {
		return PartSubmission{}, u.fail(ErrFileTooLarge)
	}

	token, err := u.tokens.IDToken()
	if err != nil {
		return PartSubmission{}, u.fail(err)
	}

	// phase 2: acquire the transfer target
	target, err := u.backend.PresignedUpload(ctx, token, PresignRequest{
		FileName: file.Name,
		FileType: file.ContentType,
		LabID:    labID,
		PartID:   partID,
	})
	if err != nil {
		// surface the raw response for diagnostics
		return PartSubmission{}, u.fail(pkgerrors.Wrap(ErrNoUploadTarget, err.Error()))
	}

	u.setUploading(file.Name)

	// phase 3: direct binary PUT to the object store
	if err = u.transfer(ctx, target.UploadURL, file); err != nil {
		return PartSubmission{}, u.fail(err)
	}

	// phase 4: register the submission record
	sub, err := u.backend.CreatePartSubmission(ctx, token, NewPartSubmission{
		LabID:   labID,
		PartID:  partID,
		FileKey: target.FileKey,
		Notes:   notes,
	})
	if err != nil {
		return PartSubmission{}, u.fail(err)
	}

	u.setProgress(func(p *UploadProgress) {
		p.Progress = 100
		p.Status = UploadSuccess
	})
	if u.OnComplete != nil {
		u.OnComplete(sub.SubmissionID, target.FileKey)
	}
	return sub, nil
}

// SelfCheckoff registers a submission directly, with no file key, for lab
// parts that need no video evidence.
func (u *Uploader) SelfCheckoff(ctx context.Context, labID, partID, notes string) (PartSubmission, error) {
	token, err := u.tokens.IDToken()
	if err != nil {
		return PartSubmission{}, err
	}
	sub, err := u.backend.CreatePartSubmission(ctx, token, NewPartSubmission{
		LabID:        labID,
		PartID:       partID,
		Notes:        notes,
		SelfCheckoff: true,
	})
	if err != nil {
		return PartSubmission{}, err
	}
	if u.OnComplete != nil {
		u.OnComplete(sub.SubmissionID, "")
	}
	return sub, nil
}

func (u *Uploader) transfer(ctx context.Context, uploadURL string, file File) error {
	body := &progressReader{
		r:     file.Body,
		total: file.Size,
		report: func(pct int) {
			u.setProgress(func(p *UploadProgress) { p.Progress = pct })
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, body)
	if err != nil {
		return pkgerrors.Wrap(err, "building storage request")
	}
	req.Header.Set("Content-Type", file.ContentType)
	req.ContentLength = file.Size

	resp, err := u.client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(ErrTransferFailed, err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return pkgerrors.Wrap(ErrTransferFailed, fmt.Sprintf("storage returned %d", resp.StatusCode))
	}
	return nil
}

func (u *Uploader) begin(fileName string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active {
		return ErrUploadInProgress
	}
	u.active = true
	u.progress = UploadProgress{FileName: fileName, Status: UploadIdle}
	return nil
}

func (u *Uploader) end() {
	u.mu.Lock()
	u.active = false
	u.mu.Unlock()
}

func (u *Uploader) setUploading(fileName string) {
	u.setProgress(func(p *UploadProgress) {
		p.FileName = fileName
		p.Progress = 0
		p.Status = UploadUploading
		p.Err = ""
	})
}

func (u *Uploader) fail(err error) error {
	u.setProgress(func(p *UploadProgress) {
		p.Status = UploadError
		p.Err = err.Error()
	})
	return err
}

func (u *Uploader) setProgress(mutate func(*UploadProgress)) {
	u.mu.Lock()
	mutate(&u.progress)
	snapshot := u.progress
	onProgress := u.OnProgress
	u.mu.Unlock()

	if onProgress != nil {
		onProgress(snapshot)
	}
}

// progressReader maps bytes read off the underlying reader to a 0-100
// percentage.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(pct int)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.total > 0 {
		pr.read += int64(n)
		pct := int(pr.read * 100 / pr.total)
		if pct > 100 {
			pct = 100
		}
		pr.report(pct)
	}
	return n, err
}

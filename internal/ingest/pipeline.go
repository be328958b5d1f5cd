// Package ingest runs the upload -> extraction -> persistence pipeline for
// policy documents, with a four-state progress indicator per upload.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"corretora/api/internal/extract"
	"corretora/api/internal/oplog"
	"corretora/api/internal/phone"
	"corretora/api/internal/store"
	"corretora/api/internal/util"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Job is the transient per-upload state. It lives only for the duration of
// one Run call and is never persisted.
type Job struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
	PolicyID string `json:"policyId,omitempty"`
}

// ObjectStore is the storage surface the pipeline needs.
type ObjectStore interface {
	Upload(ctx context.Context, ownerID, name string, r io.Reader, size int64, contentType string) (string, error)
}

// PolicyExtractor is the document-analysis surface.
type PolicyExtractor interface {
	ExtractPolicy(ctx context.Context, pdf []byte) (extract.Fields, error)
}

// PolicyStore persists the extracted record.
type PolicyStore interface {
	InsertPolicy(ctx context.Context, p store.Policy, leadDays int) (store.Policy, error)
}

type Pipeline struct {
	objects   ObjectStore
	extractor PolicyExtractor
	policies  PolicyStore
	log       *oplog.Log
}

func New(objects ObjectStore, extractor PolicyExtractor, policies PolicyStore, log *oplog.Log) *Pipeline {
	return &Pipeline{objects: objects, extractor: extractor, policies: policies, log: log}
}

// Input describes one upload. OnProgress may be nil.
type Input struct {
	OwnerID     string
	FileName    string
	ContentType string
	Data        []byte
	LeadDays    int
	OnProgress  func(Job)
}

// Run executes the pipeline. Any failure at any stage transitions the job
// straight to error with a human-readable message; the upload is not
// retried automatically. The returned error classifies the failure for the
// caller (missing credentials, empty document, remote rejection, parse
// failure, storage failure).
func (p *Pipeline) Run(ctx context.Context, in Input) (store.Policy, Job, error) {
	job := Job{
		ID:       util.NewID("job"),
		FileName: in.FileName,
		Status:   StatusPending,
		Progress: 0,
	}
	notify := func() {
		if in.OnProgress != nil {
			in.OnProgress(job)
		}
	}
	fail := func(message string, err error) (store.Policy, Job, error) {
		job.Status = StatusError
		job.Error = message
		notify()
		p.log.Error("ingest", message, map[string]string{
			"file":  in.FileName,
			"owner": in.OwnerID,
			"error": err.Error(),
		})
		return store.Policy{}, job, err
	}

	if len(in.Data) == 0 {
		return fail("document is empty or unreadable", extract.ErrEmptyDocument)
	}
	notify()

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	job.Status = StatusProcessing
	reader := &progressReader{
		r:     bytes.NewReader(in.Data),
		total: int64(len(in.Data)),
		onChunk: func(pct int) {
			// The transfer spans the first half of the progress bar;
			// extraction and persistence fill the rest.
			job.Progress = pct / 2
			notify()
		},
	}
	key, err := p.objects.Upload(ctx, in.OwnerID, in.FileName, reader, int64(len(in.Data)), contentType)
	if err != nil {
		return fail("could not store the document", fmt.Errorf("store document: %w", err))
	}
	job.Progress = 50
	notify()

	fields, err := p.extractor.ExtractPolicy(ctx, in.Data)
	if err != nil {
		var parseErr *extract.ParseError
		switch {
		case errors.Is(err, extract.ErrNoCredentials):
			return fail("document analysis is not configured", err)
		case errors.As(err, &parseErr):
			return fail("analysis response was not in the expected shape", err)
		default:
			return fail("document analysis failed", err)
		}
	}

	policy, err := p.buildPolicy(in.OwnerID, key, fields)
	if err != nil {
		return fail("extracted fields are invalid", err)
	}

	saved, err := p.policies.InsertPolicy(ctx, policy, in.LeadDays)
	if err != nil {
		return fail("could not save the policy record", err)
	}

	job.Status = StatusSuccess
	job.Progress = 100
	job.PolicyID = saved.ID
	notify()
	p.log.Info("ingest", "policy extracted and saved", map[string]string{
		"file":   in.FileName,
		"policy": saved.ID,
	})
	return saved, job, nil
}

func (p *Pipeline) buildPolicy(ownerID, attachmentRef string, fields extract.Fields) (store.Policy, error) {
	issue, err := extract.ParseDate(fields.IssueDate)
	if err != nil {
		return store.Policy{}, fmt.Errorf("issue date: %w", err)
	}
	expiry, err := extract.ParseDate(fields.ExpiryDate)
	if err != nil {
		return store.Policy{}, fmt.Errorf("expiry date: %w", err)
	}

	customerPhone := fields.CustomerPhone
	if customerPhone != "" {
		if canonical, err := phone.Normalize(customerPhone); err == nil {
			customerPhone = canonical
		}
	}

	return store.Policy{
		OwnerID:        ownerID,
		PolicyNumber:   fields.PolicyNumber,
		CustomerName:   fields.CustomerName,
		CustomerPhone:  customerPhone,
		IssueDate:      issue,
		ExpiryDate:     expiry,
		Insurer:        fields.Insurer,
		CoverageAmount: fields.CoverageAmount,
		Premium:        fields.Premium,
		Status:         store.PolicyActive,
		Type:           store.NormalizePolicyType(fields.Type),
		AttachmentRef:  attachmentRef,
	}, nil
}

// progressReader reports transfer percentage as the object store consumes
// the stream. Callbacks fire at most once per whole percent.
type progressReader struct {
	r       io.Reader
	total   int64
	read    int64
	lastPct int
	onChunk func(pct int)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.total > 0 {
		pr.read += int64(n)
		pct := int(pr.read * 100 / pr.total)
		if pct > 100 {
			pct = 100
		}
		if pct != pr.lastPct {
			pr.lastPct = pct
			if pr.onChunk != nil {
				pr.onChunk(pct)
			}
		}
	}
	return n, err
}

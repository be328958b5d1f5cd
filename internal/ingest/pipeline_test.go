package ingest

import (
	"context"
	"errors"
	"io"
	"testing"

	"corretora/api/internal/extract"
	"corretora/api/internal/oplog"
	"corretora/api/internal/store"
)

type fakeObjects struct {
	key string
	err error
}

func (f *fakeObjects) Upload(_ context.Context, _, _ string, _ io.Reader, _ int64, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.key == "" {
		return "policies/u1/up_doc.pdf", nil
	}
	return f.key, nil
}

type fakeExtractor struct {
	fields extract.Fields
	err    error
}

func (f *fakeExtractor) ExtractPolicy(context.Context, []byte) (extract.Fields, error) {
	return f.fields, f.err
}

type fakePolicies struct {
	inserted *store.Policy
	leadDays int
	err      error
}

func (f *fakePolicies) InsertPolicy(_ context.Context, p store.Policy, leadDays int) (store.Policy, error) {
	if f.err != nil {
		return store.Policy{}, f.err
	}
	p.ID = "pol_test"
	f.inserted = &p
	f.leadDays = leadDays
	return p, nil
}

func validFields() extract.Fields {
	return extract.Fields{
		PolicyNumber:   "AP-001",
		CustomerName:   "Ana Souza",
		CustomerPhone:  "(11) 98765-4321",
		IssueDate:      "2025-01-10",
		ExpiryDate:     "2026-01-10",
		Insurer:        "Porto",
		CoverageAmount: 150000,
		Premium:        1200.5,
		Type:           "auto",
	}
}

func TestRunHappyPath(t *testing.T) {
	policies := &fakePolicies{}
	p := New(&fakeObjects{}, &fakeExtractor{fields: validFields()}, policies, oplog.New(10))

	var states []Status
	saved, job, err := p.Run(context.Background(), Input{
		OwnerID:  "u1",
		FileName: "apolice.pdf",
		Data:     []byte("%PDF-1.4"),
		LeadDays: 30,
		OnProgress: func(j Job) {
			states = append(states, j.Status)
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != StatusSuccess || job.Progress != 100 {
		t.Fatalf("expected terminal success, got %+v", job)
	}
	if job.PolicyID != saved.ID {
		t.Fatalf("job not linked to saved policy")
	}
	want := []Status{StatusPending, StatusProcessing, StatusSuccess}
	if len(states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, states)
		}
	}
	if policies.inserted.AttachmentRef != "policies/u1/up_doc.pdf" {
		t.Fatalf("attachment ref not set: %+v", policies.inserted)
	}
	if policies.inserted.CustomerPhone != "5511987654321" {
		t.Fatalf("customer phone not canonicalized: %s", policies.inserted.CustomerPhone)
	}
	if policies.inserted.Type != store.PolicyAuto || policies.leadDays != 30 {
		t.Fatalf("unexpected insert: %+v lead=%d", policies.inserted, policies.leadDays)
	}
}

func TestRunEmptyDocument(t *testing.T) {
	p := New(&fakeObjects{}, &fakeExtractor{}, &fakePolicies{}, oplog.New(10))
	_, job, err := p.Run(context.Background(), Input{OwnerID: "u1", FileName: "x.pdf"})
	if !errors.Is(err, extract.ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
	if job.Status != StatusError || job.Error == "" {
		t.Fatalf("expected error state with message, got %+v", job)
	}
}

func TestRunStorageFailure(t *testing.T) {
	p := New(&fakeObjects{err: errors.New("bucket gone")}, &fakeExtractor{}, &fakePolicies{}, oplog.New(10))
	_, job, err := p.Run(context.Background(), Input{OwnerID: "u1", FileName: "x.pdf", Data: []byte("d")})
	if err == nil {
		t.Fatalf("expected error")
	}
	if job.Status != StatusError || job.Error != "could not store the document" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestRunMissingCredentials(t *testing.T) {
	p := New(&fakeObjects{}, &fakeExtractor{err: extract.ErrNoCredentials}, &fakePolicies{}, oplog.New(10))
	_, job, err := p.Run(context.Background(), Input{OwnerID: "u1", FileName: "x.pdf", Data: []byte("d")})
	if !errors.Is(err, extract.ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if job.Error != "document analysis is not configured" {
		t.Fatalf("unexpected message: %q", job.Error)
	}
}

func TestRunParseFailureKeepsRaw(t *testing.T) {
	raw := "no json here"
	p := New(&fakeObjects{}, &fakeExtractor{err: &extract.ParseError{Raw: raw}}, &fakePolicies{}, oplog.New(10))
	_, job, err := p.Run(context.Background(), Input{OwnerID: "u1", FileName: "x.pdf", Data: []byte("d")})
	var parseErr *extract.ParseError
	if !errors.As(err, &parseErr) || parseErr.Raw != raw {
		t.Fatalf("expected ParseError with raw output, got %v", err)
	}
	if job.Status != StatusError {
		t.Fatalf("expected error state, got %+v", job)
	}
}

func TestRunInvalidDatesRejected(t *testing.T) {
	fields := validFields()
	fields.ExpiryDate = "soon"
	p := New(&fakeObjects{}, &fakeExtractor{fields: fields}, &fakePolicies{}, oplog.New(10))
	_, job, err := p.Run(context.Background(), Input{OwnerID: "u1", FileName: "x.pdf", Data: []byte("d")})
	if err == nil {
		t.Fatalf("expected error for bad date")
	}
	if job.Error != "extracted fields are invalid" {
		t.Fatalf("unexpected message: %q", job.Error)
	}
}

func TestRunInsertFailure(t *testing.T) {
	p := New(&fakeObjects{}, &fakeExtractor{fields: validFields()}, &fakePolicies{err: errors.New("db down")}, oplog.New(10))
	_, job, err := p.Run(context.Background(), Input{OwnerID: "u1", FileName: "x.pdf", Data: []byte("d")})
	if err == nil {
		t.Fatalf("expected error")
	}
	if job.Error != "could not save the policy record" {
		t.Fatalf("unexpected message: %q", job.Error)
	}
}

// chunkedObjects consumes the upload stream in fixed-size reads, the way a
// real object store client does.
type chunkedObjects struct {
	chunk int
}

func (c *chunkedObjects) Upload(_ context.Context, _, _ string, r io.Reader, _ int64, _ string) (string, error) {
	buf := make([]byte, c.chunk)
	for {
		if _, err := r.Read(buf); err != nil {
			if err == io.EOF {
				return "policies/u1/up_doc.pdf", nil
			}
			return "", err
		}
	}
}

func TestRunReportsTransferProgress(t *testing.T) {
	policies := &fakePolicies{}
	p := New(&chunkedObjects{chunk: 25}, &fakeExtractor{fields: validFields()}, policies, oplog.New(10))

	var transfer []int
	_, job, err := p.Run(context.Background(), Input{
		OwnerID:  "u1",
		FileName: "apolice.pdf",
		Data:     make([]byte, 100),
		LeadDays: 30,
		OnProgress: func(j Job) {
			if j.Status == StatusProcessing && j.Progress < 50 {
				transfer = append(transfer, j.Progress)
			}
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != StatusSuccess || job.Progress != 100 {
		t.Fatalf("expected terminal success, got %+v", job)
	}

	// 100 bytes in 25-byte reads: the callback fires at 25%, 50% and 75%
	// of the transfer, which map onto the first half of the job progress.
	want := []int{12, 25, 37}
	if len(transfer) != len(want) {
		t.Fatalf("expected transfer progress %v, got %v", want, transfer)
	}
	for i := range want {
		if transfer[i] != want[i] {
			t.Fatalf("expected transfer progress %v, got %v", want, transfer)
		}
	}
}

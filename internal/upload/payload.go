// Package upload assembles the multipart submission for the analysis service.
package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"exocal-client/internal/domain"
)

// ValidationError reports a selection that cannot be submitted.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrNoInput is returned when every slot is empty.
var ErrNoInput = &ValidationError{Message: "no input provided"}

// DemoFieldName returns the multipart field carrying a slot's demo flag.
func DemoFieldName(kind domain.DatasetKind) string {
	return "use_demo_" + string(kind)
}

// Payload is a transport-ready upload body plus its query parameters.
type Payload struct {
	Body        []byte
	ContentType string
	Query       url.Values
	Fields      []string
}

// Reader returns a fresh reader over the body.
func (p *Payload) Reader() io.Reader {
	return bytes.NewReader(p.Body)
}

// Builder constructs payloads; file access is injectable for tests.
type Builder struct {
	open func(name string) (io.ReadCloser, error)
}

// NewBuilder returns a Builder that reads files from disk.
func NewBuilder() *Builder {
	return &Builder{open: func(name string) (io.ReadCloser, error) { return os.Open(name) }}
}

// NewBuilderForTests returns a Builder with a custom file opener.
func NewBuilderForTests(open func(name string) (io.ReadCloser, error)) *Builder {
	return &Builder{open: open}
}

// Build validates the selection and encodes every non-empty slot.
func (b *Builder) Build(sel *domain.InputSelection, params domain.SubmissionParameters) (*Payload, error) {
	if !sel.HasAny() {
		return nil, ErrNoInput
	}
	params = params.Normalize()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := make([]string, 0, len(domain.DatasetKinds))

	for _, kind := range domain.DatasetKinds {
		slot := sel.Slot(kind)
		switch {
		case slot.UseDemo:
			if err := mw.WriteField(DemoFieldName(kind), "true"); err != nil {
				return nil, fmt.Errorf("write %s flag: %w", kind, err)
			}
			fields = append(fields, DemoFieldName(kind))
		case slot.FilePath != "":
			if err := b.attachFile(mw, kind, slot.FilePath); err != nil {
				return nil, err
			}
			fields = append(fields, string(kind))
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	query := url.Values{}
	query.Set("limit_targets", strconv.Itoa(params.LimitTargets))
	query.Set("seed", strconv.Itoa(params.Seed))

	return &Payload{
		Body:        body.Bytes(),
		ContentType: mw.FormDataContentType(),
		Query:       query,
		Fields:      fields,
	}, nil
}

func (b *Builder) attachFile(mw *multipart.Writer, kind domain.DatasetKind, path string) error {
	f, err := b.open(path)
	if err != nil {
		return fmt.Errorf("open %s input: %w", kind, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile(string(kind), filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create %s part: %w", kind, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s input: %w", kind, err)
	}
	return nil
}

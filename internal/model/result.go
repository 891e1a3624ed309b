package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

type ResultKind string

const (
	KindDocuments ResultKind = "documents"
	KindContent   ResultKind = "content"
	KindLink      ResultKind = "link"
)

// Result is the payload of a completed generation task. It is one of
// *DocumentsResult, *ContentResult or *LinkResult.
type Result interface {
	Kind() ResultKind
}

var ErrUnknownResult = errors.New("unrecognised result shape")

// DocumentsResult holds the rendered CV and cover letter PDFs.
type DocumentsResult struct {
	CVPDFBase64          string         `json:"cv_pdf_base64"`
	CoverLetterPDFBase64 string         `json:"cover_letter_pdf_base64"`
	FilenameCV           string         `json:"filename_cv"`
	FilenameCoverLetter  string         `json:"filename_cover_letter"`
	GenerationTimestamp  string         `json:"generation_timestamp"`
	CVData               map[string]any `json:"cv_data,omitempty"`
}

func (*DocumentsResult) Kind() ResultKind { return KindDocuments }

func (r *DocumentsResult) CVPDF() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.CVPDFBase64)
}

func (r *DocumentsResult) CoverLetterPDF() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.CoverLetterPDFBase64)
}

// ContentResult is generated CV text without rendered documents.
type ContentResult struct {
	PersonalDetails     map[string]any      `json:"personal_details"`
	ProfessionalSummary string              `json:"professional_summary"`
	WorkExperience      []map[string]any    `json:"work_experience"`
	Education           []map[string]any    `json:"education"`
	Skills              map[string][]string `json:"skills"`
	CoverLetterBody     string              `json:"cover_letter_body"`
	GenerationMetadata  map[string]any      `json:"generation_metadata"`
}

func (*ContentResult) Kind() ResultKind { return KindContent }

// LinkResult points at a document the service stored elsewhere.
type LinkResult struct {
	URL string `json:"url"`
}

func (*LinkResult) Kind() ResultKind { return KindLink }

// DecodeResult picks the result shape from its discriminating key, validates
// the document against that shape's schema and decodes it. An absent or null
// payload yields a nil Result.
func DecodeResult(raw json.RawMessage) (Result, error) {
	doc := bytes.TrimSpace(raw)
	if len(doc) == 0 || bytes.Equal(doc, []byte("null")) {
		return nil, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(doc, &keys); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	var out Result
	switch {
	case has(keys, "cv_pdf_base64"):
		out = &DocumentsResult{}
	case has(keys, "professional_summary"):
		out = &ContentResult{}
	case has(keys, "url"):
		out = &LinkResult{}
	default:
		return nil, ErrUnknownResult
	}

	if err := validate("result_"+string(out.Kind()), gojsonschema.NewBytesLoader(doc)); err != nil {
		return nil, fmt.Errorf("validate %s result: %w", out.Kind(), err)
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", out.Kind(), err)
	}
	return out, nil
}

func has(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

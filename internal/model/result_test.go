package model_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/CemRoot/cv-genius-project/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeResult_Link(t *testing.T) {
	res, err := model.DecodeResult(json.RawMessage(`{"url":"doc.pdf"}`))
	require.NoError(t, err)
	assert.Equal(t, &model.LinkResult{URL: "doc.pdf"}, res)
	assert.Equal(t, model.KindLink, res.Kind())
}

func TestDecodeResult_Documents(t *testing.T) {
	cv := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 cv"))
	letter := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 letter"))
	raw := `{
		"cv_pdf_base64": "` + cv + `",
		"cover_letter_pdf_base64": "` + letter + `",
		"filename_cv": "cv_20240501_100000.pdf",
		"filename_cover_letter": "cover_letter_20240501_100000.pdf",
		"generation_timestamp": "2024-05-01T10:00:00.123456",
		"cv_data": {"theme": "modern"}
	}`

	res, err := model.DecodeResult(json.RawMessage(raw))
	require.NoError(t, err)
	docs, ok := res.(*model.DocumentsResult)
	require.True(t, ok, "got %T", res)

	pdf, err := docs.CVPDF()
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 cv", string(pdf))
	pdf, err = docs.CoverLetterPDF()
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 letter", string(pdf))
	assert.Equal(t, "modern", docs.CVData["theme"])
}

func TestDecodeResult_Content(t *testing.T) {
	raw := `{
		"personal_details": {"full_name": "Aoife Byrne"},
		"professional_summary": "Backend engineer.",
		"work_experience": [{"company": "Liffey Payments"}],
		"education": [],
		"skills": {"technical": ["Go", "SQL"]},
		"cover_letter_body": "Dear hiring manager",
		"generation_metadata": {"model": "gemini"}
	}`
	res, err := model.DecodeResult(json.RawMessage(raw))
	require.NoError(t, err)
	content, ok := res.(*model.ContentResult)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, []string{"Go", "SQL"}, content.Skills["technical"])
}

func TestDecodeResult_Absent(t *testing.T) {
	for _, raw := range []string{"", "null", "  null "} {
		res, err := model.DecodeResult(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Nil(t, res)
	}
}

func TestDecodeResult_Rejects(t *testing.T) {
	_, err := model.DecodeResult(json.RawMessage(`{"something":"else"}`))
	assert.ErrorIs(t, err, model.ErrUnknownResult)

	_, err = model.DecodeResult(json.RawMessage(`[1,2,3]`))
	assert.Error(t, err)

	_, err = model.DecodeResult(json.RawMessage(`{"url": 42}`))
	var ve *model.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = model.DecodeResult(json.RawMessage(`{"cv_pdf_base64": "abc"}`))
	assert.ErrorAs(t, err, &ve)
}

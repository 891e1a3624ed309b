package model_test

import (
	"strings"
	"testing"

	"github.com/CemRoot/cv-genius-project/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func problemsOf(t *testing.T, err error) []string {
	t.Helper()
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	return ve.Problems
}

func containsProblem(problems []string, fragment string) bool {
	for _, p := range problems {
		if strings.Contains(p, fragment) {
			return true
		}
	}
	return false
}

func TestValidateForm_Valid(t *testing.T) {
	require.NoError(t, model.ValidateForm(model.SampleForm()))
}

func TestValidateForm_OptionalFieldsMayBeOmitted(t *testing.T) {
	f := model.SampleForm()
	f.JobDescription = ""
	f.Theme = ""
	f.PersonalDetails.LinkedInURL = ""
	require.NoError(t, model.ValidateForm(f))
	assert.Equal(t, model.ThemeClassic, f.ThemeOrDefault())
}

func TestValidateForm_Nil(t *testing.T) {
	problems := problemsOf(t, model.ValidateForm(nil))
	assert.Equal(t, []string{"form is required"}, problems)
}

func TestValidateForm_SchemaProblems(t *testing.T) {
	f := model.SampleForm()
	f.PersonalDetails.Email = "not-an-email"
	f.WorkExperience = []model.WorkExperience{}
	f.Skills = "Go"
	f.Theme = "neon"

	problems := problemsOf(t, model.ValidateForm(f))
	assert.True(t, containsProblem(problems, "email"), "problems: %v", problems)
	assert.True(t, containsProblem(problems, "work_experience"), "problems: %v", problems)
	assert.True(t, containsProblem(problems, "skills"), "problems: %v", problems)
	assert.True(t, containsProblem(problems, "theme"), "problems: %v", problems)
}

func TestValidateForm_ShortJobDescription(t *testing.T) {
	f := model.SampleForm()
	f.JobDescription = "   Go developer wanted.   "

	problems := problemsOf(t, model.ValidateForm(f))
	assert.True(t, containsProblem(problems, "job_description: must be at least 50 characters"))
}

func TestValidateForm_LinkedInHost(t *testing.T) {
	cases := []struct {
		url   string
		valid bool
	}{
		{"https://www.linkedin.com/in/someone", true},
		{"https://ie.linkedin.com/in/someone", true},
		{"https://linkedin.com.evil.example/in/someone", false},
		{"https://example.com/linkedin.com/someone", false},
	}
	for _, tc := range cases {
		t.Run(tc.url, func(t *testing.T) {
			f := model.SampleForm()
			f.PersonalDetails.LinkedInURL = tc.url
			err := model.ValidateForm(f)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, containsProblem(problemsOf(t, err), "linkedin_url"))
		})
	}
}

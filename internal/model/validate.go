package model

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/net/publicsuffix"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const minJobDescription = 50

var (
	schemasOnce sync.Once
	schemas     map[string]*gojsonschema.Schema
	schemasErr  error
)

// ValidationError carries every problem found in a document so callers can
// report them all at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "schema validation failed: " + strings.Join(e.Problems, "; ")
}

func loadSchemas() {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		schemasErr = err
		return
	}
	schemas = make(map[string]*gojsonschema.Schema, len(entries))
	for _, e := range entries {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			schemasErr = err
			return
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
		if err != nil {
			schemasErr = fmt.Errorf("compile %s: %w", e.Name(), err)
			return
		}
		schemas[strings.TrimSuffix(e.Name(), ".schema.json")] = s
	}
}

func validate(name string, doc gojsonschema.JSONLoader) error {
	schemasOnce.Do(loadSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	s, ok := schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	res, err := s.Validate(doc)
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	return &ValidationError{Problems: problems}
}

// ValidateForm checks a form against the CV form schema plus the rules the
// schema cannot express.
func ValidateForm(f *CVFormData) error {
	if f == nil {
		return &ValidationError{Problems: []string{"form is required"}}
	}

	var problems []string
	if err := validate("cv_form", gojsonschema.NewGoLoader(f)); err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		problems = append(problems, ve.Problems...)
	}

	if f.JobDescription != "" && len([]rune(strings.TrimSpace(f.JobDescription))) < minJobDescription {
		problems = append(problems, fmt.Sprintf("job_description: must be at least %d characters if provided", minJobDescription))
	}
	if f.PersonalDetails.LinkedInURL != "" {
		if err := checkLinkedIn(f.PersonalDetails.LinkedInURL); err != nil {
			problems = append(problems, "personal_details.linkedin_url: "+err.Error())
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// checkLinkedIn rejects URLs that merely contain "linkedin.com" somewhere,
// e.g. https://example.com/linkedin.com.
func checkLinkedIn(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing host")
	}
	etld, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return err
	}
	if etld != "linkedin.com" {
		return fmt.Errorf("host %q is not a linkedin.com address", host)
	}
	return nil
}

package model

// Go models that match schemas/cv_form.schema.json. This is the payload the
// Generation Service expects when a job is started.

type Theme string

const (
	ThemeClassic  Theme = "classic"
	ThemeModern   Theme = "modern"
	ThemeAcademic Theme = "academic"
)

type PersonalDetails struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	LinkedInURL string `json:"linkedin_url,omitempty"`
	Location    string `json:"location,omitempty"`
}

type WorkExperience struct {
	JobTitle    string `json:"job_title"`
	Company     string `json:"company"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
	IsCurrent   bool   `json:"is_current"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
}

type Education struct {
	Degree      string `json:"degree"`
	Institution string `json:"institution"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
	Grade       string `json:"grade,omitempty"`
	Location    string `json:"location,omitempty"`
}

// CVFormData is the complete form collected by the creator flow.
type CVFormData struct {
	PersonalDetails PersonalDetails  `json:"personal_details"`
	WorkExperience  []WorkExperience `json:"work_experience"`
	Education       []Education      `json:"education"`
	Skills          string           `json:"skills"`
	JobDescription  string           `json:"job_description,omitempty"`
	Theme           Theme            `json:"theme,omitempty"`
}

// ThemeOrDefault returns the selected theme, falling back to classic.
func (f *CVFormData) ThemeOrDefault() Theme {
	if f == nil || f.Theme == "" {
		return ThemeClassic
	}
	return f.Theme
}

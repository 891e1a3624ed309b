package model

// SampleForm returns a complete, valid form. The stub service smoke run and
// tests start jobs with it.
func SampleForm() *CVFormData {
	return &CVFormData{
		PersonalDetails: PersonalDetails{
			FullName:    "Aoife Byrne",
			Email:       "aoife.byrne@example.ie",
			Phone:       "+353 87 123 4567",
			LinkedInURL: "https://www.linkedin.com/in/aoifebyrne",
			Location:    "Dublin, Ireland",
		},
		WorkExperience: []WorkExperience{{
			JobTitle:    "Backend Engineer",
			Company:     "Liffey Payments",
			StartDate:   "2021-03",
			IsCurrent:   true,
			Description: "Built and operated Go services handling card settlement for Irish merchants.",
			Location:    "Dublin",
		}},
		Education: []Education{{
			Degree:      "BSc Computer Science",
			Institution: "Trinity College Dublin",
			StartDate:   "2016",
			EndDate:     "2020",
			Grade:       "First Class Honours",
		}},
		Skills:         "Go, PostgreSQL, Kubernetes, gRPC, observability",
		JobDescription: "We are hiring a senior backend engineer in Dublin to design and run payment APIs written in Go.",
		Theme:          ThemeModern,
	}
}

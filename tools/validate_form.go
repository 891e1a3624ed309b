package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/CemRoot/cv-genius-project/internal/model"
)

// Checks CV form files before they are sent for generation.
// With -sample it prints a valid form to start from.
func main() {
	if len(os.Args) == 2 && os.Args[1] == "-sample" {
		b, _ := json.MarshalIndent(model.SampleForm(), "", "  ")
		fmt.Println(string(b))
		return
	}

	in := "form.json"
	if len(os.Args) > 1 {
		in = os.Args[1]
	}
	b, err := os.ReadFile(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read form: %v\n", err)
		os.Exit(2)
	}
	var form model.CVFormData
	if err := json.Unmarshal(b, &form); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal: %v\n", err)
		os.Exit(2)
	}

	if err := model.ValidateForm(&form); err != nil {
		var ve *model.ValidationError
		if !errors.As(err, &ve) {
			fmt.Fprintf(os.Stderr, "validate: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("%s: %d problem(s)\n", in, len(ve.Problems))
		for _, p := range ve.Problems {
			fmt.Println("  -", p)
		}
		os.Exit(1)
	}
	fmt.Printf("%s: ok (theme %s)\n", in, form.ThemeOrDefault())
}

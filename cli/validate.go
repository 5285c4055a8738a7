package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/petal-labs/toolmount/dom"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <page.html>",
		Short: "Check every tool root of a page against the DOM contract",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

// rootReport is the contract report of one tool root.
type rootReport struct {
	ToolID    string     `json:"toolId"`
	Valid     bool       `json:"valid"`
	Missing   []string   `json:"missing,omitempty"`
	Layout    dom.Layout `json:"layout"`
	Adaptable bool       `json:"adaptable"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	doc, err := loadPage(args[0])
	if err != nil {
		return err
	}

	var reports []rootReport
	doc.WithTree(func() {
		for _, root := range doc.Roots() {
			reports = append(reports, checkRoot(root))
		}
	})

	printRootReports(out, reports, format)

	for _, r := range reports {
		if !r.Valid {
			return exitError(exitValidation, "validation failed")
		}
	}
	return nil
}

// checkRoot validates root, then adapts the parsed copy to learn whether the
// runtime could repair it.
func checkRoot(root *html.Node) rootReport {
	id, _ := dom.GetAttr(root, dom.AttrToolID)
	v := dom.Validate(root, id)
	r := rootReport{
		ToolID:  id,
		Valid:   v.Valid,
		Missing: v.Missing,
		Layout:  dom.Classify(root),
	}
	if v.Valid {
		r.Adaptable = true
		return r
	}
	if res, err := dom.Adapt(root, id); err == nil {
		r.Adaptable = res.Validation.Valid
	}
	return r
}

func printRootReports(w io.Writer, reports []rootReport, format string) {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if reports == nil {
			reports = []rootReport{}
		}
		_ = enc.Encode(reports)
		return
	}

	invalid := 0
	for _, r := range reports {
		if r.Valid {
			fmt.Fprintf(w, "OK   %s (%s)\n", r.ToolID, r.Layout)
			continue
		}
		invalid++
		hint := "not adaptable"
		if r.Adaptable {
			hint = "adaptable"
		}
		fmt.Fprintf(w, "FAIL %s (%s, %s): missing %s\n", r.ToolID, r.Layout, hint, strings.Join(r.Missing, ", "))
	}

	switch {
	case len(reports) == 0:
		fmt.Fprintln(w, "No tool roots found.")
	case invalid == 0:
		fmt.Fprintln(w, "Valid!")
	default:
		fmt.Fprintf(w, "\n%d of %d %s invalid\n", invalid, len(reports), pluralize("root", len(reports)))
	}
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}

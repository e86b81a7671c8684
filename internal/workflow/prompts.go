package workflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompts holds the role directive sent with each stage.
type Prompts struct {
	SQLWriter      string `yaml:"sql_writer"`
	QAReviewer     string `yaml:"qa_reviewer"`
	SeniorReviewer string `yaml:"senior_reviewer"`
}

func DefaultPrompts() Prompts {
	return Prompts{
		SQLWriter: strings.Join([]string{
			"You are a SQL expert. Your task is to write only the SQL query that answers the user's question. The query must:",
			"- Use standard SQL syntax.",
			"- Use the table and column names exactly as defined in the database schema.",
			"- Contain exactly one syntactically valid SQL statement.",
			"- Include no comments, explanations or any other text.",
			"- Use no code blocks or markdown formatting.",
		}, "\n"),
		QAReviewer: "You are a QA engineer specialized in SQL. Your task is to check whether the given SQL query " +
			"correctly answers the user's question. Answer strictly with ACCEPT or REJECT.",
		SeniorReviewer: "You are an experienced DBA. Your task is to give detailed feedback that improves the given SQL query.",
	}
}

// LoadPrompts reads a YAML file and overrides the defaults with every non-empty key.
func LoadPrompts(path string) (Prompts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Prompts{}, fmt.Errorf("read prompts file %q: %w", path, err)
	}
	var overrides Prompts
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return Prompts{}, fmt.Errorf("parse prompts file %q: %w", path, err)
	}
	return overrides.withDefaults(), nil
}

func (p Prompts) withDefaults() Prompts {
	defaults := DefaultPrompts()
	if strings.TrimSpace(p.SQLWriter) == "" {
		p.SQLWriter = defaults.SQLWriter
	}
	if strings.TrimSpace(p.QAReviewer) == "" {
		p.QAReviewer = defaults.QAReviewer
	}
	if strings.TrimSpace(p.SeniorReviewer) == "" {
		p.SeniorReviewer = defaults.SeniorReviewer
	}
	return p
}

// draftInstruction leaves out the feedback section entirely on the first draft.
func draftInstruction(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database schema:\n%s\n", s.TableSchemas)
	if len(s.FeedbackHistory) > 0 {
		fmt.Fprintf(&b, "Consider the following feedback:\n%s\n", strings.Join(s.FeedbackHistory, "\n"))
	}
	fmt.Fprintf(&b, "Write the SQL query that answers the following question: %s\n", s.Question)
	return b.String()
}

func reviewInstruction(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given the following database schema:\n%s\n", s.TableSchemas)
	fmt.Fprintf(&b, "And the following SQL query:\n%s\n", s.SQL)
	fmt.Fprintf(&b, "Check whether the SQL query accomplishes the task: %s\n", s.Question)
	b.WriteString("Answer 'ACCEPT' if it is correct or 'REJECT' if it is not.\n")
	return b.String()
}

func feedbackInstruction(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given the following database schema:\n%s\n", s.TableSchemas)
	fmt.Fprintf(&b, "And the following SQL query:\n%s\n", s.SQL)
	fmt.Fprintf(&b, "Provide useful, detailed recommendations to improve the SQL query for the task: %s\n", s.Question)
	return b.String()
}

// ParseVerdict accepts when the upper-cased response contains ACCEPT anywhere.
// The match is a substring match, so "UNACCEPTABLE" also accepts.
func ParseVerdict(response string) bool {
	return strings.Contains(strings.ToUpper(response), "ACCEPT")
}

package grading

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/providers"
	"github.com/emandor/lemme_grader/internal/question"
)

const DefaultSubject = "general"

// reply keys every template asks for
const (
	keySummary  = "student_answer_summary"
	keyBasis    = "scoring_basis"
	keyItemized = "itemized_scores"
)

const outputRule = `Return ONLY one JSON object with exactly the keys shown in "format".
No Markdown, no code fences, no prefix or suffix text. The output must be valid JSON.`

const summaryHint = "A neutral, objective summary of the core content of the student's handwritten answer, " +
	"e.g. \"The student wrote [...]; part of it is illegible.\""

type template struct {
	label        string
	item         string
	instructions string
	basis        string
	itemized     string
}

var templates = map[question.Type]template{
	question.TypeObjective: {
		label: "objective fill-in-the-blank question",
		item:  "blank/answer point",
		instructions: "Read the expected answer, the accepted forms and the points of every blank/answer point in the rubric. " +
			"Decide for each blank whether the student's answer meets the rubric, following its rules on format and exactness. " +
			"If the rubric allows flexible marking (e.g. \"the meaning is enough\"), explain your reading in the scoring basis.",
		basis: "For every blank/answer point in the rubric: 1. quote or summarize what the student wrote (say so if unanswered); " +
			"2. compare it with the rubric and give your judgement; 3. state the points awarded. " +
			"The explanation must support the matching entry of itemized_scores.",
		itemized: "A list of numbers such as [2, 0, 1]; entry i is the points earned on blank/answer point i of the rubric, " +
			"in rubric order. The list has one entry per blank/answer point.",
	},
	question.TypePointBased: {
		label: "point-based subjective question",
		item:  "scoring point",
		instructions: "Read every scoring point of the rubric and its points. " +
			"Decide whether the answer covers each scoring point clearly and correctly, strictly by the rubric's description. " +
			"If the rubric allows flexible marking, explain your reading in the scoring basis.",
		basis: "For every scoring point in the rubric: 1. quote or summarize what the student wrote for it (say so if unanswered); " +
			"2. give your judgement against the rubric; 3. state the points awarded. " +
			"The explanation must support the matching entry of itemized_scores.",
		itemized: "A list of numbers such as [3, 1, 0, 2]; entry i is the points earned on scoring point i of the rubric, " +
			"in rubric order. The list has one entry per scoring point.",
	},
	question.TypeFormula: {
		label: "formula calculation / proof question",
		item:  "key step",
		instructions: "Read the rubric's requirements for every key step: correct formulas, correct results, rigorous proof logic " +
			"and standard notation, and the points of each step. " +
			"Check the student's working and final answer against every key step one by one.",
		basis: "For every key step in the rubric: 1. quote or summarize the student's working for it (say so if skipped); " +
			"2. judge it against the rubric (formula, substitution, result, logic); 3. state the points awarded. " +
			"The explanation must support the matching entry of itemized_scores.",
		itemized: "A list of numbers such as [2, 2, 0, 1]; entry i is the points earned on key step i of the rubric, " +
			"in rubric order. The list has one entry per key step.",
	},
	question.TypeHolistic: {
		label: "holistic open question (essay, discussion)",
		item:  "evaluation dimension",
		instructions: "Read the rubric's evaluation dimensions and level descriptions (relevance, depth, structure, language, " +
			"originality, handwriting). Judge the answer as a whole against them and give one total score. " +
			"Explain in the scoring basis how the dimensions combine into that total.",
		basis: "1. Go through each evaluation dimension of the rubric and describe what the answer shows for it. " +
			"2. Explain how the dimensions together lead to the total, referring to the rubric's level descriptions. " +
			"The explanation must support the single number in itemized_scores.",
		itemized: "A list with exactly one number such as [45]: the total score under the rubric's holistic criteria.",
	},
}

type promptDoc struct {
	Task         string     `json:"task_description"`
	Instructions string     `json:"question_type_specific_instructions"`
	Rubric       string     `json:"scoring_rubric"`
	Answer       string     `json:"student_answer"`
	Output       outputSpec `json:"output_format_specification"`
}

type outputSpec struct {
	Description string       `json:"description"`
	Format      outputFormat `json:"format"`
}

type outputFormat struct {
	Summary  string `json:"student_answer_summary"`
	Basis    string `json:"scoring_basis"`
	Itemized string `json:"itemized_scores"`
}

// SystemMessage is the grader persona plus the general marking rules,
// including the blank/unreadable and manual review conventions.
func SystemMessage(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = DefaultSubject
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are an experienced and meticulous senior exam grader for the subject [%s]. ", subject)
	b.WriteString("Analyse the student's answer and score it strictly by the rubric and the question type notes supplied by the user. ")
	b.WriteString("Always answer in the JSON format requested.\n\n")
	b.WriteString("General marking rules:\n")
	b.WriteString("1. Crossed-out text: anything the student struck through is deleted and is neither credited nor penalised. ")
	b.WriteString("Replacement text written next to, above or below it counts when it is legible and relevant.\n")
	b.WriteString("2. Rubric only: award or withhold points only by the scoring points listed in the rubric. ")
	b.WriteString("Never extend, guess at or go beyond the rubric.\n")
	b.WriteString("3. Visible content only: judge only what is actually legible in the student's answer. ")
	b.WriteString("Do not infer what the student may have meant from outside knowledge.\n")
	b.WriteString("4. Deductions: when the rubric states an explicit deduction (e.g. \"minus 1 point per error\"), apply it, ")
	b.WriteString("explain it in scoring_basis and reflect it in itemized_scores.\n\n")
	b.WriteString("Special cases:\n")
	b.WriteString("If the answer is completely blank, completely unreadable or unrelated to the question, fill the JSON as follows:\n")
	b.WriteString("- student_answer_summary: state the case, e.g. \"The student did not answer.\" or \"The answer is unreadable.\"\n")
	b.WriteString("- scoring_basis: one sentence on why, e.g. \"The answer area is blank.\"\n")
	b.WriteString("- itemized_scores: a list of zeros with one entry per rubric item, or [0] for holistic questions.\n")
	b.WriteString("If you cannot give a trustworthy score for another reason, write \"manual review required\" ")
	b.WriteString("in student_answer_summary and explain why in scoring_basis.")
	return b.String()
}

// BuildPrompt renders the grading prompt for q. fellBack reports that the
// question type was not recognised and the point-based template was used.
func BuildPrompt(q question.Config, subject string) (p providers.Prompt, fellBack bool, err error) {
	rubric := strings.TrimSpace(q.Rubric)
	if rubric == "" {
		return p, false, failure.Newf(failure.CodeMissingRubric,
			"question %d: rubric is empty; grading paused, check the configuration and grade this question by hand", q.Index)
	}
	t, ok := templates[q.Type]
	if !ok {
		t, fellBack = templates[question.TypePointBased], true
	}

	doc := promptDoc{
		Task:         fmt.Sprintf("Analyse the student's answer below (%s) and score it with the rubric provided.", t.label),
		Instructions: fmt.Sprintf("[Question type: %s]\n%s", t.label, t.instructions),
		Rubric:       rubric,
		Answer:       "(the answer image is attached to this message)",
		Output: outputSpec{
			Description: outputRule,
			Format: outputFormat{
				Summary:  summaryHint,
				Basis:    t.basis,
				Itemized: t.itemized,
			},
		},
	}
	if q.UsesOCR() {
		doc.Answer = "(the recognized text of the answer follows this message; struck-through content is already removed)"
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return p, fellBack, failure.Wrap(failure.CodeUnknown, err, "encode prompt")
	}
	return providers.Prompt{
		System: SystemMessage(subject),
		User:   strings.TrimRight(buf.String(), "\n"),
	}, fellBack, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"text/template"
)

var decompositionTmpl = template.Must(template.New("decomposition").Parse(`You are a query analysis expert. Analyze the complexity of a user's question and break it down if necessary.

MAIN QUESTION:
{{.Query}}

Complex questions that require multiple pieces of information, compare multiple concepts, or have multiple aspects should be decomposed. Questions with a single focus should not.

If the question is complex, break it into 2-{{.MaxSubtasks}} focused sub-questions that:
1. Each address a specific aspect
2. Can be answered independently
3. Together answer the main question
4. Are ordered logically (definitions before comparisons, causes before effects)

Respond with a JSON object and nothing else:
{"is_complex": true, "reasoning": "why it is or is not complex", "sub_questions": ["sub-question 1", "sub-question 2"]}

If is_complex is false, sub_questions must be an empty list.
`))

var synthesisTmpl = template.Must(template.New("synthesis").Parse(`You are a research assistant that synthesizes verified information into clear answers.

VERIFIED FACTS (Confidence: {{printf "%.2f" .Percent}}%):
{{.Facts}}

Create a complete answer based only on the verified facts above. If the information is insufficient or conflicting, say so plainly. Keep a factual, objective tone and refer to facts by their key.

Respond with a JSON object and nothing else:
{"reasoning": "step-by-step explanation of how the facts support the answer", "conclusion": "the final answer, clear and direct"}
`))

var agreementTmpl = template.Must(template.New("agreement").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	Parse(`Compare the following sources and judge how well they agree with each other.
{{range $i, $s := .Sources}}
Source {{inc $i}} ({{$s.Provider}}): {{$s.Title}}
{{$s.Excerpt}}
{{end}}
Respond with a JSON object and nothing else:
{"adjustment": 0.0, "agreements": ["facts that appear in several sources"], "contradictions": ["disagreements between sources"]}

adjustment is a number between -0.1 and 0.1: positive when sources corroborate each other, negative when they contradict.
`))

// AgreementSource is one source shown to the model for cross-source checking.
type AgreementSource struct {
	Provider string
	Title    string
	Excerpt  string
}

// DecompositionPrompt asks for {is_complex, reasoning, sub_questions}.
func DecompositionPrompt(query string, maxSubtasks int) (string, error) {
	return render(decompositionTmpl, struct {
		Query       string
		MaxSubtasks int
	}{query, maxSubtasks})
}

// SynthesisPrompt asks for {reasoning, conclusion} over a facts summary.
func SynthesisPrompt(facts string, confidence float64) (string, error) {
	return render(synthesisTmpl, struct {
		Facts   string
		Percent float64
	}{facts, confidence * 100})
}

// AgreementPrompt asks for a confidence adjustment in [-0.1, 0.1].
func AgreementPrompt(sources []AgreementSource) (string, error) {
	return render(agreementTmpl, struct{ Sources []AgreementSource }{sources})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

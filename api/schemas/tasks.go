package schemas

// Provenance records where an answer came from.
type Provenance string

const (
	ProvenanceCached    Provenance = "cached"
	ProvenanceProfile   Provenance = "profile"
	ProvenanceGenerated Provenance = "generated"
	ProvenanceHuman     Provenance = "human"
)

// QuestionKind shapes how a question is put to the human.
type QuestionKind string

const (
	QuestionText     QuestionKind = "text"
	QuestionChoice   QuestionKind = "choice"
	QuestionCheckbox QuestionKind = "checkbox"
)

// Question is a free-text or constrained question to be answered.
type Question struct {
	Text    string       `json:"text"`
	Kind    QuestionKind `json:"kind,omitempty"`
	Options []string     `json:"options,omitempty"`
}

// AnswerResult is the resolved answer together with how it was obtained.
type AnswerResult struct {
	Answer     string     `json:"answer"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
	Persisted  bool       `json:"persisted"`
}

// GeneratedAnswer is the structured payload of a generated answer.
type GeneratedAnswer struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// Complexity is a coarse effort estimate for a subtask.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Subtask is one step of a decomposed goal.
type Subtask struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Goal        string     `json:"goal"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Complexity  Complexity `json:"complexity,omitempty"`
}

// ContinueDecision is the structured payload of the orchestrator's
// stop-or-continue call.
type ContinueDecision struct {
	Continue bool   `json:"continue"`
	Reason   string `json:"reason"`
}

package model

// Mode selects how an L2 rule is evaluated
type Mode string

const (
	ModeSimple   Mode = "SIMPLE"   // L1 value is a literal hint
	ModeCompound Mode = "COMPOUND" // L1 value references one or more L1 rules
)

// Format is the output shape requested from the oracle
type Format string

const (
	FormatText       Format = "TEXT"
	FormatStructured Format = "STRUCTURED"
)

// PromptContext is a compiled prompt for one evaluation
type PromptContext struct {
	Mode          Mode              `json:"mode"`
	TemplateID    string            `json:"template_id"`
	Substitutions map[string]string `json:"substitutions"`
	Format        Format            `json:"format"`
	Text          string            `json:"text"` // Finished prompt after substitution
}

// OracleResponse is the raw oracle payload tagged with the format it was requested in
type OracleResponse struct {
	Format     Format `json:"format"`
	RawPayload string `json:"raw_payload"`
}

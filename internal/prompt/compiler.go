package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/rulecheck/internal/model"
)

// SimpleTemplateID identifies the built-in SIMPLE prompt
const SimpleTemplateID = "builtin:l2_simple"

const simpleTemplate = `Rule: "{l2_description}"
Data: "{l1_value}"

Based on the provided data, does it satisfy the rule? Please answer with only "Pass", "Fail", or "Cannot Determine". Do not add any explanation.`

// Compiler turns a classified rule and its resolved references into a finished prompt
type Compiler struct {
	templates TemplateSource
}

// NewCompiler creates a compiler loading COMPOUND templates from templates
func NewCompiler(templates TemplateSource) *Compiler {
	return &Compiler{templates: templates}
}

// Compile builds the PromptContext for one evaluation.
// literal is the raw L1 value, used only in SIMPLE mode.
func (c *Compiler) Compile(mode model.Mode, description, literal string, refs []model.RuleReference) (model.PromptContext, error) {
	switch mode {
	case model.ModeSimple:
		return compileSimple(description, literal), nil
	case model.ModeCompound:
		return c.compileCompound(description, refs)
	default:
		return model.PromptContext{}, fmt.Errorf("unknown evaluation mode %q", mode)
	}
}

func compileSimple(description, literal string) model.PromptContext {
	subs := map[string]string{
		"l2_description": description,
		"l1_value":       literal,
	}
	return model.PromptContext{
		Mode:          model.ModeSimple,
		TemplateID:    SimpleTemplateID,
		Substitutions: subs,
		Format:        model.FormatText,
		Text:          Substitute(simpleTemplate, subs),
	}
}

func (c *Compiler) compileCompound(description string, refs []model.RuleReference) (model.PromptContext, error) {
	if len(refs) == 0 {
		return model.PromptContext{}, errors.New("compound evaluation requires at least one reference")
	}
	if c.templates == nil {
		return model.PromptContext{}, fmt.Errorf("%w: no template source configured", ErrTemplateMissing)
	}

	template, err := c.templates.Load(CompoundTemplateID)
	if err != nil {
		return model.PromptContext{}, err
	}

	primary := refs[0]
	subs := map[string]string{
		"l2_description":           description,
		"primary_source_id":        displayName(primary),
		"primary_data":             primary.Resolved.Display(),
		"secondary_data_formatted": formatSecondary(refs[1:]),
		"references":               formatReferences(refs),
		"allowed_rule_ids":         joinIDs(refs),
	}

	return model.PromptContext{
		Mode:          model.ModeCompound,
		TemplateID:    CompoundTemplateID,
		Substitutions: subs,
		Format:        model.FormatStructured,
		Text:          Substitute(template, subs),
	}, nil
}

func displayName(ref model.RuleReference) string {
	if ref.Label != "" {
		return fmt.Sprintf("%s (%s)", ref.Label, ref.ID)
	}
	return ref.ID
}

func formatSecondary(refs []model.RuleReference) string {
	if len(refs) == 0 {
		return "(none)"
	}
	lines := make([]string, len(refs))
	for i, ref := range refs {
		lines[i] = fmt.Sprintf("- %s: %s", displayName(ref), ref.Resolved.Display())
	}
	return strings.Join(lines, "\n")
}

func formatReferences(refs []model.RuleReference) string {
	lines := make([]string, len(refs))
	for i, ref := range refs {
		source := ref.Source()
		if source == "" {
			source = "unknown"
		}
		description := ref.Description
		if description == "" {
			description = "(no description)"
		}
		lines[i] = fmt.Sprintf("- id: %s | description: %s | value: %s | source: %s",
			ref.ID, description, ref.Resolved.Display(), source)
	}
	return strings.Join(lines, "\n")
}

func joinIDs(refs []model.RuleReference) string {
	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	return strings.Join(ids, ", ")
}

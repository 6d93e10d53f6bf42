package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/briefmill/briefmill/llm"
	"github.com/briefmill/briefmill/workflow"
	"github.com/briefmill/briefmill/workflow/phases"
)

// HandlersConfig parameterizes the completion-backed handler set.
type HandlersConfig struct {
	// Temperature applies to every request; nil uses endpoint defaults.
	Temperature *float64

	// ReasoningBudget is the extended reasoning token budget for phases
	// whose definitions request it.
	ReasoningBudget int

	Jurisdiction string
	WordLimit    int
}

// NewHandlers builds the full handler registry over one completion client.
// Every task type in the catalog gets a handler; NewEngine rejects a
// partial registry.
func NewHandlers(client *llm.Client, cfg HandlersConfig) map[phases.TaskType]Handler {
	if cfg.WordLimit == 0 {
		cfg.WordLimit = 12000
	}
	if cfg.Jurisdiction == "" {
		cfg.Jurisdiction = "federal"
	}

	build := func(system string, user func(pc *PhaseContext) string) Handler {
		return &completionHandler{
			client:          client,
			system:          system,
			buildUser:       user,
			temperature:     cfg.Temperature,
			reasoningBudget: cfg.ReasoningBudget,
		}
	}

	return map[phases.TaskType]Handler{
		phases.TaskIntakeAnalysis: build(
			"You are a litigation intake analyst. Analyze the order and respond with a single JSON object containing: summary (string), motion_type (string), relief_sought (string), key_facts (array of strings), and open_questions (array of strings).",
			func(pc *PhaseContext) string {
				return fmt.Sprintf("Analyze this filing order.\n\nOrder tier: %s\nPath: %s\n\nOrder metadata:\n%s",
					pc.Workflow.Tier, pc.Workflow.Path, contextJSON(pc.Workflow.Metadata))
			}),

		phases.TaskJurisdictionReview: build(
			"You are a court-rules specialist. Review jurisdiction, venue, and governing procedural rules. Respond with a single JSON object containing: jurisdiction (string), governing_rules (array of strings), filing_deadlines (array of strings), and concerns (array of strings).",
			func(pc *PhaseContext) string {
				return fmt.Sprintf("Review jurisdiction and procedural posture for jurisdiction %q.\n\nPrior analysis:\n%s",
					cfg.Jurisdiction, contextJSON(pc.Prior))
			}),

		phases.TaskAuthorityResearch: build(
			"You are a legal research attorney. Identify the controlling and persuasive authorities. Respond with a single JSON object containing: citations (array of full citation strings in standard reporter format), authority_summary (string), and research_notes (array of strings).",
			func(pc *PhaseContext) string {
				return fmt.Sprintf("Research supporting authority.\n\nIntake and jurisdiction context:\n%s",
					contextJSON(pc.Prior))
			}),

		phases.TaskEvidenceMapping: build(
			"You are a litigation support analyst. Map each factual assertion to its supporting evidence. Respond with a single JSON object containing: evidence_map (array of objects with assertion and support fields), evidence_gaps (array of strings describing assertions lacking support), and summary (string).",
			func(pc *PhaseContext) string {
				return fmt.Sprintf("Map the evidence for this filing.\n\nContext:\n%s",
					contextJSON(pc.Prior))
			}),

		phases.TaskDrafting: build(
			fmt.Sprintf("You are a senior litigation drafter. Produce a complete filing draft with Introduction, Statement of Facts, Argument, and Conclusion sections, under %d words. Respond with a single JSON object containing: content (the full draft as a string), summary (string), and anticipates_opposition (boolean).", cfg.WordLimit),
			func(pc *PhaseContext) string {
				return fmt.Sprintf("Draft the filing.\n\nResearch and evidence context:\n%s",
					contextJSON(pc.Prior))
			}),

		phases.TaskCounterAnalysis: build(
			"You are an opposition strategist. Analyze the strongest opposing arguments and how the draft should answer them. Respond with a single JSON object containing: counter_arguments (array of objects with argument and response fields) and summary (string).",
			func(pc *PhaseContext) string {
				return fmt.Sprintf("Analyze likely opposition.\n\nContext:\n%s",
					contextJSON(pc.Prior))
			}),

		phases.TaskCitationCheck: build(
			"You are a citation editor. Check every citation in the draft for format and placement. Respond with a single JSON object containing: summary (string) and format_issues (array of strings).",
			func(pc *PhaseContext) string {
				content, _ := pc.Prior["content"].(string)
				return fmt.Sprintf("Check citations in this draft:\n\n%s", content)
			}),

		phases.TaskQualityGrade: build(
			"You are a reviewing partner grading a filing draft. Respond with a single JSON object containing: score (a number between 0.0 and 1.0), feedback (string), and issues (array of objects with severity and description fields, severity one of critical, major, minor).",
			func(pc *PhaseContext) string {
				content, _ := pc.Prior["content"].(string)
				return fmt.Sprintf("Grade this draft for a %s-tier filing:\n\n%s",
					pc.Workflow.Tier, content)
			}),

		phases.TaskRevision: build(
			"You are a senior litigation drafter revising a draft to address reviewer feedback. Respond with a single JSON object containing: content (the full revised draft as a string), score (your own honest estimate of the revised draft's quality between 0.0 and 1.0), and feedback (string describing what changed).",
			func(pc *PhaseContext) string {
				content, _ := pc.Prior["content"].(string)
				return fmt.Sprintf("Revise this draft.\n\nReviewer feedback:\n%s\n\nPrevious score: %v\n\nDraft:\n%s",
					contextJSON(pc.Prior["revision_feedback"]), pc.Prior["previous_score"], content)
			}),

		phases.TaskAssembly: build(
			fmt.Sprintf("You are a filing clerk assembling the final document for a %s jurisdiction. Include the caption, all required disclosures, and the certificate of service. Respond with a single JSON object containing: content (the assembled filing as a string) and components (array of strings naming the included components).", cfg.Jurisdiction),
			func(pc *PhaseContext) string {
				content, _ := pc.Prior["content"].(string)
				return fmt.Sprintf("Assemble the final filing from this approved draft:\n\n%s", content)
			}),

		phases.TaskFinalApproval: build(
			"You are preparing the final approval package for attorney sign-off. Respond with a single JSON object containing: summary (string), quality_summary (string), and delivery_ready (boolean).",
			func(pc *PhaseContext) string {
				return fmt.Sprintf("Prepare the approval package.\n\nFinal filing context:\n%s",
					contextJSON(pc.Prior))
			}),
	}
}

// completionHandler is the generic LLM-backed phase handler. It sends one
// completion request and decodes the response through the tiered
// structured decoder. Unparseable output is never an error: the raw text
// is preserved and the phase completes with a warning.
type completionHandler struct {
	client          *llm.Client
	system          string
	buildUser       func(pc *PhaseContext) string
	temperature     *float64
	reasoningBudget int
}

func (h *completionHandler) Execute(ctx context.Context, pc *PhaseContext) (*HandlerResult, error) {
	req := llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: h.system},
			{Role: "user", Content: h.buildUser(pc)},
		},
		Temperature: h.temperature,
	}
	if pc.Definition.ExtendedReasoning {
		req.ReasoningBudget = h.reasoningBudget
	}

	resp, err := h.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completion for phase %s: %w", pc.Definition.Code, err)
	}

	decoded := llm.DecodeStructured(resp.Content)
	if decoded.Tier == llm.TierFailed {
		return &HandlerResult{
			Success:        true,
			Status:         workflow.PhaseCompletedWithWarning,
			RequiresReview: true,
			Output: map[string]any{
				workflow.OutputKeyParseFailure: true,
				workflow.OutputKeyRawContent:   decoded.Raw,
				"request_id":                   resp.RequestID,
			},
		}, nil
	}

	output := make(map[string]any, len(decoded.Fields)+2)
	for k, v := range decoded.Fields {
		output[k] = v
	}
	output["parse_tier"] = string(decoded.Tier)
	output["request_id"] = resp.RequestID

	result := &HandlerResult{
		Success: true,
		Status:  workflow.PhaseCompleted,
		Output:  output,
	}
	if decoded.Tier == llm.TierFieldRegex {
		// Regex recovery is best-effort; flag the output for attention
		// without stopping the pipeline.
		result.Status = workflow.PhaseCompletedWithWarning
	}
	if score, ok := decoded.Score(); ok {
		result.QualityScore = &score
	}
	return result, nil
}

// contextJSON renders handler context compactly for prompt embedding.
// Marshal failures degrade to fmt formatting rather than dropping context.
func contextJSON(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	out := string(data)
	if len(out) > 24000 {
		out = out[:24000] + "\n... (truncated)"
	}
	return strings.TrimSpace(out)
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"family-coach-platform/internal/logger"
	"family-coach-platform/models"
)

// Stage names, also the cache namespaces.
const (
	StageClean   = "clean"
	StageAnalyze = "analyze"
	StageQA      = "qa"
	StageAdvise  = "advise"
)

// LLMClient generates text from a prompt plus numbered reference
// sections. Satisfied by ai.CoachClient and by test fakes.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, contextSections []string) (string, error)
}

// CleanResult is the clean stage output: the transcript with filler and
// transcription noise removed.
type CleanResult struct {
	Transcript string `json:"transcript"`
}

// AnalysisResult is the analyze stage output: a conversation summary,
// a quality score, and the two retrieval queries the advice stage runs.
type AnalysisResult struct {
	Summary         string  `json:"summary"`
	CounselingQuery string  `json:"counseling_query"`
	TechniqueQuery  string  `json:"technique_query"`
	Score           float64 `json:"score"`
	Confidence      float64 `json:"confidence"`
}

// QAResult is the qa stage verdict on the analysis.
type QAResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// AdviceResult is the advise stage output delivered to the parent.
type AdviceResult struct {
	Advice    string   `json:"advice"`
	Citations []string `json:"citations"`
}

// CoachPipeline composes the four conversation stages. Each stage runs
// through the retrying, caching engine; a failed stage aborts the run
// because every stage consumes its predecessor's output.
type CoachPipeline struct {
	engine    *Pipeline
	llm       LLMClient
	retrieval *RetrievalOrchestrator
}

func NewCoachPipeline(engine *Pipeline, llm LLMClient, retrieval *RetrievalOrchestrator) *CoachPipeline {
	return &CoachPipeline{engine: engine, llm: llm, retrieval: retrieval}
}

// Run executes Clean→Analyze→QA→Advise for one conversation. The
// returned run is always populated; a failure is reported in its Status
// and Error fields rather than as a Go error, so the task layer decides
// whether to requeue.
func (cp *CoachPipeline) Run(ctx context.Context, conversationID, transcript string) *models.PipelineRun {
	run := &models.PipelineRun{
		ConversationID: conversationID,
		Status:         "completed",
		StageResults:   make(map[string]models.StageResult),
	}

	cleanRes := cp.engine.RunStage(ctx, StageClean, conversationID, func(ctx context.Context) (json.RawMessage, error) {
		return cp.clean(ctx, transcript)
	})
	run.StageResults[StageClean] = cleanRes
	if !cleanRes.Success {
		return failRun(run, cleanRes)
	}

	clean, err := DecodePayload[CleanResult](cleanRes.Payload)
	if err != nil {
		return failRunDecode(run, StageClean, err)
	}

	analysis, _, ok := cp.analyzeWithQA(ctx, conversationID, clean.Transcript, run)
	if !ok {
		return run
	}

	adviseRes := cp.engine.RunStage(ctx, StageAdvise, conversationID, func(ctx context.Context) (json.RawMessage, error) {
		return cp.advise(ctx, analysis)
	})
	run.StageResults[StageAdvise] = adviseRes
	if !adviseRes.Success {
		return failRun(run, adviseRes)
	}

	logger.Info("pipeline run completed", "conversation", conversationID)
	return run
}

// analyzeWithQA runs the analyze stage, validates it with the qa stage,
// and on a rejected analysis invalidates both and reruns them once. A
// second rejection is accepted as-is; the qa verdict travels with the
// run either way.
func (cp *CoachPipeline) analyzeWithQA(ctx context.Context, conversationID, transcript string, run *models.PipelineRun) (AnalysisResult, QAResult, bool) {
	for pass := 0; pass < 2; pass++ {
		analyzeRes := cp.engine.RunStage(ctx, StageAnalyze, conversationID, func(ctx context.Context) (json.RawMessage, error) {
			return cp.analyze(ctx, transcript)
		})
		run.StageResults[StageAnalyze] = analyzeRes
		if !analyzeRes.Success {
			failRun(run, analyzeRes)
			return AnalysisResult{}, QAResult{}, false
		}

		analysis, err := DecodePayload[AnalysisResult](analyzeRes.Payload)
		if err != nil {
			failRunDecode(run, StageAnalyze, err)
			return AnalysisResult{}, QAResult{}, false
		}

		qaRes := cp.engine.RunStage(ctx, StageQA, conversationID, func(ctx context.Context) (json.RawMessage, error) {
			return cp.validateAnalysis(ctx, transcript, analysis)
		})
		run.StageResults[StageQA] = qaRes
		if !qaRes.Success {
			failRun(run, qaRes)
			return AnalysisResult{}, QAResult{}, false
		}

		qa, err := DecodePayload[QAResult](qaRes.Payload)
		if err != nil {
			failRunDecode(run, StageQA, err)
			return AnalysisResult{}, QAResult{}, false
		}

		if qa.Valid || pass == 1 {
			if !qa.Valid {
				logger.Warn("analysis rejected twice, proceeding with last result",
					"conversation", conversationID, "reason", qa.Reason)
			}
			return analysis, qa, true
		}

		logger.Info("analysis rejected, rerunning", "conversation", conversationID, "reason", qa.Reason)
		if err := cp.engine.Invalidate(ctx, StageAnalyze, conversationID); err != nil {
			logger.Warn("failed to invalidate analyze cache", "error", err)
		}
		if err := cp.engine.Invalidate(ctx, StageQA, conversationID); err != nil {
			logger.Warn("failed to invalidate qa cache", "error", err)
		}
	}

	return AnalysisResult{}, QAResult{}, false
}

func (cp *CoachPipeline) clean(ctx context.Context, transcript string) (json.RawMessage, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, Terminal(fmt.Errorf("empty transcript"))
	}

	prompt := buildCleanPrompt(transcript)
	text, err := cp.llm.Generate(ctx, prompt, nil)
	if err != nil {
		return nil, err
	}

	cleaned := strings.TrimSpace(stripCodeFences(text))
	if cleaned == "" {
		return nil, fmt.Errorf("clean stage returned empty transcript")
	}
	return json.Marshal(CleanResult{Transcript: cleaned})
}

func (cp *CoachPipeline) analyze(ctx context.Context, transcript string) (json.RawMessage, error) {
	prompt := buildAnalysisPrompt(transcript)
	text, err := cp.llm.Generate(ctx, prompt, nil)
	if err != nil {
		return nil, err
	}

	var analysis AnalysisResult
	if err := parseModelJSON(text, &analysis); err != nil {
		return nil, fmt.Errorf("analysis response: %w", err)
	}
	if analysis.CounselingQuery == "" && analysis.TechniqueQuery == "" {
		return nil, fmt.Errorf("analysis produced no retrieval queries")
	}
	return json.Marshal(analysis)
}

func (cp *CoachPipeline) validateAnalysis(ctx context.Context, transcript string, analysis AnalysisResult) (json.RawMessage, error) {
	// Out-of-range numbers are rejected before the model sees them.
	if analysis.Score < 0 || analysis.Score > 1 || analysis.Confidence < 0 || analysis.Confidence > 1 {
		return json.Marshal(QAResult{
			Valid:  false,
			Reason: fmt.Sprintf("score %.2f or confidence %.2f outside [0,1]", analysis.Score, analysis.Confidence),
		})
	}

	prompt := buildQAPrompt(transcript, analysis)
	text, err := cp.llm.Generate(ctx, prompt, nil)
	if err != nil {
		return nil, err
	}

	var qa QAResult
	if err := parseModelJSON(text, &qa); err != nil {
		return nil, fmt.Errorf("qa response: %w", err)
	}
	return json.Marshal(qa)
}

func (cp *CoachPipeline) advise(ctx context.Context, analysis AnalysisResult) (json.RawMessage, error) {
	sections, err := cp.retrieval.RetrieveForAdvice(ctx, analysis.CounselingQuery, analysis.TechniqueQuery, PassageFilter{})
	if err != nil {
		return nil, err
	}

	contextSections := make([]string, 0, len(sections))
	citations := make([]string, 0, len(sections))
	seen := make(map[string]bool)
	for _, section := range sections {
		contextSections = append(contextSections, fmt.Sprintf("[%s]\n%s", section.HierarchyPath, section.FullText))
		for _, c := range section.Citations {
			if !seen[c] {
				seen[c] = true
				citations = append(citations, c)
			}
		}
	}

	prompt := buildAdvicePrompt(analysis)
	text, err := cp.llm.Generate(ctx, prompt, contextSections)
	if err != nil {
		return nil, err
	}

	advice := strings.TrimSpace(stripCodeFences(text))
	if advice == "" {
		return nil, fmt.Errorf("advise stage returned empty advice")
	}
	return json.Marshal(AdviceResult{Advice: advice, Citations: citations})
}

func buildCleanPrompt(transcript string) string {
	return fmt.Sprintf(`You are preparing a family conversation transcript for analysis. Clean it up:
1. Remove filler words (um, uh, like, you know)
2. Fix obvious speech-to-text transcription errors
3. Keep speaker labels and the meaning of every utterance intact
4. Do NOT summarize, shorten, or editorialize

Transcript:
%s

Return only the cleaned transcript, no commentary:`, truncateText(transcript, 12000))
}

func buildAnalysisPrompt(transcript string) string {
	return fmt.Sprintf(`You are a family communication coach analyzing a conversation between a parent and child.

Transcript:
%s

Respond with a JSON object only, no markdown, with these fields:
{
  "summary": "2-3 sentence summary of what happened in the conversation",
  "counseling_query": "a search query for counseling guidance relevant to this conversation",
  "technique_query": "a search query for concrete communication techniques the parent could use",
  "score": 0.0,
  "confidence": 0.0
}

score is the conversation quality from 0 (harmful) to 1 (excellent).
confidence is your confidence in this analysis from 0 to 1.`, truncateText(transcript, 12000))
}

func buildQAPrompt(transcript string, analysis AnalysisResult) string {
	analysisJSON, _ := json.MarshalIndent(analysis, "", "  ")
	return fmt.Sprintf(`You are reviewing an automated analysis of a family conversation.

Transcript:
%s

Analysis under review:
%s

Check that the summary matches the transcript, the queries are relevant, and the score is plausible.
Respond with a JSON object only:
{"valid": true} if the analysis is sound, or
{"valid": false, "reason": "what is wrong"} if it is not.`, truncateText(transcript, 8000), string(analysisJSON))
}

func buildAdvicePrompt(analysis AnalysisResult) string {
	return fmt.Sprintf(`You are a warm, practical family communication coach advising a parent.

Conversation summary: %s
Conversation quality score: %.2f

Using ONLY the reference material provided, write advice for the parent:
1. Acknowledge what went well
2. Name one or two concrete things to try next time, grounded in the references
3. Keep it under 300 words, supportive in tone, no jargon

If the references do not cover the situation, say so honestly rather than inventing guidance.`,
		analysis.Summary, analysis.Score)
}

// parseModelJSON unmarshals a model response that may be wrapped in
// markdown code fences or surrounded by prose.
func parseModelJSON(text string, out interface{}) error {
	cleaned := stripCodeFences(text)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return fmt.Errorf("no JSON object in model response")
	}

	return json.Unmarshal([]byte(cleaned[start:end+1]), out)
}

func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// truncateText caps prompt inputs to stay within model token limits.
func truncateText(text string, maxLength int) string {
	if len(text) <= maxLength {
		return text
	}
	return text[:maxLength] + "..."
}

func failRun(run *models.PipelineRun, res models.StageResult) *models.PipelineRun {
	run.Status = "failed"
	run.Error = res.Error
	logger.Error("pipeline run failed", "conversation", run.ConversationID, "stage", res.StageName, "error", res.Error)
	return run
}

func failRunDecode(run *models.PipelineRun, stageName string, err error) *models.PipelineRun {
	run.Status = "failed"
	run.Error = fmt.Sprintf("stage %q payload corrupt: %v", stageName, err)
	logger.Error("pipeline run failed", "conversation", run.ConversationID, "stage", stageName, "error", err)
	return run
}

package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLLM routes prompts to canned responses by stage.
type scriptedLLM struct {
	mu            sync.Mutex
	calls         map[string]int
	cleanErr      error
	analyzeScript []string
	qaScript      []string
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{calls: make(map[string]int)}
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, contextSections []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.Contains(prompt, "Clean it up"):
		s.calls["clean"]++
		if s.cleanErr != nil {
			return "", s.cleanErr
		}
		return "Parent: How was school?\nChild: Fine, I guess.", nil

	case strings.Contains(prompt, "Respond with a JSON object only, no markdown"):
		s.calls["analyze"]++
		if len(s.analyzeScript) > 0 {
			resp := s.analyzeScript[0]
			s.analyzeScript = s.analyzeScript[1:]
			return resp, nil
		}
		return `{"summary":"A short check-in about school.","counseling_query":"listening","technique_query":"open questions","score":0.6,"confidence":0.8}`, nil

	case strings.Contains(prompt, "reviewing an automated analysis"):
		s.calls["qa"]++
		if len(s.qaScript) > 0 {
			resp := s.qaScript[0]
			s.qaScript = s.qaScript[1:]
			return resp, nil
		}
		return `{"valid": true}`, nil

	case strings.Contains(prompt, "advising a parent"):
		s.calls["advise"]++
		return "Try asking one open question before offering solutions.", nil
	}

	return "", errors.New("unexpected prompt")
}

func (s *scriptedLLM) callCount(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

func coachFixture(t *testing.T, llm LLMClient) *CoachPipeline {
	t.Helper()
	engine := NewPipeline(NewMemoryStageCache(), testPolicy(), nil)
	retrieval := NewRetrievalOrchestrator(&fakeEmbedder{}, NewMemoryVectorStore(), 50, 0.45, 6)
	return NewCoachPipeline(engine, llm, retrieval)
}

func TestCoachPipelineHappyPath(t *testing.T) {
	llm := newScriptedLLM()
	coach := coachFixture(t, llm)

	run := coach.Run(context.Background(), "conv-1", "um so like how was school")
	require.Equal(t, "completed", run.Status, "run error: %s", run.Error)
	require.Len(t, run.StageResults, 4)

	for _, stage := range []string{StageClean, StageAnalyze, StageQA, StageAdvise} {
		res, ok := run.StageResults[stage]
		require.True(t, ok, "missing result for %s", stage)
		assert.True(t, res.Success, "%s failed: %s", stage, res.Error)
	}

	advice, err := DecodePayload[AdviceResult](run.StageResults[StageAdvise].Payload)
	require.NoError(t, err)
	assert.Contains(t, advice.Advice, "open question")
}

func TestCoachPipelineQARejectionTriggersOneRerun(t *testing.T) {
	llm := newScriptedLLM()
	llm.qaScript = []string{`{"valid": false, "reason": "summary too vague"}`}
	coach := coachFixture(t, llm)

	run := coach.Run(context.Background(), "conv-2", "transcript text")
	require.Equal(t, "completed", run.Status)

	assert.Equal(t, 2, llm.callCount("analyze"), "rejected analysis must be recomputed once")
	assert.Equal(t, 2, llm.callCount("qa"))
	assert.Equal(t, 1, llm.callCount("advise"))
}

func TestCoachPipelineQARejectsOutOfRangeScore(t *testing.T) {
	llm := newScriptedLLM()
	llm.analyzeScript = []string{
		`{"summary":"s","counseling_query":"listening","technique_query":"open questions","score":42,"confidence":0.8}`,
	}
	coach := coachFixture(t, llm)

	run := coach.Run(context.Background(), "conv-7", "transcript text")
	require.Equal(t, "completed", run.Status, "run error: %s", run.Error)

	assert.Equal(t, 2, llm.callCount("analyze"), "out-of-range score must trigger a re-analysis")
	assert.Equal(t, 1, llm.callCount("qa"), "the range check rejects before the model is consulted")

	qa, err := DecodePayload[QAResult](run.StageResults[StageQA].Payload)
	require.NoError(t, err)
	assert.True(t, qa.Valid, "the recomputed in-range analysis passes review")

	analysis, err := DecodePayload[AnalysisResult](run.StageResults[StageAnalyze].Payload)
	require.NoError(t, err)
	assert.LessOrEqual(t, analysis.Score, 1.0)
}

func TestCoachPipelineSecondRejectionIsAccepted(t *testing.T) {
	llm := newScriptedLLM()
	llm.qaScript = []string{
		`{"valid": false, "reason": "vague"}`,
		`{"valid": false, "reason": "still vague"}`,
	}
	coach := coachFixture(t, llm)

	run := coach.Run(context.Background(), "conv-3", "transcript text")
	assert.Equal(t, "completed", run.Status, "a twice-rejected analysis still proceeds")
	assert.Equal(t, 2, llm.callCount("analyze"))
}

func TestCoachPipelineUpstreamFailureAbortsRun(t *testing.T) {
	llm := newScriptedLLM()
	llm.cleanErr = errors.New("model unavailable")
	coach := coachFixture(t, llm)

	run := coach.Run(context.Background(), "conv-4", "transcript text")
	assert.Equal(t, "failed", run.Status)
	assert.NotEmpty(t, run.Error)

	_, hasAnalyze := run.StageResults[StageAnalyze]
	assert.False(t, hasAnalyze, "downstream stages must not run after an upstream failure")
	assert.Equal(t, 0, llm.callCount("analyze"))
	assert.Equal(t, 0, llm.callCount("advise"))
}

func TestCoachPipelineEmptyTranscriptIsTerminal(t *testing.T) {
	llm := newScriptedLLM()
	coach := coachFixture(t, llm)

	run := coach.Run(context.Background(), "conv-5", "   ")
	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, 0, llm.callCount("clean"), "empty transcripts fail before any model call")
}

func TestCoachPipelineResumesFromStageCache(t *testing.T) {
	llm := newScriptedLLM()
	engine := NewPipeline(NewMemoryStageCache(), testPolicy(), nil)
	retrieval := NewRetrievalOrchestrator(&fakeEmbedder{}, NewMemoryVectorStore(), 50, 0.45, 6)
	coach := NewCoachPipeline(engine, llm, retrieval)

	first := coach.Run(context.Background(), "conv-6", "transcript text")
	require.Equal(t, "completed", first.Status)

	second := coach.Run(context.Background(), "conv-6", "transcript text")
	require.Equal(t, "completed", second.Status)

	assert.Equal(t, 1, llm.callCount("clean"), "second run must be served from the stage cache")
	assert.Equal(t, 1, llm.callCount("analyze"))
	assert.True(t, second.StageResults[StageClean].Cached)
	assert.True(t, second.StageResults[StageAdvise].Cached)
}

func TestParseModelJSON(t *testing.T) {
	var qa QAResult

	require.NoError(t, parseModelJSON(`{"valid": true}`, &qa))
	assert.True(t, qa.Valid)

	require.NoError(t, parseModelJSON("```json\n{\"valid\": false, \"reason\": \"x\"}\n```", &qa))
	assert.False(t, qa.Valid)
	assert.Equal(t, "x", qa.Reason)

	require.NoError(t, parseModelJSON(`Here is my verdict: {"valid": true} hope that helps`, &qa))
	assert.True(t, qa.Valid)

	assert.Error(t, parseModelJSON("no json here", &qa))
}

package conductor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"podium/internal/async"
	"podium/internal/dispatch"
)

// DebateMode selects the stance each participant takes toward the earlier
// statements.
type DebateMode string

const (
	DebateModeDebate     DebateMode = "debate"
	DebateModeBrainstorm DebateMode = "brainstorm"
	DebateModeCritique   DebateMode = "critique"
)

var debateRoles = map[DebateMode]string{
	DebateModeDebate:     "You are a debate participant. Challenge the other positions constructively and argue your own stance clearly.",
	DebateModeBrainstorm: "You are a brainstorming participant. Build on the other ideas and contribute new angles.",
	DebateModeCritique:   "You are a critic. Analyze the strengths and weaknesses of what has been said and propose improvements.",
}

const (
	defaultDebateRounds = 3
	maxDebateRounds     = 10
)

// DebateRequest configures a multi-round exchange between two or more models
// on one topic.
type DebateRequest struct {
	Mode        DebateMode `json:"mode"`
	Topic       string     `json:"topic"`
	ModelIDs    []string   `json:"model_ids"`
	Rounds      int        `json:"rounds"`
	MaxOutput   int        `json:"max_output"`
	Temperature float64    `json:"temperature"`
}

func (r DebateRequest) withDefaults() (DebateRequest, error) {
	if r.Topic == "" {
		return r, fmt.Errorf("topic is required")
	}
	if len(r.ModelIDs) < 2 {
		return r, fmt.Errorf("a debate needs at least two models")
	}
	if r.Mode == "" {
		r.Mode = DebateModeDebate
	}
	if _, ok := debateRoles[r.Mode]; !ok {
		return r, fmt.Errorf("unknown debate mode %q", r.Mode)
	}
	if r.Rounds <= 0 {
		r.Rounds = defaultDebateRounds
	}
	if r.Rounds > maxDebateRounds {
		r.Rounds = maxDebateRounds
	}
	return r, nil
}

// Statement is one model's turn. A failed call is kept as a skipped
// statement so the transcript stays complete, but skipped turns never feed
// the later speakers' context.
type Statement struct {
	Round        int  `json:"round"`
	SpeakerIndex int  `json:"speaker_index"`
	Skipped      bool `json:"skipped"`
	dispatch.CallResult
}

// DebateRound groups the statements of one round in speaking order.
type DebateRound struct {
	Round      int         `json:"round"`
	Statements []Statement `json:"statements"`
}

// DebateResult is the full transcript of a finished debate.
type DebateResult struct {
	Mode         DebateMode       `json:"mode"`
	Topic        string           `json:"topic"`
	Participants []string         `json:"participants"`
	Rounds       []DebateRound    `json:"rounds"`
	Summary      dispatch.Summary `json:"summary"`
}

// DebateEventType identifies one frame of a streamed debate.
type DebateEventType string

const (
	DebateEventStart      DebateEventType = "start"
	DebateEventRoundStart DebateEventType = "round_start"
	DebateEventSpeaking   DebateEventType = "speaking"
	DebateEventSpeech     DebateEventType = "speech"
	DebateEventRoundEnd   DebateEventType = "round_end"
	DebateEventComplete   DebateEventType = "complete"
)

// DebateEvent is one frame of a streamed debate.
type DebateEvent struct {
	Type         DebateEventType   `json:"type"`
	Mode         DebateMode        `json:"mode,omitempty"`
	Topic        string            `json:"topic,omitempty"`
	TotalRounds  int               `json:"total_rounds,omitempty"`
	Participants []string          `json:"participants,omitempty"`
	Round        int               `json:"round,omitempty"`
	SpeakerIndex int               `json:"speaker_index,omitempty"`
	ModelID      string            `json:"model_id,omitempty"`
	Statement    *Statement        `json:"statement,omitempty"`
	Summary      *dispatch.Summary `json:"summary,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Debate runs the configured rounds to completion and returns the full
// transcript. Turns are strictly sequential: each speaker sees the most
// recent successful statements of the other participants.
func (c *Conductor) Debate(ctx context.Context, req DebateRequest) (*DebateResult, error) {
	req, err := req.withDefaults()
	if err != nil {
		return nil, err
	}
	result, _ := c.runDebate(ctx, req, func(DebateEvent) bool { return true })
	return result, nil
}

// DebateStream runs the debate and delivers progress frames on the returned
// channel. The channel is always closed; a consumer that walks away stops
// the remaining turns.
func (c *Conductor) DebateStream(ctx context.Context, req DebateRequest) (<-chan DebateEvent, error) {
	req, err := req.withDefaults()
	if err != nil {
		return nil, err
	}
	out := make(chan DebateEvent)
	async.Go(c.logger, "debate-stream", func() {
		defer close(out)
		send := func(ev DebateEvent) bool {
			ev.Timestamp = time.Now().UTC()
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		c.runDebate(ctx, req, send)
	})
	return out, nil
}

// runDebate drives the turn loop, reporting each frame to observe. When
// observe returns false the consumer is gone and the debate stops early.
func (c *Conductor) runDebate(ctx context.Context, req DebateRequest, observe func(DebateEvent) bool) (*DebateResult, bool) {
	start := time.Now()
	result := &DebateResult{
		Mode:         req.Mode,
		Topic:        req.Topic,
		Participants: req.ModelIDs,
	}
	c.logger.Info("debate started: mode=%s rounds=%d participants=%d", req.Mode, req.Rounds, len(req.ModelIDs))

	if !observe(DebateEvent{Type: DebateEventStart, Mode: req.Mode, Topic: req.Topic, TotalRounds: req.Rounds, Participants: req.ModelIDs}) {
		return result, false
	}

	var history []Statement
	var all []dispatch.CallResult
	seq := 0
	for round := 1; round <= req.Rounds; round++ {
		if !observe(DebateEvent{Type: DebateEventRoundStart, Round: round}) {
			return result, false
		}
		dr := DebateRound{Round: round}
		for i, modelID := range req.ModelIDs {
			if !observe(DebateEvent{Type: DebateEventSpeaking, Round: round, SpeakerIndex: i, ModelID: modelID}) {
				return result, false
			}
			st := c.debateTurn(ctx, req, history, round, i, modelID, seq)
			seq++
			if !st.Skipped {
				history = append(history, st)
			}
			dr.Statements = append(dr.Statements, st)
			all = append(all, st.CallResult)
			if !observe(DebateEvent{Type: DebateEventSpeech, Round: round, SpeakerIndex: i, ModelID: modelID, Statement: &st}) {
				return result, false
			}
		}
		result.Rounds = append(result.Rounds, dr)
		if !observe(DebateEvent{Type: DebateEventRoundEnd, Round: round}) {
			return result, false
		}
	}

	result.Summary = dispatch.Summarize(all, time.Since(start))
	observe(DebateEvent{Type: DebateEventComplete, Summary: &result.Summary})
	return result, true
}

func (c *Conductor) debateTurn(ctx context.Context, req DebateRequest, history []Statement, round, speaker int, modelID string, seq int) Statement {
	results := c.dispatcher.Run(ctx, []dispatch.CallRequest{{
		BackendID:     modelID,
		Payload:       buildDebatePrompt(req, history),
		MaxOutput:     req.MaxOutput,
		Temperature:   req.Temperature,
		SequenceIndex: seq,
	}}, 1)

	st := Statement{Round: round, SpeakerIndex: speaker, Skipped: !results[0].Success, CallResult: results[0]}
	if st.Skipped {
		c.logger.Warn("debate turn skipped: round=%d model=%s kind=%s", round, modelID, st.ErrorKind)
	}
	return st
}

// buildDebatePrompt gives the speaker the topic, its role, and a window of
// the most recent statements, one per participant.
func buildDebatePrompt(req DebateRequest, history []Statement) string {
	var sb strings.Builder
	sb.WriteString("Topic: " + req.Topic + "\n\n")
	sb.WriteString(debateRoles[req.Mode] + "\n\n")
	if len(history) == 0 {
		sb.WriteString("Give your view on this topic.")
		return sb.String()
	}

	window := history
	if len(window) > len(req.ModelIDs) {
		window = window[len(window)-len(req.ModelIDs):]
	}
	sb.WriteString("The discussion so far:\n\n")
	for _, st := range window {
		sb.WriteString(fmt.Sprintf("--- %s ---\n%s\n\n", st.BackendID, st.Output))
	}
	sb.WriteString("Taking the discussion above into account, give your view.")
	return sb.String()
}

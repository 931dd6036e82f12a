// Package boundary implements BoundaryDetector: deciding whether a
// buffered conversation has reached a natural semantic end, via an
// LLM-judged JSON decision plus hard-cut rules: a time gap forces a cut
// without consulting the model, and a buffer over the size threshold
// forces a cut at the model's suggested boundary, or at the whole buffer
// when the model offers none.
package boundary

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"memoryservice/internal/llm"
	"memoryservice/internal/model"
	"memoryservice/internal/observability"
)

// Decision is the BoundaryDetector's verdict: either emit at CutIndex
// (first CutIndex messages of history+new form a closed episode) or don't
// emit yet, with Reason explaining why.
type Decision struct {
	Emit     bool
	CutIndex int
	Reason   string
}

// Options configures hard-cut thresholds and LLM retry behavior.
type Options struct {
	HardCutMinutes  int
	HardCutCount    int
	MaxRetries      int
	RetryBackoff    time.Duration
	Model           string
}

// Detector decides episode boundaries over a buffered message stream.
type Detector struct {
	provider llm.Provider
	opts     Options
}

func New(provider llm.Provider, opts Options) *Detector {
	if opts.HardCutMinutes <= 0 {
		opts.HardCutMinutes = 30
	}
	if opts.HardCutCount <= 0 {
		opts.HardCutCount = 50
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 2
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	return &Detector{provider: provider, opts: opts}
}

type llmBoundaryResponse struct {
	Emit      bool `json:"emit"`
	CutIndex  int  `json:"cut_index"`
}

// Detect never emits while new is empty and never emits when history+new
// has two or fewer messages. A time gap over HardCutMinutes forces a cut
// without consulting the LLM; a buffer over HardCutCount forces a cut at
// the LLM's boundary when it gives one, otherwise at the whole buffer.
func (d *Detector) Detect(ctx context.Context, history, newMsgs []model.RawMessage) Decision {
	if len(newMsgs) == 0 {
		return Decision{Emit: false, Reason: "no_new_messages"}
	}
	combined := append(append([]model.RawMessage{}, history...), newMsgs...)
	if len(combined) <= 2 {
		return Decision{Emit: false, Reason: "too_few_messages"}
	}

	if idx, ok := d.hardTimeGapCut(combined); ok {
		return Decision{Emit: true, CutIndex: idx, Reason: "hard_cut_time_gap"}
	}

	if len(combined) > d.opts.HardCutCount {
		decision := d.askLLM(ctx, combined)
		if decision.Emit && decision.CutIndex > 0 {
			return Decision{Emit: true, CutIndex: decision.CutIndex, Reason: "hard_cut_count_llm_boundary"}
		}
		return Decision{Emit: true, CutIndex: len(combined), Reason: "hard_cut_count_whole_buffer"}
	}

	return d.askLLM(ctx, combined)
}

func (d *Detector) hardTimeGapCut(combined []model.RawMessage) (int, bool) {
	gap := time.Duration(d.opts.HardCutMinutes) * time.Minute
	for i := 1; i < len(combined); i++ {
		if combined[i].Timestamp.Sub(combined[i-1].Timestamp) > gap {
			return i, true
		}
	}
	return 0, false
}

func (d *Detector) askLLM(ctx context.Context, combined []model.RawMessage) Decision {
	prompt := buildPrompt(combined)
	msgs := []llm.Message{
		{Role: "system", Content: "You decide whether a buffered conversation has reached a natural close. Respond with strict JSON: {\"emit\": bool, \"cut_index\": int}. cut_index is 1-based and counts messages from the start of the provided stream."},
		{Role: "user", Content: prompt},
	}

	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxRetries; attempt++ {
		resp, err := d.provider.Chat(ctx, msgs, d.opts.Model, llm.WithJSONResponse())
		if err != nil {
			lastErr = err
			if attempt < d.opts.MaxRetries {
				d.sleep(ctx, attempt)
				continue
			}
			break
		}
		var parsed llmBoundaryResponse
		if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("raw", resp.Content).Msg("boundary_detector_invalid_response")
			return Decision{Emit: false, Reason: "invalid_llm_response"}
		}
		if !parsed.Emit {
			return Decision{Emit: false, Reason: "llm_says_continue"}
		}
		if parsed.CutIndex <= 0 || parsed.CutIndex > len(combined) {
			return Decision{Emit: false, Reason: "invalid_cut_index"}
		}
		return Decision{Emit: true, CutIndex: parsed.CutIndex, Reason: "llm_boundary"}
	}

	observability.LoggerWithTrace(ctx).Warn().Err(lastErr).Msg("boundary_detector_llm_call_failed")
	return Decision{Emit: false, Reason: "llm_call_failed"}
}

func (d *Detector) sleep(ctx context.Context, attempt int) {
	backoff := d.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func buildPrompt(msgs []model.RawMessage) string {
	var b []byte
	for i, m := range msgs {
		b = append(b, []byte(
			"["+strconv.Itoa(i+1)+"] "+m.SenderID+" ("+m.Timestamp.Format(time.RFC3339)+"): "+m.Content+"\n",
		)...)
	}
	return string(b)
}

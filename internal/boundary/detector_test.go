package boundary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryservice/internal/llm"
	"memoryservice/internal/model"
	"memoryservice/internal/testhelpers"
)

func msgAt(id string, t time.Time) model.RawMessage {
	return model.RawMessage{MessageID: id, SenderID: "u1", Content: "hi", Timestamp: t}
}

func TestDetect_NeverEmitsWhenNewEmpty(t *testing.T) {
	d := New(&testhelpers.FakeProvider{}, Options{})
	dec := d.Detect(context.Background(), []model.RawMessage{msgAt("1", time.Now())}, nil)
	require.False(t, dec.Emit)
	require.Equal(t, "no_new_messages", dec.Reason)
}

func TestDetect_NeverEmitsWithTwoOrFewerMessages(t *testing.T) {
	d := New(&testhelpers.FakeProvider{}, Options{})
	base := time.Now()
	dec := d.Detect(context.Background(), nil, []model.RawMessage{msgAt("1", base)})
	require.False(t, dec.Emit)
	require.Equal(t, "too_few_messages", dec.Reason)
}

func TestDetect_HardCutOnTimeGap(t *testing.T) {
	d := New(&testhelpers.FakeProvider{}, Options{HardCutMinutes: 30})
	base := time.Now()
	history := []model.RawMessage{msgAt("1", base), msgAt("2", base.Add(time.Minute))}
	newMsgs := []model.RawMessage{msgAt("3", base.Add(2*time.Hour))}
	dec := d.Detect(context.Background(), history, newMsgs)
	require.True(t, dec.Emit)
	require.Equal(t, "hard_cut_time_gap", dec.Reason)
	require.Equal(t, 2, dec.CutIndex)
}

func TestDetect_LLMSaysEmit(t *testing.T) {
	fp := &testhelpers.FakeProvider{Responses: []llm.Message{{Content: `{"emit": true, "cut_index": 2}`}}}
	d := New(fp, Options{})
	base := time.Now()
	history := []model.RawMessage{msgAt("0", base.Add(-time.Minute)), msgAt("1", base)}
	newMsgs := []model.RawMessage{msgAt("2", base.Add(time.Minute))}
	dec := d.Detect(context.Background(), history, newMsgs)
	require.True(t, dec.Emit)
	require.Equal(t, 2, dec.CutIndex)
	require.Equal(t, "llm_boundary", dec.Reason)
}

func TestDetect_LLMSaysContinue(t *testing.T) {
	fp := &testhelpers.FakeProvider{Responses: []llm.Message{{Content: `{"emit": false}`}}}
	d := New(fp, Options{})
	base := time.Now()
	history := []model.RawMessage{msgAt("0", base.Add(-time.Minute)), msgAt("1", base)}
	newMsgs := []model.RawMessage{msgAt("2", base.Add(time.Minute))}
	dec := d.Detect(context.Background(), history, newMsgs)
	require.False(t, dec.Emit)
	require.Equal(t, "llm_says_continue", dec.Reason)
}

func TestDetect_InvalidLLMResponseDoesNotEmit(t *testing.T) {
	fp := &testhelpers.FakeProvider{Responses: []llm.Message{{Content: `not json`}}}
	d := New(fp, Options{})
	base := time.Now()
	history := []model.RawMessage{msgAt("0", base.Add(-time.Minute)), msgAt("1", base)}
	newMsgs := []model.RawMessage{msgAt("2", base.Add(time.Minute))}
	dec := d.Detect(context.Background(), history, newMsgs)
	require.False(t, dec.Emit)
	require.Equal(t, "invalid_llm_response", dec.Reason)
}

func TestDetect_LLMFailureRetriesThenContinues(t *testing.T) {
	fp := &testhelpers.FakeProvider{Err: context.DeadlineExceeded}
	d := New(fp, Options{MaxRetries: 2, RetryBackoff: time.Millisecond})
	base := time.Now()
	history := []model.RawMessage{msgAt("0", base.Add(-time.Minute)), msgAt("1", base)}
	newMsgs := []model.RawMessage{msgAt("2", base.Add(time.Minute))}
	dec := d.Detect(context.Background(), history, newMsgs)
	require.False(t, dec.Emit)
	require.Equal(t, "llm_call_failed", dec.Reason)
	require.Equal(t, 2, fp.Calls())
}

func TestDetect_HardCutOnBufferCountForcesWholeBuffer(t *testing.T) {
	fp := &testhelpers.FakeProvider{Responses: []llm.Message{{Content: `{"emit": false}`}}}
	d := New(fp, Options{HardCutCount: 3})
	base := time.Now()
	history := []model.RawMessage{msgAt("1", base), msgAt("2", base.Add(time.Second)), msgAt("3", base.Add(2*time.Second))}
	newMsgs := []model.RawMessage{msgAt("4", base.Add(3*time.Second))}
	dec := d.Detect(context.Background(), history, newMsgs)
	require.True(t, dec.Emit)
	require.Equal(t, "hard_cut_count_whole_buffer", dec.Reason)
	require.Equal(t, 4, dec.CutIndex)
}

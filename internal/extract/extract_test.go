package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryservice/internal/llm"
	"memoryservice/internal/model"
	"memoryservice/internal/testhelpers"
)

func TestMemCellExtractor_Extract(t *testing.T) {
	fp := &testhelpers.FakeProvider{Responses: []llm.Message{
		{Content: `{"subject": "Trip planning", "summary": "They planned a trip.", "keywords": ["trip", "plan"]}`},
	}}
	e := NewMemCellExtractor(fp, "test-model")

	base := time.Now()
	seg := model.EpisodeSegment{
		GroupID: "g1",
		History: []model.RawMessage{{MessageID: "1", SenderID: "alice", Content: "Let's plan a trip", Timestamp: base}},
		New:     []model.RawMessage{{MessageID: "2", SenderID: "bob", Content: "Sounds great", Timestamp: base.Add(time.Minute)}},
	}

	cell, err := e.Extract(context.Background(), seg)
	require.NoError(t, err)
	require.Equal(t, "Trip planning", cell.Subject)
	require.Equal(t, "g1", cell.GroupID)
	require.Equal(t, "alice", cell.UserID)
	require.ElementsMatch(t, []string{"alice", "bob"}, cell.Participants)
	require.Equal(t, base, cell.Timestamp)
	require.Len(t, cell.OriginalData, 2)
	require.NotEmpty(t, cell.EventID)
}

func TestMemCellExtractor_GroupChatSceneStaysGroupScoped(t *testing.T) {
	fp := &testhelpers.FakeProvider{Responses: []llm.Message{
		{Content: `{"subject": "Standup", "summary": "Team synced.", "keywords": []}`},
	}}
	e := NewMemCellExtractor(fp, "test-model")

	base := time.Now()
	seg := model.EpisodeSegment{
		GroupID: "g1",
		New: []model.RawMessage{
			{MessageID: "1", SenderID: "alice", Content: "standup time", Timestamp: base, Scene: model.SceneGroupChat},
			{MessageID: "2", SenderID: "bob", Content: "on it", Timestamp: base.Add(time.Minute), Scene: model.SceneGroupChat},
		},
	}

	cell, err := e.Extract(context.Background(), seg)
	require.NoError(t, err)
	require.Empty(t, cell.UserID)
}

func TestMemCellExtractor_PropagatesLLMError(t *testing.T) {
	fp := &testhelpers.FakeProvider{Err: context.DeadlineExceeded}
	e := NewMemCellExtractor(fp, "test-model")
	seg := model.EpisodeSegment{
		New: []model.RawMessage{{MessageID: "1", SenderID: "a", Content: "hi", Timestamp: time.Now()}},
	}
	_, err := e.Extract(context.Background(), seg)
	require.Error(t, err)
}

func TestEpisodeExtractor_Extract(t *testing.T) {
	fp := &testhelpers.FakeProvider{Responses: []llm.Message{
		{Content: `{"subject": "Week in review", "summary": "Busy week.", "keywords": ["week"], "episode": "A long narrative."}`},
	}}
	e := NewEpisodeExtractor(fp, "test-model")

	base := time.Now()
	cells := []model.MemCell{
		{EventID: "e1", Participants: []string{"alice"}, Timestamp: base, Subject: "s1", Summary: "sum1"},
		{EventID: "e2", Participants: []string{"bob"}, Timestamp: base.Add(time.Hour), Subject: "s2", Summary: "sum2"},
	}

	ep, err := e.Extract(context.Background(), "g1", cells)
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2"}, ep.MemCellEventIDList)
	require.Equal(t, "A long narrative.", ep.NarrativeText)
	require.ElementsMatch(t, []string{"alice", "bob"}, ep.Participants)
	require.Empty(t, ep.UserID, "cells without a common owner stay group-scoped")
}

func TestEpisodeExtractor_Extract_CarriesCommonOwnerForward(t *testing.T) {
	fp := &testhelpers.FakeProvider{Responses: []llm.Message{
		{Content: `{"subject": "Week in review", "summary": "Busy week.", "keywords": ["week"], "episode": "A long narrative."}`},
	}}
	e := NewEpisodeExtractor(fp, "test-model")

	base := time.Now()
	cells := []model.MemCell{
		{EventID: "e1", UserID: "alice", Participants: []string{"alice"}, Timestamp: base, Subject: "s1", Summary: "sum1"},
		{EventID: "e2", UserID: "alice", Participants: []string{"alice"}, Timestamp: base.Add(time.Hour), Subject: "s2", Summary: "sum2"},
	}

	ep, err := e.Extract(context.Background(), "g1", cells)
	require.NoError(t, err)
	require.Equal(t, "alice", ep.UserID)
}

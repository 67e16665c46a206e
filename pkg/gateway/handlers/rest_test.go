package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/callcoach/pkg/coach/dispatch"
	"github.com/vango-go/callcoach/pkg/coach/playbook"
	"github.com/vango-go/callcoach/pkg/coach/record"
	"github.com/vango-go/callcoach/pkg/coach/review"
	"github.com/vango-go/callcoach/pkg/coach/session"
	"github.com/vango-go/callcoach/pkg/core/types"
)

func restMux(store record.Store, reg *session.Registry) *http.ServeMux {
	calls := CallsHandler{Store: store}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/calls", calls.List)
	mux.HandleFunc("GET /v1/calls/{id}", calls.Get)
	mux.HandleFunc("DELETE /v1/calls/{id}", calls.Delete)
	mux.HandleFunc("POST /v1/calls/{id}/analyze", calls.Analyze)
	mux.Handle("GET /v1/sessions/{id}", SessionsHandler{Registry: reg})
	mux.Handle("GET /v1/toolkit", ToolkitHandler{Playbook: playbook.Default()})
	return mux
}

func seedRecords(t *testing.T, store record.Store, ids ...string) {
	t.Helper()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range ids {
		start := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Save(context.Background(), record.Record{
			Summary: types.CallSummary{SessionID: id, StartedAt: start, EndedAt: start.Add(time.Minute), Reason: "client", FinalStage: types.StageClose},
			Turns:   []types.Turn{{Speaker: types.SpeakerCustomer, Text: "sounds good", IsFinal: true, Timestamp: start}},
		}))
	}
}

func doRequest(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestCallsHandler_ListGetDelete(t *testing.T) {
	store := record.NewMemoryStore()
	seedRecords(t, store, "call-a", "call-b", "call-c")
	mux := restMux(store, session.NewRegistry(session.Dependencies{}))

	rr := doRequest(mux, http.MethodGet, "/v1/calls?limit=2")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var list struct {
		Calls []types.CallSummary `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Calls, 2)
	assert.Equal(t, "call-c", list.Calls[0].SessionID, "newest first")

	rr = doRequest(mux, http.MethodGet, "/v1/calls/call-a")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec record.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, "call-a", rec.ID())
	assert.Len(t, rec.Turns, 1)

	rr = doRequest(mux, http.MethodDelete, "/v1/calls/call-a")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(mux, http.MethodGet, "/v1/calls/call-a")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"not_found_error"`)

	rr = doRequest(mux, http.MethodDelete, "/v1/calls/call-a")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

type scriptedAnalyzer struct{ payload string }

func (a scriptedAnalyzer) Name() string { return "scripted" }

func (a scriptedAnalyzer) Reason(context.Context, *types.GuidanceRequest) ([]byte, error) {
	return nil, errors.New("not used")
}

func (a scriptedAnalyzer) Analyze(context.Context, *types.AnalysisRequest) ([]byte, error) {
	return []byte(a.payload), nil
}

func TestCallsHandler_Analyze(t *testing.T) {
	store := record.NewMemoryStore()
	seedRecords(t, store, "call-a")
	analyzedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := CallsHandler{Store: store, Reviewer: review.New(review.Dependencies{
		Store:    store,
		Reasoner: scriptedAnalyzer{payload: "```json\n" + `{"what_worked":["Strong close"],"missed_opportunities":[],"improvement_tips":["Slow down"],"success_score":8,"call_outcome":"positive","key_insights":"Closed."}` + "\n```"},
		Now:      func() time.Time { return analyzedAt },
	})}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/calls/{id}", calls.Get)
	mux.HandleFunc("POST /v1/calls/{id}/analyze", calls.Analyze)

	rr := doRequest(mux, http.MethodPost, "/v1/calls/call-a/analyze")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got types.Analysis
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 8, got.SuccessScore)
	assert.Equal(t, types.OutcomePositive, got.Outcome)
	assert.Equal(t, types.SourceProvider, got.Source)
	assert.True(t, analyzedAt.Equal(got.AnalyzedAt))

	rr = doRequest(mux, http.MethodGet, "/v1/calls/call-a")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec record.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	require.NotNil(t, rec.Analysis)
	assert.Equal(t, []string{"Strong close"}, rec.Analysis.WhatWorked)

	rr = doRequest(mux, http.MethodPost, "/v1/calls/missing/analyze")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"not_found_error"`)
}

func TestCallsHandler_AnalyzeWithoutReviewerIsStatic(t *testing.T) {
	store := record.NewMemoryStore()
	seedRecords(t, store, "call-a")
	mux := restMux(store, session.NewRegistry(session.Dependencies{}))

	rr := doRequest(mux, http.MethodPost, "/v1/calls/call-a/analyze")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got types.Analysis
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, types.SourceFallback, got.Source)
	assert.False(t, got.AnalyzedAt.IsZero())
}

func TestCallsHandler_ListRejectsBadLimit(t *testing.T) {
	mux := restMux(record.NewMemoryStore(), session.NewRegistry(session.Dependencies{}))
	for _, q := range []string{"0", "-3", "ten"} {
		rr := doRequest(mux, http.MethodGet, "/v1/calls?limit="+q)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}

	rr := doRequest(mux, http.MethodGet, "/v1/calls")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"calls":[]}`, rr.Body.String())
}

func TestSessionsHandler_Snapshot(t *testing.T) {
	reg := session.NewRegistry(session.Dependencies{})
	sess, err := reg.Create(dispatch.SinkFunc(func(context.Context, types.Event) error { return nil }))
	require.NoError(t, err)
	t.Cleanup(func() {
		reg.EndAll(session.ReasonShutdown)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Wait(ctx)
	})
	require.NoError(t, reg.Submit(sess.ID(), types.TranscriptEvent{Text: "Hi, this is Dana from Acme", Speaker: "salesperson", IsFinal: true}))

	mux := restMux(record.NewMemoryStore(), reg)
	rr := doRequest(mux, http.MethodGet, "/v1/sessions/"+sess.ID())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, sess.ID(), snap.ID)
	assert.Equal(t, "active", snap.Status)
	assert.Equal(t, 1, snap.Turns)

	rr = doRequest(mux, http.MethodGet, "/v1/sessions/missing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestToolkitHandler(t *testing.T) {
	mux := restMux(record.NewMemoryStore(), session.NewRegistry(session.Dependencies{}))
	rr := doRequest(mux, http.MethodGet, "/v1/toolkit")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Categories []playbook.ToolkitCategory `json:"categories"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Categories)
}

func TestNotFoundHandler(t *testing.T) {
	rr := doRequest(NotFoundHandler{}, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rr.Body.String(), `"type":"not_found_error"`)
}

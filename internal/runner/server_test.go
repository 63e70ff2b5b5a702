package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thiwi/valiax/internal/connections"
	"github.com/thiwi/valiax/internal/dispatch"
	"github.com/thiwi/valiax/internal/recorder"
	"github.com/thiwi/valiax/internal/rules"
	"github.com/thiwi/valiax/internal/security"
	"github.com/thiwi/valiax/internal/storage"
)

type fakeResults struct {
	payload recorder.Payload
	err     error
}

func (f *fakeResults) Result(ctx context.Context, runID string) (recorder.Payload, error) {
	return f.payload, f.err
}

func newTestServer(t *testing.T) (*Runner, http.Handler) {
	t.Helper()
	store := &fakeRules{rules: []rules.Rule{rule(ruleA, "users", "check: not_null")}}
	r := newTestRunner(store, &fakeConnector{}, newFakeRecorder(), security.DefaultLimits())
	return r, NewRouter(&Handler{Runner: r, Results: &fakeResults{payload: recorder.Payload{Status: recorder.PayloadSuccess}}})
}

func TestHandleRunAccepted(t *testing.T) {
	r, router := newTestServer(t)
	body, _ := json.Marshal(dispatch.Request{DBConnID: connID, RuleIDs: []string{ruleA}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(body)))
	r.Wait()

	require.Equal(t, http.StatusAccepted, rec.Code)
	var ack dispatch.Ack
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ack))
	assert.Equal(t, []string{ruleA}, ack.Accepted)
	assert.Equal(t, []string{}, ack.Deferred)
}

func TestHandleRunBadRequests(t *testing.T) {
	_, router := newTestServer(t)
	for _, payload := range []string{`{`, `{"db_conn_id":"x","rule_ids":["y"]}`, `{"db_conn_id":"` + connID + `","rule_ids":[],"extra":1}`} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader([]byte(payload))))
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
	}
}

func TestHandleRunMethodNotAllowed(t *testing.T) {
	_, router := newTestServer(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/run", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	_, router := newTestServer(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "valiax_runner_deferred_rules_total")
}

func TestHandleTestConnection(t *testing.T) {
	r, router := newTestServer(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/connections/"+connID+"/test", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	r.Resolver = &fakeResolver{err: connections.ErrNotFound}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/connections/"+connID+"/test", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleResult(t *testing.T) {
	r, _ := newTestServer(t)
	router := NewRouter(&Handler{Runner: r, Results: &fakeResults{err: storage.ErrNotFound}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/abc/result", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	router = NewRouter(&Handler{Runner: r, Results: &fakeResults{err: errors.New("db down")}})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/abc/result", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	_, router = newTestServer(t)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/abc/result", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"success"`)
}

func TestResponderReply(t *testing.T) {
	r, _ := newTestServer(t)
	s := &Responder{Runner: r, Logger: testLogger()}

	reply := s.Reply([]byte(`not json`))
	assert.Contains(t, reply.Error, "invalid json payload")

	reply = s.Reply([]byte(`{"db_conn_id":"x","rule_ids":[]}`))
	assert.Contains(t, reply.Error, "invalid run request")

	data, _ := json.Marshal(dispatch.Request{DBConnID: connID, RuleIDs: []string{ruleA}})
	reply = s.Reply(data)
	r.Wait()
	assert.Empty(t, reply.Error)
	assert.Equal(t, []string{ruleA}, reply.Accepted)
}

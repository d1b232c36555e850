package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/kg-sidecar/internal/config"
	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/graph"
	"github.com/yungbote/kg-sidecar/internal/handlers"
	"github.com/yungbote/kg-sidecar/internal/kg"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
	"github.com/yungbote/kg-sidecar/internal/platform/openrouter"
	"github.com/yungbote/kg-sidecar/internal/server"
	"github.com/yungbote/kg-sidecar/internal/slots"
)

// cannedLLM serves every slot a fixed, pipeline-completing payload.
type cannedLLM struct{}

func (cannedLLM) GenerateJSON(_ context.Context, req openrouter.Request, out any) error {
	var payload string
	switch {
	case strings.Contains(req.SystemPrompt, "the Retriever slot"):
		payload = `{"focus_entities":[{"name":"Aria"},{"name":"Bren"}],"relation_hints":[],"retrieval_notes":"ok"}`
	case strings.Contains(req.SystemPrompt, "the Injector slot"):
		payload = `{"second_person_psychology":"a","third_person_relations":"b","neutral_background":"c","event_evidence_context":"d"}`
	case strings.Contains(req.SystemPrompt, "the Extractor slot"):
		payload = `{"actions":[{"action":"EVOLVE","from_uuid":"char:Aria","to_uuid":"char:Bren","from_name":"Aria","to_name":"Bren","new_label":"ALLY","delta_weight":0.1,"evidence_quote":"q","reasoning":"r","cause":"c","event_name":"event:EVOLVE:Aria->Bren"}],"global_audit":{"storage_compare":[],"bio_rewrites":[]}}`
	case strings.Contains(req.SystemPrompt, "the Judge slot"):
		payload = `{"identity_conflicts":[],"allowCommit":true,"bio_sync_patch":[]}`
	case strings.Contains(req.SystemPrompt, "the Historian slot"):
		payload = `{"milestones":["[story-milestone] bond deepens"]}`
	default:
		return fmt.Errorf("unexpected prompt")
	}
	return json.Unmarshal([]byte(payload), out)
}

func (cannedLLM) GenerateReply(context.Context, openrouter.Request) (string, error) {
	return "reply", nil
}

func newTestRouter(t *testing.T, llm openrouter.Client, lock kg.ConversationLock) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	factory := graph.NewFactory(log)
	orch := kg.NewOrchestrator(log, &slots.Runtime{Client: llm, Log: log}, factory, lock, nil)
	return server.NewRouter(server.RouterConfig{
		TurnHandler: handlers.NewTurnHandler(orch, &config.PipelineDefaults{}),
	})
}

func postJSON(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func commitBody(turnID string) string {
	return fmt.Sprintf(`{
		"conversation_id": "conv-1",
		"turn_id": %q,
		"step": 1,
		"user_message": "Aria trusts Bren",
		"chat_window": []
	}`, turnID)
}

func TestCommitTurnEndpointSuccess(t *testing.T) {
	router := newTestRouter(t, cannedLLM{}, nil)

	w := postJSON(router, "/turn/commit", commitBody("t1"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var result domain.TurnResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.OK || result.Commit.Status != domain.StateCommitted {
		t.Fatalf("result: %+v", result.Commit)
	}
}

func TestCommitTurnEndpointInvalidRequest(t *testing.T) {
	router := newTestRouter(t, cannedLLM{}, nil)

	// Structurally valid JSON, semantically invalid request.
	w := postJSON(router, "/turn/commit", `{"conversation_id":"conv-1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	// Malformed JSON body.
	w = postJSON(router, "/turn/commit", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCommitTurnEndpointConflict(t *testing.T) {
	lock := kg.NewMemoryLock()
	router := newTestRouter(t, cannedLLM{}, lock)

	if !lock.Acquire("conv-1") {
		t.Fatalf("test lock setup failed")
	}
	w := postJSON(router, "/turn/commit", commitBody("t1"))
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestCommitTurnEndpointRollback(t *testing.T) {
	// No LLM client: the strict retriever refuses and the turn rolls back.
	router := newTestRouter(t, nil, nil)

	w := postJSON(router, "/turn/commit", commitBody("t1"))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var result domain.TurnResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Commit.ReasonCode != "RETRIEVER_LLM_REQUIRED" {
		t.Fatalf("reason code = %s", result.Commit.ReasonCode)
	}
}

func TestTurnStatusEndpoint(t *testing.T) {
	router := newTestRouter(t, cannedLLM{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/turn/status/ghost", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown turn status = %d, want 404", w.Code)
	}

	if w := postJSON(router, "/turn/commit", commitBody("t1")); w.Code != http.StatusOK {
		t.Fatalf("seed commit failed: %s", w.Body.String())
	}
	req = httptest.NewRequest(http.MethodGet, "/turn/status/t1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestTurnRetryEndpoint(t *testing.T) {
	router := newTestRouter(t, cannedLLM{}, nil)

	w := postJSON(router, "/turn/retry", `{"turn_id":"ghost"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown retry status = %d, want 422", w.Code)
	}

	if w := postJSON(router, "/turn/commit", commitBody("t1")); w.Code != http.StatusOK {
		t.Fatalf("seed commit failed: %s", w.Body.String())
	}
	w = postJSON(router, "/turn/retry", `{"turn_id":"t1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestClearEndpointRequiresConfirm(t *testing.T) {
	router := newTestRouter(t, cannedLLM{}, nil)

	w := postJSON(router, "/db/clear", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed clear status = %d, want 400", w.Code)
	}

	w = postJSON(router, "/db/clear", `{"confirm":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, cannedLLM{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health/pipeline", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ready") {
		t.Fatalf("health: %d %s", w.Code, w.Body.String())
	}
}

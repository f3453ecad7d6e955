package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nova-battle-service/internal/app"
	"nova-battle-service/internal/domain"
	"nova-battle-service/internal/infra/memory"
	transport "nova-battle-service/internal/transport/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	questions := []domain.Question{
		{ID: "q1", Text: "2+2?", Kind: domain.KindMCQ, Tags: []string{"math"}, MCQ: &domain.MCQ{Options: []string{"3", "4"}, CorrectAnswer: "4"}},
		{ID: "q2", Text: "Explain zero.", Kind: domain.KindParagraph, Tags: []string{"math"}, Paragraph: &domain.Paragraph{Guideline: "nothing"}},
	}
	bank := memory.NewQuestionCache(memory.NewStaticQuestionLoader(questions), time.Minute)
	service := app.NewBattleService(memory.NewBattleStore(), memory.NewUserStore(), bank,
		app.WithSettings(app.Settings{QuestionCount: 2}))
	h := transport.NewHandler(service, memory.NewSessionStore(time.Hour), transport.Config{DevLogin: true})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newAPI(t)

	alice, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, alice.Login(ctx, "alice"))

	created, err := alice.Create(ctx, "Math Duel", []string{"math"})
	require.NoError(t, err)
	assert.Len(t, created.Code, 6)

	joined, err := alice.Join(ctx, created.Code)
	require.NoError(t, err)
	require.Len(t, joined.Questions, 2)

	answers := make([]domain.Answer, 0, len(joined.Questions))
	for _, q := range joined.Questions {
		value := "4"
		if q.Kind == domain.KindParagraph {
			value = "nothing at all"
		}
		answers = append(answers, domain.Answer{QuestionID: q.ID, QuestionType: q.Kind, Answer: value, TimeTaken: 2})
	}
	res, err := alice.Evaluate(ctx, Submission{BattleID: joined.ID, Answers: answers, CompletionTime: 4, Finish: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Analytics.CorrectCount)
	assert.Equal(t, domain.StatusFinished, res.Status)

	analysis, err := alice.Analysis(ctx, joined.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, analysis.Performance.TotalPlayers)

	profile, err := alice.History(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, profile.Battles, 1)
	assert.Equal(t, joined.ID, profile.Battles[0].BattleID)

	list, err := alice.ListRecent(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClientSurfacesAPIError(t *testing.T) {
	ctx := context.Background()
	srv := newAPI(t)

	anon, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = anon.ListRecent(ctx)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	require.NoError(t, anon.Login(ctx, "bob"))
	_, err = anon.Join(ctx, "ZZZZZZ")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Message, "battle not found")
}

func TestClientHandlesNonJSONErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = c.Analysis(context.Background(), "b1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestClientSendsEvaluateBody(t *testing.T) {
	var got Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/battle/evaluate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(app.EvaluationResult{Status: domain.StatusInProgress})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	res, err := c.Evaluate(context.Background(), Submission{
		BattleID: "b1",
		Answers:  []domain.Answer{{QuestionID: "q1", Answer: "time up / no response", IsAuto: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, res.Status)
	assert.Equal(t, "b1", got.BattleID)
	require.Len(t, got.Answers, 1)
	assert.True(t, got.Answers[0].IsAuto)
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New(Config{BaseURL: "localhost:8080"})
	assert.Error(t, err)
}

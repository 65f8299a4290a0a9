package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opina/server/internal/auth"
	"github.com/opina/server/internal/category"
	"github.com/opina/server/internal/http/handlers"
	"github.com/opina/server/internal/middleware"
	"github.com/opina/server/internal/model"
	"github.com/opina/server/internal/poll"
	"github.com/opina/server/internal/stats"
	"github.com/opina/server/internal/testutil"
	"github.com/opina/server/internal/vote"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type codeRecorder struct {
	mu    sync.Mutex
	codes []string
}

func (c *codeRecorder) SendCode(_ context.Context, _ model.Channel, _, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
	return nil
}

func (c *codeRecorder) last(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.codes)
	return c.codes[len(c.codes)-1]
}

type testServer struct {
	router http.Handler
	store  *testutil.Store
	clock  *testutil.Clock
	jwt    *auth.JWTService
	codes  *codeRecorder
}

func newTestServer(t *testing.T, authMax int) *testServer {
	t.Helper()
	clock := testutil.NewClock(t0)
	store := testutil.NewStore(clock)
	codes := &codeRecorder{}

	jwtService := auth.NewJWTService("test-secret", time.Hour)
	statsService := stats.NewService(store.Polls(), store.Votes(), clock.Now)
	voteService := vote.NewService(store.Polls(), store.Votes(), store.Users(), statsService, codes,
		vote.Options{CodeTTL: 15 * time.Minute}, clock.Now)

	authLimiter := middleware.NewMemoryLimiter(time.Minute, authMax)
	voteLimiter := middleware.NewMemoryLimiter(time.Minute, 100)
	t.Cleanup(authLimiter.Close)
	t.Cleanup(voteLimiter.Close)

	r := NewRouter(Handlers{
		Auth:       handlers.NewAuthHandler(auth.NewAuthService(jwtService, store.Users())),
		Polls:      handlers.NewPollHandler(poll.NewService(store.Polls(), store.Categories(), store.Votes(), statsService, clock.Now)),
		Votes:      handlers.NewVoteHandler(voteService),
		Stats:      handlers.NewStatsHandler(statsService),
		Categories: handlers.NewCategoryHandler(category.NewService(store.Categories())),
		Health:     handlers.NewHealthHandler(nil),
	}, Options{
		APIPrefix:   "/api",
		Tokens:      jwtService,
		AuthLimiter: authLimiter,
		VoteLimiter: voteLimiter,
	})

	return &testServer{router: r, store: store, clock: clock, jwt: jwtService, codes: codes}
}

func (s *testServer) token(t *testing.T, u model.User) string {
	t.Helper()
	token, err := s.jwt.Sign(u)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHealthAndNotFound(t *testing.T) {
	s := newTestServer(t, 100)

	w, body := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "API Opina fonctionnelle", body["message"])

	w, body = s.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Route non trouvée", body["erreur"])
}

func TestRegisterLoginVerify(t *testing.T) {
	s := newTestServer(t, 100)

	w, body := s.do(t, http.MethodPost, "/api/auth/inscription", "", map[string]any{
		"nom": "Alice", "email": "alice@example.com", "mot_de_passe": "secret1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Inscription réussie", body["message"])
	assert.NotEmpty(t, body["token"])
	user := body["utilisateur"].(map[string]any)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, false, user["est_admin"])
	assert.NotContains(t, user, "mot_de_passe")

	w, body = s.do(t, http.MethodPost, "/api/auth/inscription", "", map[string]any{
		"nom": "Alice 2", "email": "alice@example.com", "mot_de_passe": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Un utilisateur avec cet email existe déjà", body["erreur"])

	w, body = s.do(t, http.MethodPost, "/api/auth/connexion", "", map[string]any{
		"email": "alice@example.com", "mot_de_passe": "secret1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	token := body["token"].(string)

	w, _ = s.do(t, http.MethodPost, "/api/auth/connexion", "", map[string]any{
		"email": "alice@example.com", "mot_de_passe": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/auth/verifier", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Alice", body["utilisateur"].(map[string]any)["nom"])

	w, body = s.do(t, http.MethodGet, "/api/auth/verifier", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Token manquant", body["erreur"])
}

func TestRegisterValidationErrors(t *testing.T) {
	s := newTestServer(t, 100)

	w, body := s.do(t, http.MethodPost, "/api/auth/inscription", "", map[string]any{
		"nom": "", "email": "not-an-email", "mot_de_passe": "123",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields := body["erreurs"].([]any)
	require.Len(t, fields, 3)

	byField := map[string]string{}
	for _, f := range fields {
		m := f.(map[string]any)
		byField[m["champ"].(string)] = m["message"].(string)
	}
	assert.Equal(t, "Le nom est requis", byField["nom"])
	assert.Equal(t, "Email invalide", byField["email"])
	assert.Equal(t, "Le mot de passe doit contenir au moins 6 caractères", byField["mot_de_passe"])
}

func TestRegisterPasswordTooLong(t *testing.T) {
	s := newTestServer(t, 100)

	w, body := s.do(t, http.MethodPost, "/api/auth/inscription", "", map[string]any{
		"nom": "Alice", "email": "alice@example.com", "mot_de_passe": strings.Repeat("a", 80),
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "Le mot de passe ne doit pas dépasser 72 caractères", body["erreur"])

	// 40 characters but 80 bytes once encoded
	w, body = s.do(t, http.MethodPost, "/api/auth/inscription", "", map[string]any{
		"nom": "Alice", "email": "alice@example.com", "mot_de_passe": strings.Repeat("é", 40),
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, "Le mot de passe ne doit pas dépasser 72 octets", body["erreur"])
	users, err := s.store.Users().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestConfirmCodeFormat(t *testing.T) {
	s := newTestServer(t, 100)
	voter := s.store.SeedUser("Bob", "bob@example.com", nil, false)

	for _, code := range []string{"12ab56", "12345", "1234567"} {
		w, body := s.do(t, http.MethodPost, "/api/votes/valider", s.token(t, voter), map[string]any{"id_vote": 1, "code": code})
		assert.Equal(t, http.StatusBadRequest, w.Code, code)
		assert.Equal(t, "Le code doit contenir 6 chiffres", body["erreur"], code)
	}
}

func TestCategoryValidation(t *testing.T) {
	s := newTestServer(t, 100)
	admin := s.store.SeedUser("Admin", "admin@example.com", nil, true)
	token := s.token(t, admin)

	w, body := s.do(t, http.MethodPost, "/api/categories", token, map[string]any{"nom": "Sport", "couleur": "#FFF"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Couleur invalide (format: #RRGGBB)", body["erreur"])

	w, body = s.do(t, http.MethodPost, "/api/categories", token, map[string]any{"couleur": "#10B981"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Le nom est requis", body["erreur"])

	c := s.store.SeedCategory("Culture")
	path := "/api/categories/" + jsonID(c.ID)
	w, body = s.do(t, http.MethodPut, path, token, map[string]any{"couleur": "rouge"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Couleur invalide (format: #RRGGBB)", body["erreur"])

	w, body = s.do(t, http.MethodPut, path, token, map[string]any{"couleur": "#aabbcc", "description": ""})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := body["categorie"].(map[string]any)
	assert.Equal(t, "#aabbcc", updated["couleur"])
	assert.Nil(t, updated["description"])
}

func TestAuthRateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	creds := map[string]any{"email": "ghost@example.com", "mot_de_passe": "whatever"}

	for i := 0; i < 2; i++ {
		w, _ := s.do(t, http.MethodPost, "/api/auth/connexion", "", creds)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w, body := s.do(t, http.MethodPost, "/api/auth/connexion", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Trop de tentatives, réessayez plus tard", body["erreur"])
}

func TestVoteScenario(t *testing.T) {
	s := newTestServer(t, 100)
	admin := s.store.SeedUser("Admin", "admin@example.com", nil, true)
	voter := s.store.SeedUser("Bob", "bob@example.com", nil, false)
	adminToken, voterToken := s.token(t, admin), s.token(t, voter)

	w, body := s.do(t, http.MethodPost, "/api/categories", adminToken, map[string]any{"nom": "Sport"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	categoryID := body["categorie"].(map[string]any)["id"]

	w, body = s.do(t, http.MethodPost, "/api/sondages", adminToken, map[string]any{
		"titre":        "Meilleur sport",
		"options":      []string{"Foot", "Rugby"},
		"date_debut":   t0.Add(time.Hour).Format(time.RFC3339),
		"date_fin":     t0.Add(2 * time.Hour).Format(time.RFC3339),
		"id_categorie": categoryID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sondage := body["sondage"].(map[string]any)
	pollID := int64(sondage["id"].(float64))
	options := sondage["options"].([]any)
	require.Len(t, options, 2)
	optionID := options[0].(map[string]any)["id"]
	assert.Equal(t, string(model.PollUpcoming), sondage["statut"])

	w, body = s.do(t, http.MethodPost, "/api/votes", voterToken, map[string]any{
		"id_sondage": pollID, "id_option": optionID, "type_validation": "email",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Ce sondage n'est pas encore ouvert", body["erreur"])

	s.clock.Advance(90 * time.Minute)

	w, body = s.do(t, http.MethodPost, "/api/votes", adminToken, map[string]any{"id_sondage": "garbage"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Les administrateurs ne peuvent pas voter", body["erreur"])

	w, body = s.do(t, http.MethodPost, "/api/votes", voterToken, map[string]any{
		"id_sondage": pollID, "id_option": optionID, "type_validation": "email",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "email", body["type_validation"])
	assert.NotContains(t, body, "code_validation")
	voteID := body["id_vote"]

	w, _ = s.do(t, http.MethodPost, "/api/votes", voterToken, map[string]any{
		"id_sondage": pollID, "id_option": optionID, "type_validation": "email",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/votes/valider", voterToken, map[string]any{"id_vote": voteID, "code": "000000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Code invalide ou expiré", body["erreur"])

	w, body = s.do(t, http.MethodPost, "/api/votes/valider", voterToken, map[string]any{"id_vote": voteID, "code": s.codes.last(t)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Vote validé avec succès", body["message"])

	w, body = s.do(t, http.MethodGet, "/api/statistiques/"+jsonID(pollID), voterToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	s.clock.Advance(time.Hour)

	w, body = s.do(t, http.MethodGet, "/api/statistiques/"+jsonID(pollID), voterToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, body["total_votes"])
	assert.Equal(t, []any{optionID}, body["gagnants"])

	w, body = s.do(t, http.MethodGet, "/api/sondages/"+jsonID(pollID), voterToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := body["sondage"].(map[string]any)
	assert.Equal(t, true, detail["a_vote"])
	assert.Contains(t, detail, "resultats")

	w, body = s.do(t, http.MethodGet, "/api/votes/historique", voterToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["historique"], 1)
}

func TestPollRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t, 100)
	voter := s.store.SeedUser("Bob", "bob@example.com", nil, false)

	w, _ := s.do(t, http.MethodGet, "/api/sondages", s.token(t, voter), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/sondages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := s.do(t, http.MethodGet, "/api/sondages/ouverts", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, body["sondages"])
}

func TestGetPollAnonymous(t *testing.T) {
	s := newTestServer(t, 100)
	admin := s.store.SeedUser("Admin", "admin@example.com", nil, true)
	p, _ := s.store.SeedPoll("T1", admin.ID, nil, t0.Add(-time.Hour), t0.Add(time.Hour), "A", "B")

	w, body := s.do(t, http.MethodGet, "/api/sondages/"+jsonID(p.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := body["sondage"].(map[string]any)
	assert.NotContains(t, detail, "a_vote")
	assert.Len(t, detail["options"], 2)

	w, _ = s.do(t, http.MethodGet, "/api/sondages/"+jsonID(p.ID), "not-a-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/sondages/999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Sondage non trouvé", body["erreur"])
}

func TestUpdateStartedPoll(t *testing.T) {
	s := newTestServer(t, 100)
	admin := s.store.SeedUser("Admin", "admin@example.com", nil, true)
	p, _ := s.store.SeedPoll("T1", admin.ID, nil, t0.Add(-time.Hour), t0.Add(time.Hour), "A", "B")

	w, body := s.do(t, http.MethodPut, "/api/sondages/"+jsonID(p.ID), s.token(t, admin), map[string]any{"titre": "T2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Impossible de modifier un sondage qui a déjà commencé", body["erreur"])

	w, body = s.do(t, http.MethodPost, "/api/sondages", s.token(t, admin), map[string]any{
		"titre": "T3", "options": []string{"A", "B"}, "date_debut": "hier", "date_fin": "demain", "id_categorie": 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Date de début invalide", body["erreur"])
}

func TestCategoryPermissions(t *testing.T) {
	s := newTestServer(t, 100)
	admin := s.store.SeedUser("Admin", "admin@example.com", nil, true)
	c := s.store.SeedCategory("Culture")
	path := "/api/categories/" + jsonID(c.ID)

	w, _ := s.do(t, http.MethodDelete, path, s.token(t, admin), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	owner := admin
	owner.IsSuperAdmin = true
	w, body := s.do(t, http.MethodDelete, path, s.token(t, owner), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Catégorie supprimée avec succès", body["message"])

	w, body = s.do(t, http.MethodGet, "/api/categories", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, body["categories"])
}

func TestUserRoles(t *testing.T) {
	s := newTestServer(t, 100)
	owner := s.store.SeedUser("Owner", "owner@example.com", nil, true)
	owner.IsSuperAdmin = true
	bob := s.store.SeedUser("Bob", "bob@example.com", nil, false)
	token := s.token(t, owner)

	w, body := s.do(t, http.MethodPut, "/api/utilisateurs/"+jsonID(bob.ID)+"/roles", token, map[string]any{"est_admin": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["utilisateur"].(map[string]any)["est_admin"])

	w, _ = s.do(t, http.MethodPut, "/api/utilisateurs/"+jsonID(owner.ID)+"/roles", token, map[string]any{"est_admin": false})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/utilisateurs", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["utilisateurs"], 2)

	w, _ = s.do(t, http.MethodGet, "/api/utilisateurs", s.token(t, bob), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

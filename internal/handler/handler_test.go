package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-system/internal/middleware"
	"github.com/mmeshcher/loyalty-system/internal/model"
	"github.com/mmeshcher/loyalty-system/internal/repository"
	"github.com/mmeshcher/loyalty-system/internal/service"
)

// stubService возвращает заранее заданные значения или ошибку err.
type stubService struct {
	err error

	userID  int64
	tx      *model.Transaction
	txs     []model.Transaction
	balance int64
	event   *model.Event
	events  []model.Event
	guests  []model.User
	promo   *model.Promotion
	promos  []model.Promotion

	awardSingleCalled bool
	awardAllCalled    bool
	awardRecipient    string
	removedGuest      string
}

func (s *stubService) RegisterUser(ctx context.Context, handle, name, password, email string) (int64, error) {
	return s.userID, s.err
}

func (s *stubService) AuthenticateUser(ctx context.Context, handle, password string) (int64, error) {
	return s.userID, s.err
}

func (s *stubService) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return &model.User{ID: id}, s.err
}

func (s *stubService) SetUserRole(ctx context.Context, actorID, targetID int64, role model.Role) error {
	return s.err
}

func (s *stubService) VerifyUser(ctx context.Context, actorID, targetID int64) error {
	return s.err
}

func (s *stubService) CreateTransaction(ctx context.Context, actorID int64, req service.TransactionRequest) (*model.Transaction, error) {
	return s.tx, s.err
}

func (s *stubService) Transfer(ctx context.Context, actorID int64, recipientHandle string, amount int64, remark string) (*model.Transaction, *model.Transaction, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return &model.Transaction{Amount: -amount}, &model.Transaction{Amount: amount}, nil
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.balance, s.err
}

func (s *stubService) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error) {
	return s.txs, s.err
}

func (s *stubService) CreateEvent(ctx context.Context, actorID int64, req service.EventRequest) (*model.Event, error) {
	return s.event, s.err
}

func (s *stubService) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	return s.event, s.err
}

func (s *stubService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.events, s.err
}

func (s *stubService) ListGuests(ctx context.Context, eventID int64) ([]model.User, error) {
	return s.guests, s.err
}

func (s *stubService) EditEvent(ctx context.Context, actorID, eventID int64, upd repository.EventUpdate) (*model.Event, error) {
	return s.event, s.err
}

func (s *stubService) PublishEvent(ctx context.Context, actorID, eventID int64) error {
	return s.err
}

func (s *stubService) DeleteEvent(ctx context.Context, actorID, eventID int64) error {
	return s.err
}

func (s *stubService) RsvpSelf(ctx context.Context, actorID, eventID int64) error {
	return s.err
}

func (s *stubService) AddGuest(ctx context.Context, actorID, eventID int64, guestHandle string) error {
	return s.err
}

func (s *stubService) RemoveGuest(ctx context.Context, actorID, eventID int64, guestHandle string) error {
	s.removedGuest = guestHandle
	return s.err
}

func (s *stubService) AddOrganizer(ctx context.Context, actorID, eventID int64, handle string) error {
	return s.err
}

func (s *stubService) AwardSingle(ctx context.Context, actorID, eventID int64, recipientHandle string, amount int64) (*model.Transaction, error) {
	s.awardSingleCalled = true
	s.awardRecipient = recipientHandle
	return s.tx, s.err
}

func (s *stubService) AwardAll(ctx context.Context, actorID, eventID, amount int64) ([]model.Transaction, error) {
	s.awardAllCalled = true
	return s.txs, s.err
}

func (s *stubService) CreatePromotion(ctx context.Context, actorID int64, p repository.PromotionParams) (*model.Promotion, error) {
	return s.promo, s.err
}

func (s *stubService) ListPromotions(ctx context.Context) ([]model.Promotion, error) {
	return s.promos, s.err
}

func newTestServer(t *testing.T, svc Service) (*httptest.Server, *middleware.AuthMiddleware) {
	t.Helper()

	authMiddleware := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), authMiddleware)

	srv := httptest.NewServer(h.SetupRouter())
	t.Cleanup(srv.Close)

	return srv, authMiddleware
}

// authCookie выпускает валидный cookie авторизации для пользователя.
func authCookie(auth *middleware.AuthMiddleware, userID int64) *http.Cookie {
	rec := httptest.NewRecorder()
	auth.SetAuthCookie(rec, userID)
	return rec.Result().Cookies()[0]
}

func doRequest(t *testing.T, method, url string, body any, cookie *http.Cookie) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestRegister_SetsCookie(t *testing.T) {
	svc := &stubService{userID: 42}
	srv, _ := newTestServer(t, svc)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/user/register", map[string]string{
		"handle":   "alice",
		"name":     "Alice",
		"email":    "alice@example.com",
		"password": "secret",
	}, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Cookies())
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{err: repository.ErrUserExists}
	srv, _ := newTestServer(t, svc)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/user/register", map[string]string{
		"handle":   "alice",
		"name":     "Alice",
		"email":    "alice@example.com",
		"password": "secret",
	}, nil)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{err: service.ErrInvalidCredentials}
	srv, _ := newTestServer(t, svc)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/user/login", map[string]string{
		"handle":   "alice",
		"password": "wrong",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoute_NoCookie(t *testing.T) {
	srv, _ := newTestServer(t, &stubService{})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/balance", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateTransaction_Created(t *testing.T) {
	svc := &stubService{tx: &model.Transaction{ID: 7, UserID: 2, Type: model.TransactionPurchase, Amount: 100}}
	srv, auth := newTestServer(t, svc)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/transactions", map[string]any{
		"user":   "buyer",
		"type":   "purchase",
		"amount": 100,
	}, authCookie(auth, 1))

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body transactionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(7), body.ID)
	assert.Equal(t, int64(100), body.Amount)
}

func TestCreateTransaction_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient balance", repository.ErrInsufficientBalance, http.StatusPaymentRequired},
		{"forbidden", service.ErrUnauthorized, http.StatusForbidden},
		{"bad amount", service.ErrInvalidAmount, http.StatusBadRequest},
		{"unknown user", repository.ErrUserNotFound, http.StatusNotFound},
		{"promotion used", repository.ErrPromotionAlreadyUsed, http.StatusConflict},
		{"promotion expired", service.ErrPromotionExpired, http.StatusGone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, auth := newTestServer(t, &stubService{err: tc.err})

			resp := doRequest(t, http.MethodPost, srv.URL+"/api/transactions", map[string]any{
				"type":   "redemption",
				"amount": 50,
			}, authCookie(auth, 1))

			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestTransfer_Created(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/transactions/transfer", map[string]any{
		"to":     "bob",
		"amount": 25,
	}, authCookie(auth, 1))

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body map[string]transactionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(-25), body["debit"].Amount)
	assert.Equal(t, int64(25), body["credit"].Amount)
}

func TestGetTransactions_NoContent(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/transactions", nil, authCookie(auth, 1))

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestGetBalance_OK(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{balance: 150})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/balance", nil, authCookie(auth, 1))

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body balanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(150), body.Balance)
}

func TestRsvp_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusCreated},
		{"event full", repository.ErrEventFull, http.StatusConflict},
		{"already guest", repository.ErrAlreadyGuest, http.StatusConflict},
		{"not published", repository.ErrEventNotPublished, http.StatusGone},
		{"ended", repository.ErrEventEnded, http.StatusGone},
		{"not found", repository.ErrEventNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, auth := newTestServer(t, &stubService{err: tc.err})

			resp := doRequest(t, http.MethodPost, srv.URL+"/api/events/5/guests/me", nil, authCookie(auth, 1))

			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestAward_RoutesByRecipient(t *testing.T) {
	svc := &stubService{tx: &model.Transaction{Type: model.TransactionEvent, Amount: 20}}
	srv, auth := newTestServer(t, svc)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/events/5/awards", map[string]any{
		"user":   "guest",
		"amount": 20,
	}, authCookie(auth, 1))

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, svc.awardSingleCalled)
	assert.False(t, svc.awardAllCalled)
	assert.Equal(t, "guest", svc.awardRecipient)

	svc = &stubService{txs: []model.Transaction{{Type: model.TransactionEvent, Amount: 20}}}
	srv, auth = newTestServer(t, svc)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/events/5/awards", map[string]any{
		"amount": 20,
	}, authCookie(auth, 1))

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, svc.awardAllCalled)
}

func TestRemoveGuest_ByHandle(t *testing.T) {
	svc := &stubService{}
	srv, auth := newTestServer(t, svc)

	resp := doRequest(t, http.MethodDelete, srv.URL+"/api/events/5/guests/alice", nil, authCookie(auth, 1))

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "alice", svc.removedGuest)
}

func TestEditEvent_MergedTimeRejected(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{err: repository.ErrInvalidEventTime})

	resp := doRequest(t, http.MethodPatch, srv.URL+"/api/events/5", map[string]any{
		"ends_at": "2026-01-01T00:00:00Z",
	}, authCookie(auth, 1))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAward_PoolExhausted(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{err: repository.ErrInsufficientEventPoints})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/events/5/awards", map[string]any{
		"amount": 1000,
	}, authCookie(auth, 1))

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestAward_NoGuests(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{err: repository.ErrNoGuests})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/events/5/awards", map[string]any{
		"amount": 10,
	}, authCookie(auth, 1))

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteEvent_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusNoContent},
		{"has history", repository.ErrEventHasHistory, http.StatusConflict},
		{"forbidden", service.ErrUnauthorized, http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, auth := newTestServer(t, &stubService{err: tc.err})

			resp := doRequest(t, http.MethodDelete, srv.URL+"/api/events/5", nil, authCookie(auth, 1))

			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestGetEvent_IncludesGuests(t *testing.T) {
	svc := &stubService{
		event:  &model.Event{ID: 5, Name: "Launch party"},
		guests: []model.User{{Handle: "alice"}, {Handle: "bob"}},
	}
	srv, auth := newTestServer(t, svc)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/events/5", nil, authCookie(auth, 1))

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Name   string   `json:"name"`
		Guests []string `json:"guests"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Launch party", body.Name)
	assert.Equal(t, []string{"alice", "bob"}, body.Guests)
}

func TestGetEvent_BadID(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/events/abc", nil, authCookie(auth, 1))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddGuest_RequiresUser(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/events/5/guests", map[string]any{}, authCookie(auth, 1))

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateUser_Forbidden(t *testing.T) {
	srv, auth := newTestServer(t, &stubService{err: service.ErrUnauthorized})

	role := "manager"
	resp := doRequest(t, http.MethodPatch, srv.URL+"/api/users/2", map[string]any{
		"role": role,
	}, authCookie(auth, 1))

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCreatePromotion_Created(t *testing.T) {
	svc := &stubService{promo: &model.Promotion{ID: 3, Name: "Happy hour", Type: model.PromotionAutomatic, Points: 10}}
	srv, auth := newTestServer(t, svc)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/promotions", map[string]any{
		"name":      "Happy hour",
		"type":      "automatic",
		"starts_at": "2026-06-01T00:00:00Z",
		"ends_at":   "2026-06-02T00:00:00Z",
		"points":    10,
	}, authCookie(auth, 1))

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body promotionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(3), body.ID)
	assert.Equal(t, "automatic", body.Type)
}

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/markinflu/payments-service/internal/app"
	"github.com/markinflu/payments-service/internal/domain"
	"github.com/markinflu/payments-service/internal/store"
	"github.com/markinflu/payments-service/pkg/processorclient"
	"github.com/shopspring/decimal"
)

// handlerRepoStub backs the handler tests with one user, one contract and an
// optional existing escrow.
type handlerRepoStub struct {
	store.Repository

	user     *domain.User
	contract *domain.Contract
	escrow   *domain.EscrowTransaction
}

func (s *handlerRepoStub) FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (string, error) {
	if s.user == nil || s.user.ClerkUserID != clerkUserID {
		return "", store.ErrUserNotFound
	}
	return s.user.ID.String(), nil
}

func (s *handlerRepoStub) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if s.user == nil {
		return nil, store.ErrUserNotFound
	}
	return s.user, nil
}

func (s *handlerRepoStub) FindContractByID(ctx context.Context, contractID uuid.UUID) (*domain.Contract, error) {
	if s.contract == nil {
		return nil, store.ErrContractNotFound
	}
	return s.contract, nil
}

func (s *handlerRepoStub) FindEscrowByContractID(ctx context.Context, contractID uuid.UUID) (*domain.EscrowTransaction, error) {
	if s.escrow == nil {
		return nil, store.ErrEscrowNotFound
	}
	return s.escrow, nil
}

func (s *handlerRepoStub) SetPayoutAccount(ctx context.Context, userID uuid.UUID, accountID string, status domain.PayoutAccountStatus) (string, error) {
	return accountID, nil
}

// handlerProcessorStub overrides only the onboarding calls; anything else
// panics, catching unexpected external calls.
type handlerProcessorStub struct {
	app.ProcessorAPI

	accountLinks []string
}

func (p *handlerProcessorStub) CreateConnectedAccount(ctx context.Context, email string) (*processorclient.ConnectedAccount, error) {
	return &processorclient.ConnectedAccount{ID: "acct_1"}, nil
}

func (p *handlerProcessorStub) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*processorclient.AccountLink, error) {
	p.accountLinks = append(p.accountLinks, returnURL)
	return &processorclient.AccountLink{URL: "https://connect.example.com/onboard"}, nil
}

func handlerFixture(connectReturnURL string) (*PaymentHandlers, *handlerRepoStub, *handlerProcessorStub) {
	userID := uuid.New()
	repo := &handlerRepoStub{
		user: &domain.User{
			ID:          userID,
			ClerkUserID: "user_clerk_1",
			Email:       "brand@example.com",
		},
		contract: &domain.Contract{
			ID:          uuid.New(),
			BrandID:     userID,
			CreatorID:   uuid.New(),
			TotalAmount: decimal.NewFromInt(1000),
			Currency:    "usd",
			Status:      domain.ContractActive,
		},
	}
	processor := &handlerProcessorStub{}
	service := app.NewService(repo, processor, nil, decimal.NewFromFloat(0.10), "markinflu.events")
	return NewPaymentHandlers(service, nil, 0, connectReturnURL), repo, processor
}

// authedRequest builds a request carrying the Clerk subject the auth middleware
// would have injected.
func authedRequest(method, target, body string, params map[string]string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	ctx := context.WithValue(req.Context(), clerkUserIDKey, "user_clerk_1")
	if len(params) > 0 {
		routeCtx := chi.NewRouteContext()
		for name, value := range params {
			routeCtx.URLParams.Add(name, value)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, routeCtx)
	}
	return req.WithContext(ctx)
}

func TestCreateEscrowHandler_ExistingEscrowAnswers409(t *testing.T) {
	handlers, repo, _ := handlerFixture("")
	repo.escrow = &domain.EscrowTransaction{
		ID:         uuid.New(),
		ContractID: repo.contract.ID,
		Status:     domain.EscrowFunded,
	}

	req := authedRequest(http.MethodPost, "/payments/escrow/"+repo.contract.ID.String(), "",
		map[string]string{"contractId": repo.contract.ID.String()})
	rr := httptest.NewRecorder()
	handlers.CreateEscrowHandler(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for existing escrow, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestConnectOnboardingHandler_FallsBackToConfiguredReturnURL(t *testing.T) {
	handlers, _, processor := handlerFixture("https://app.example.com/connect/done")

	req := authedRequest(http.MethodPost, "/payments/connect/onboarding", `{}`, nil)
	rr := httptest.NewRecorder()
	handlers.ConnectOnboardingHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(processor.accountLinks) != 1 || processor.accountLinks[0] != "https://app.example.com/connect/done" {
		t.Fatalf("expected configured return url to be used, got %v", processor.accountLinks)
	}
}

func TestConnectOnboardingHandler_RequestReturnURLWins(t *testing.T) {
	handlers, _, processor := handlerFixture("https://app.example.com/connect/done")

	req := authedRequest(http.MethodPost, "/payments/connect/onboarding",
		`{"return_url":"https://app.example.com/custom"}`, nil)
	rr := httptest.NewRecorder()
	handlers.ConnectOnboardingHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(processor.accountLinks) != 1 || processor.accountLinks[0] != "https://app.example.com/custom" {
		t.Fatalf("expected request return url to win, got %v", processor.accountLinks)
	}
}

func TestConnectOnboardingHandler_NoReturnURLAnywhereIs400(t *testing.T) {
	handlers, _, processor := handlerFixture("")

	req := authedRequest(http.MethodPost, "/payments/connect/onboarding", `{}`, nil)
	rr := httptest.NewRecorder()
	handlers.ConnectOnboardingHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without any return url, got %d", rr.Code)
	}
	if len(processor.accountLinks) != 0 {
		t.Fatalf("expected no onboarding link call, got %v", processor.accountLinks)
	}
}

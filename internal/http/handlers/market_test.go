package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alevoro-com/alevoro/internal/domain/collateral"
	"github.com/alevoro-com/alevoro/internal/escrow"
	"github.com/alevoro-com/alevoro/internal/storagefee"
)

type marketServiceStub struct {
	rec     *collateral.Record
	records []collateral.Record
	err     error

	lastItemID   string
	lastCaller   string
	lastAttached string
	lastInput    collateral.ApprovalInput
}

func (s *marketServiceStub) HandleApproval(_ context.Context, in collateral.ApprovalInput) (*collateral.Record, error) {
	s.lastInput = in
	return s.rec, s.err
}

func (s *marketServiceStub) CancelListing(_ context.Context, itemID, caller, attached string) (*collateral.Record, error) {
	s.lastItemID, s.lastCaller, s.lastAttached = itemID, caller, attached
	return s.rec, s.err
}

func (s *marketServiceStub) Finance(_ context.Context, itemID, caller, attached string) (*collateral.Record, error) {
	s.lastItemID, s.lastCaller, s.lastAttached = itemID, caller, attached
	return s.rec, s.err
}

func (s *marketServiceStub) Repay(_ context.Context, itemID, caller, attached string) (*collateral.Record, error) {
	s.lastItemID, s.lastCaller, s.lastAttached = itemID, caller, attached
	return s.rec, s.err
}

func (s *marketServiceStub) Reclaim(_ context.Context, itemID, caller, attached string) (*collateral.Record, error) {
	s.lastItemID, s.lastCaller, s.lastAttached = itemID, caller, attached
	return s.rec, s.err
}

func (s *marketServiceStub) Finalize(_ context.Context, itemID, caller string) (*collateral.Record, error) {
	s.lastItemID, s.lastCaller = itemID, caller
	return s.rec, s.err
}

func (s *marketServiceStub) ListAll(context.Context, bool) ([]collateral.Record, error) {
	return s.records, s.err
}

func (s *marketServiceStub) ListForAccount(context.Context, string, bool) ([]collateral.Record, error) {
	return s.records, s.err
}

func (s *marketServiceStub) ListFinanced(context.Context, string) ([]collateral.Record, error) {
	return s.records, s.err
}

func marketRouter(svc *marketServiceStub, caller string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("account_id", caller)
		c.Next()
	})
	h := NewMarketHandler(svc)
	r.GET("/v1/items", h.ListAll)
	r.GET("/v1/accounts/:accountId/items", h.ListForAccount)
	r.POST("/v1/items/:itemId/finance", h.Finance)
	r.POST("/v1/items/:itemId/repay", h.Repay)
	r.POST("/v1/items/:itemId/finalize", h.Finalize)
	return r
}

func TestFinancePassesCallerAndDeposit(t *testing.T) {
	svc := &marketServiceStub{rec: &collateral.Record{ItemID: "item-1", State: collateral.StateLocked}}
	r := marketRouter(svc, "bob")

	req := httptest.NewRequest(http.MethodPost, "/v1/items/item-1/finance", strings.NewReader(`{"attached_deposit":"1000"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "item-1", svc.lastItemID)
	assert.Equal(t, "bob", svc.lastCaller)
	assert.Equal(t, "1000", svc.lastAttached)
	assert.Contains(t, w.Body.String(), `"state":"locked"`)
}

func TestItemActionDefaultsDepositToZero(t *testing.T) {
	svc := &marketServiceStub{rec: &collateral.Record{ItemID: "item-1"}}
	r := marketRouter(svc, "alice")

	req := httptest.NewRequest(http.MethodPost, "/v1/items/item-1/repay", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", svc.lastAttached)
}

func TestDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{&collateral.ValidationError{Field: "apr", Reason: "must be strictly positive"}, http.StatusBadRequest, "validation_failed"},
		{&collateral.AuthorizationError{Action: "repay", Caller: "mallory"}, http.StatusForbidden, "forbidden"},
		{&collateral.PaymentMismatchError{ItemID: "item-1", Required: "1100", Attached: "1000"}, http.StatusBadRequest, "payment_mismatch"},
		{&storagefee.InsufficientDepositError{Required: "100", Attached: "0"}, http.StatusBadRequest, "insufficient_storage_deposit"},
		{&collateral.ProtocolViolationError{Reason: "duplicate outcome"}, http.StatusBadRequest, "protocol_violation"},
		{&collateral.StateConflictError{ItemID: "item-1", Expected: collateral.StateSale, Actual: collateral.StateLocked}, http.StatusConflict, "state_conflict"},
		{fmt.Errorf("item item-1: %w", collateral.ErrLoanOverdue), http.StatusConflict, "state_conflict"},
		{fmt.Errorf("item item-1: %w", collateral.ErrNotFinalizable), http.StatusConflict, "state_conflict"},
		{fmt.Errorf("item item-1: %w", collateral.ErrNotFound), http.StatusNotFound, "item_not_found"},
		{errors.New("pool exhausted"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		svc := &marketServiceStub{err: tc.err}
		r := marketRouter(svc, "alice")

		req := httptest.NewRequest(http.MethodPost, "/v1/items/item-1/repay", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, tc.wantStatus, w.Code, "err %v", tc.err)
		assert.Contains(t, w.Body.String(), tc.wantCode, "err %v", tc.err)
	}
}

func TestFinalizeReportsRemovedItem(t *testing.T) {
	svc := &marketServiceStub{rec: &collateral.Record{ItemID: "item-1", State: collateral.StateTransferToBorrower}}
	r := marketRouter(svc, "market.test")

	req := httptest.NewRequest(http.MethodPost, "/v1/items/item-1/finalize", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "market.test", svc.lastCaller)
	assert.Contains(t, w.Body.String(), `"removed":"item-1"`)
}

func TestListEndpoints(t *testing.T) {
	svc := &marketServiceStub{records: []collateral.Record{
		{ItemID: "item-1", HolderID: "alice", State: collateral.StateSale, Principal: "1000"},
	}}
	r := marketRouter(svc, "alice")

	for _, path := range []string{"/v1/items", "/v1/accounts/alice/items"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `"token_id":"item-1"`, path)
	}
}

type resolverStub struct {
	outcome *escrow.ApprovalOutcome
	err     error
}

func (s *resolverStub) ResolveApproval(_ context.Context, outcomes []escrow.ApprovalOutcome) (*escrow.ApprovalOutcome, error) {
	return s.outcome, s.err
}

func TestHandleApprovalBindsListingTerms(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &marketServiceStub{rec: &collateral.Record{ItemID: "item-1", State: collateral.StateSale}}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("account_id", "alice")
		c.Next()
	})
	h := NewRegistryHandler(svc, &resolverStub{}, nil)
	r.POST("/v1/registry/approvals", h.HandleApproval)

	body := `{
		"token_id": "item-1",
		"owner_id": "alice",
		"approval_id": "7",
		"attached_deposit": "500",
		"msg": {"borrowed_money": "1000", "apr": 10, "borrow_duration": 3600, "title": "vintage synth"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/registry/approvals", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "alice", svc.lastInput.Caller)
	assert.Equal(t, "7", svc.lastInput.ApprovalToken)
	assert.Equal(t, "500", svc.lastInput.AttachedDeposit)
	assert.Equal(t, int64(3600), svc.lastInput.Terms.Duration)
	assert.Equal(t, "1000", svc.lastInput.Terms.Principal)
}

func TestHandleApprovalResult(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewRegistryHandler(&marketServiceStub{}, &resolverStub{
		outcome: &escrow.ApprovalOutcome{ItemID: "item-1", Succeeded: true},
	}, nil)
	r.POST("/v1/registry/approvals/result", h.HandleApprovalResult)

	body := `{"outcomes":[{"token_id":"item-1","approval_id":"7","succeeded":true}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/registry/approvals/result", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"succeeded":true`)
}

func TestHandleApprovalResultViolation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewRegistryHandler(&marketServiceStub{}, &resolverStub{
		err: &collateral.ProtocolViolationError{Reason: "expected exactly 1 approval outcome, got 2"},
	}, nil)
	r.POST("/v1/registry/approvals/result", h.HandleApprovalResult)

	body := `{"outcomes":[{"token_id":"a"},{"token_id":"b"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/registry/approvals/result", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "protocol_violation")
}

package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ordersaga/internal/pkg/sagaevent"
	"ordersaga/internal/service/order/application"
	"ordersaga/internal/service/order/domain"
)

type stubOrderService struct {
	err     error
	lastReq *application.CreateOrderRequest
	batch   int
}

func (s *stubOrderService) CreateOrder(ctx context.Context, req *application.CreateOrderRequest) (*domain.Order, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return newOrder(11, req), nil
}

func (s *stubOrderService) SaveBatchOrders(ctx context.Context, reqs []*application.CreateOrderRequest) ([]*domain.Order, error) {
	s.batch = len(reqs)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*domain.Order, 0, len(reqs))
	for i, r := range reqs {
		out = append(out, newOrder(int64(i+1), r))
	}
	return out, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	o := newOrder(id, &application.CreateOrderRequest{CustomerID: 3})
	o.Status, o.Source = sagaevent.StatusRollback, sagaevent.SourcePayment
	return o, nil
}

func newOrder(id int64, req *application.CreateOrderRequest) *domain.Order {
	o := &domain.Order{ID: id, CustomerID: req.CustomerID, Status: sagaevent.StatusNew, CreatedAt: time.Unix(0, 0)}
	for _, it := range req.Items {
		o.Items = append(o.Items, domain.OrderItem{ProductCode: it.ProductCode, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return o
}

func serve(svc OrderService, method, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	NewOrderHandler(svc).RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestCreateOrder_ReturnsNewOrder(t *testing.T) {
	svc := &stubOrderService{}
	rec := serve(svc, http.MethodPost, "/orders",
		`{"customerId":3,"items":[{"productCode":"sku-1","quantity":2,"unitPrice":"12.50"}]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NotNil(t, svc.lastReq)
	assert.True(t, decimal.RequireFromString("12.5").Equal(svc.lastReq.Items[0].UnitPrice))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(11), resp["orderId"])
	assert.Equal(t, "NEW", resp["status"])
	assert.Nil(t, resp["source"])
	assert.Equal(t, "25", resp["totalPrice"])
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{errors.Wrap(domain.ErrInvalidOrder, "no items"), http.StatusBadRequest},
		{errors.Wrap(domain.ErrRejectedByPolicy, "rule"), http.StatusBadRequest},
		{errors.Wrap(domain.ErrProductNotFound, "codes"), http.StatusNotFound},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := serve(&stubOrderService{err: tc.err}, http.MethodPost, "/orders", `{"customerId":1,"items":[]}`)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	rec := serve(&stubOrderService{}, http.MethodPost, "/orders", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBatch(t *testing.T) {
	svc := &stubOrderService{}
	rec := serve(svc, http.MethodPost, "/orders/batch", `[{"customerId":1,"items":[]},{"customerId":2,"items":[]}]`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, svc.batch)

	var resp []application.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, int64(2), resp[1].CustomerID)
}

func TestGetOrder(t *testing.T) {
	rec := serve(&stubOrderService{}, http.MethodGet, "/orders/8", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp application.OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(8), resp.OrderID)
	assert.Equal(t, sagaevent.StatusRollback, resp.Status)
	assert.Equal(t, sagaevent.SourcePayment, resp.Source)

	assert.Equal(t, http.StatusBadRequest, serve(&stubOrderService{}, http.MethodGet, "/orders/abc", "").Code)
	assert.Equal(t, http.StatusNotFound,
		serve(&stubOrderService{err: domain.ErrOrderNotFound}, http.MethodGet, "/orders/8", "").Code)
}

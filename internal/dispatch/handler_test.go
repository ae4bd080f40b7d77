package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryline/quarryline/internal/shared"
)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func (k *memoryKeys) CheckAndInsert(ctx context.Context, key, module string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.keys == nil {
		k.keys = make(map[string]string)
	}
	if _, ok := k.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	k.keys[key] = module
	return nil
}

func (k *memoryKeys) Delete(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, key)
	return nil
}

func newTestRouter(t *testing.T) (*fixture, *memoryKeys, http.Handler) {
	t.Helper()
	f := newFixture(t)
	keys := &memoryKeys{}
	r := chi.NewRouter()
	NewHandler(discardLogger(), f.service, keys).MountRoutes(r)
	return f, keys, r
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerAssignIsIdempotent(t *testing.T) {
	f, keys, h := newTestRouter(t)
	body := `{"order_id":100,"truck_id":1,"driver_id":1}`
	headers := map[string]string{IdempotencyHeader: "assign-o100"}

	rec := do(h, http.MethodPost, "/deliveries", body, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res AssignResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, StatusAssigned, res.Delivery.Status)

	rec = do(h, http.MethodPost, "/deliveries", body, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Len(t, f.store.deliveries, 1)
	assert.Contains(t, keys.keys, "assign-o100")
}

func TestHandlerAssignReleasesKeyOnFailure(t *testing.T) {
	f, keys, h := newTestRouter(t)
	delete(f.store.certs, certID)

	rec := do(h, http.MethodPost, "/deliveries", `{"order_id":100,"truck_id":1,"driver_id":1}`,
		map[string]string{IdempotencyHeader: "retry-me"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
	assert.NotContains(t, keys.keys, "retry-me")
}

func TestHandlerAssignValidatesBody(t *testing.T) {
	_, _, h := newTestRouter(t)

	rec := do(h, http.MethodPost, "/deliveries", `{"order_id":100}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/deliveries", `{"order_id":100,"truck_id":1,"driver_id":1,"extra":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerLifecycle(t *testing.T) {
	f, _, h := newTestRouter(t)
	d := f.assign(t)
	base := "/deliveries/" + strconv.FormatInt(d.ID, 10)

	rec := do(h, http.MethodPost, base+"/in-transit", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, base+"/arrival", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(h, http.MethodPost, base+"/unloading", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, base+"/confirm", `{"signer_name":"Jane Doe","signer_title":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, base+"/confirm",
		`{"signer_name":"Jane Doe","signer_title":"Site Manager","signature_image":"data:image/png;base64,AAAA"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "confirm without a capture location")

	rec = do(h, http.MethodPost, base+"/confirm",
		`{"signer_name":"Jane Doe","signer_title":"Site Manager","signature_image":"data:image/png;base64,AAAA","lat":31.87,"lng":-103.62}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Delivery       Delivery `json:"delivery"`
		InvoiceCreated bool     `json:"invoice_created"`
		InvoicePending bool     `json:"invoice_pending"`
		Invoice        struct {
			Number string `json:"number"`
		} `json:"invoice"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, StatusDelivered, res.Delivery.Status)
	assert.Len(t, res.Delivery.Checkpoints, 12)
	assert.True(t, res.InvoiceCreated)
	assert.False(t, res.InvoicePending)
	assert.Equal(t, "INV-2024-0001", res.Invoice.Number)

	rec = do(h, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/deliveries/999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodGet, "/deliveries/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerOrders(t *testing.T) {
	_, _, h := newTestRouter(t)

	rec := do(h, http.MethodGet, "/orders?status=ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"order_number":"O-100"`)

	rec = do(h, http.MethodGet, "/orders/100", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"certified":true`)

	rec = do(h, http.MethodGet, "/orders?status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

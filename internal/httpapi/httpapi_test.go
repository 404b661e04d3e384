package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	svc := service.New(memory.NewSeeded(), nil, nil, log, service.Options{})
	srv := httptest.NewServer(New(svc, log).Router("*"))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res, payload
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
}

func TestProductLifecycle(t *testing.T) {
	srv := newTestServer(t)

	res, payload := doJSON(t, http.MethodPost, srv.URL+"/api/v1/products", map[string]any{
		"name":      "MS Pipe 2in",
		"salesType": "quantity",
		"costPrice": "300",
		"sellPrice": "350",
		"stock":     "60",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.StatusCode, payload["error"])
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(payload["product"], &created); err != nil {
		t.Fatalf("unmarshal product: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected assigned product id")
	}

	res, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v1/products/%d", srv.URL, created.ID), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, http.MethodPatch, fmt.Sprintf("%s/api/v1/products/%d", srv.URL, created.ID), map[string]any{
		"sellPrice": "360",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/v1/products/%d", srv.URL, created.ID), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v1/products/%d", srv.URL, created.ID), nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestCreateProductDuplicateNameIsBadRequest(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/products", map[string]any{
		"name": "TMT Bar 12mm",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

func TestRecordTransactionStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	// Missing amountPaid and customer: 400 with field list.
	res, payload := doJSON(t, http.MethodPost, srv.URL+"/api/v1/transactions", map[string]any{
		"product_id":       4,
		"quantity":         "1",
		"transactionPrice": "810",
		"transaction_type": "sell",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
	if !bytes.Contains(payload["error"], []byte("amountPaid")) {
		t.Fatalf("error should name the missing field, got %s", payload["error"])
	}

	// Over-selling: 422.
	res, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/transactions", map[string]any{
		"product_id":       4,
		"quantity":         "500",
		"transactionPrice": "810",
		"amountPaid":       "0",
		"transaction_type": "sell",
		"person_name":      "Ravi Kumar",
		"contact":          "9811111111",
	})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.StatusCode)
	}

	// Valid: 201.
	res, payload = doJSON(t, http.MethodPost, srv.URL+"/api/v1/transactions", map[string]any{
		"product_id":       4,
		"quantity":         "2",
		"transactionPrice": "800",
		"amountPaid":       "1600",
		"transaction_type": "sell",
		"person_name":      "Ravi Kumar",
		"contact":          "9811111111",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.StatusCode, payload["error"])
	}
	var tx struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(payload["transaction"], &tx); err != nil {
		t.Fatalf("unmarshal transaction: %v", err)
	}

	// Reverse once: 200. Reverse again: 409.
	res, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/transactions/%d/reverse", srv.URL, tx.ID), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/transactions/%d/reverse", srv.URL, tx.ID), nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.StatusCode)
	}

	// Unknown id: 404.
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/transactions/99999", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestSubmitBillDuplicateIsTooManyRequests(t *testing.T) {
	srv := newTestServer(t)

	bill := map[string]any{
		"person_name": "Mohan Lal",
		"contact":     "9833333333",
		"lines": []map[string]any{{
			"product_id":       5,
			"quantity":         "2",
			"transactionPrice": "80",
			"amountPaid":       "160",
			"transaction_type": "sell",
		}},
		"paymentAmount":   "0",
		"discountAmount":  "0",
		"discountPercent": "0",
	}

	res, payload := doJSON(t, http.MethodPost, srv.URL+"/api/v1/bills", bill)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.StatusCode, payload["error"])
	}
	if _, ok := payload["receipt"]; !ok {
		t.Fatalf("expected a receipt in the response")
	}
	if _, ok := payload["submission"]; !ok {
		t.Fatalf("expected the submission token in the response")
	}

	res, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/bills", bill)
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for an identical bill, got %d", res.StatusCode)
	}
}

func TestBalanceAndLedgerEndpoints(t *testing.T) {
	srv := newTestServer(t)

	res, payload := doJSON(t, http.MethodPost, srv.URL+"/api/v1/transactions", map[string]any{
		"product_id":       3,
		"quantity":         "2",
		"transactionPrice": "465",
		"amountPaid":       "500",
		"transaction_type": "sell",
		"person_name":      "Sita Devi",
		"contact":          "9822222222",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.StatusCode, payload["error"])
	}

	res, payload = doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/ledger/balance?person_name=Sita+Devi&contact=9822222222", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var balance struct {
		TotalToTake string `json:"totalToTake"`
	}
	if err := json.Unmarshal(payload["balance"], &balance); err != nil {
		t.Fatalf("unmarshal balance: %v", err)
	}
	if balance.TotalToTake != "430" {
		t.Fatalf("expected totalToTake 430, got %s", balance.TotalToTake)
	}

	// Missing customer pair: 400.
	res, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/ledger/balance", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}

	res, payload = doJSON(t, http.MethodGet, srv.URL+"/api/v1/ledger", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(payload["ledger"], &entries); err != nil {
		t.Fatalf("unmarshal ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}
}

func TestUnknownJSONFieldIsRejected(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/products", map[string]any{
		"name":      "MS Pipe 2in",
		"warehouse": "east",
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.StatusCode)
	}
}

func TestInvalidPathID(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/products/abc", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

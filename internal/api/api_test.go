package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opensource-finance/adscreen/internal/bus"
	"github.com/opensource-finance/adscreen/internal/cache"
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/rules"
	"github.com/opensource-finance/adscreen/internal/worker"
)

const productCSV = "实体层级,广告活动状态（仅供参考）,广告组状态（仅供参考）,状态,广告活动名称,点击量,订单数量,ACOS,转化率,操作\n" +
	"商品广告,已启用,已启用,已启用,A,20,0,0,0,\n" +
	"商品广告,已启用,已启用,已启用,B,5,3,0.1,0.5,\n"

// createTestServer creates a server backed by an in-memory result store.
func createTestServer(t *testing.T, eventBus domain.EventBus) (*Server, domain.Cache, *rules.Engine) {
	t.Helper()

	cfg := domain.DefaultConfig()
	engine, err := rules.NewEngine(cfg.Engine)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	store := cache.NewLRUCache(16)

	return NewServer(cfg, store, eventBus, engine, "test-v1"), store, engine
}

// form is one multipart upload.
type form struct {
	files  map[string]string
	fields map[string]string
}

func (f form) request(t *testing.T, path string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, content := range f.files {
		part, err := mw.CreateFormFile(field, field+"_report.csv")
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		_, _ = part.Write([]byte(content))
	}
	for k, v := range f.fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestScreenEndpoint(t *testing.T) {
	server, _, _ := createTestServer(t, nil)

	t.Run("SuccessfulScreening", func(t *testing.T) {
		req := form{files: map[string]string{FieldFile: productCSV}}.request(t, "/screens/product")
		rr := serve(server, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScreenResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.RunID == "" {
			t.Error("expected runId in response")
		}
		if resp.Summary.Matched != 1 || resp.Summary.Paused != 1 {
			t.Errorf("unexpected summary %+v", resp.Summary)
		}
		if resp.Message != "screening completed" {
			t.Errorf("unexpected message %q", resp.Message)
		}
		if resp.Download != "/results/"+resp.RunID {
			t.Errorf("unexpected download path %q", resp.Download)
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}

		dl := serve(server, httptest.NewRequest(http.MethodGet, resp.Download, nil))
		if dl.Code != http.StatusOK {
			t.Fatalf("expected download 200, got %d", dl.Code)
		}
		if ct := dl.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
			t.Errorf("unexpected content type %q", ct)
		}
		if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
			t.Errorf("unexpected content disposition %q", cd)
		}
		if !strings.Contains(dl.Body.String(), domain.StatePaused) {
			t.Errorf("expected paused row in CSV, got %q", dl.Body.String())
		}

		sum := serve(server, httptest.NewRequest(http.MethodGet, resp.Download+"/summary", nil))
		if sum.Code != http.StatusOK {
			t.Fatalf("expected summary 200, got %d", sum.Code)
		}
	})

	t.Run("NoMatches", func(t *testing.T) {
		req := form{
			files:  map[string]string{FieldFile: productCSV},
			fields: map[string]string{"click_threshold": "100"},
		}.request(t, "/screens/product")
		rr := serve(server, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ScreenResponse
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Summary.Matched != 0 || resp.Message != "no matching records" {
			t.Errorf("expected empty result, got %+v", resp)
		}
	})

	t.Run("DisplayNameRoute", func(t *testing.T) {
		req := form{files: map[string]string{FieldFile: productCSV}}.request(t, "/screens/"+url.PathEscape("SP商品筛选"))
		if rr := serve(server, req); rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	errorCases := []struct {
		name   string
		path   string
		form   form
		status int
	}{
		{
			name:   "UnknownFamily",
			path:   "/screens/display-ads",
			form:   form{files: map[string]string{FieldFile: productCSV}},
			status: http.StatusNotFound,
		},
		{
			name:   "MissingFile",
			path:   "/screens/product",
			form:   form{fields: map[string]string{"click_threshold": "5"}},
			status: http.StatusBadRequest,
		},
		{
			name: "InvalidThreshold",
			path: "/screens/product",
			form: form{
				files:  map[string]string{FieldFile: productCSV},
				fields: map[string]string{"click_threshold": "abc"},
			},
			status: http.StatusBadRequest,
		},
		{
			name: "InvalidCascade",
			path: "/screens/invalid-campaign",
			form: form{
				files:  map[string]string{FieldFile: productCSV},
				fields: map[string]string{FieldCascade: "maybe"},
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "SpendDeclineWithoutPrevious",
			path:   "/screens/spend-decline",
			form:   form{files: map[string]string{FieldFile: productCSV}},
			status: http.StatusBadRequest,
		},
		{
			name:   "MissingColumn",
			path:   "/screens/product",
			form:   form{files: map[string]string{FieldFile: "实体层级,点击量\n商品广告,3\n"}},
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(server, tc.form.request(t, tc.path))
			if rr.Code != tc.status {
				t.Errorf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("expected JSON error body, got %q", rr.Body.String())
			}
		})
	}

	t.Run("NotMultipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/screens/product", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		if rr := serve(server, req); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestJobEndpoint(t *testing.T) {
	t.Run("QueuedAndProcessed", func(t *testing.T) {
		eventBus := bus.NewChannelBus(8)
		defer eventBus.Close()

		server, store, engine := createTestServer(t, eventBus)
		w := worker.NewWorker(eventBus, store, engine, time.Minute)
		if err := w.Start(); err != nil {
			t.Fatalf("worker start failed: %v", err)
		}
		defer w.Stop()

		rr := serve(server, form{files: map[string]string{FieldFile: productCSV}}.request(t, "/jobs/product"))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp JobResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.RunID == "" || resp.Status != "queued" {
			t.Errorf("unexpected job response %+v", resp)
		}

		deadline := time.Now().Add(2 * time.Second)
		for {
			dl := serve(server, httptest.NewRequest(http.MethodGet, resp.Download, nil))
			if dl.Code == http.StatusOK {
				if !strings.Contains(dl.Body.String(), domain.StatePaused) {
					t.Errorf("expected paused row in CSV, got %q", dl.Body.String())
				}
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("result not available, last status %d", dl.Code)
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	t.Run("NoBus", func(t *testing.T) {
		server, _, _ := createTestServer(t, nil)
		rr := serve(server, form{files: map[string]string{FieldFile: productCSV}}.request(t, "/jobs/product"))
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestResultEndpoints(t *testing.T) {
	server, _, _ := createTestServer(t, nil)

	t.Run("UnknownResult", func(t *testing.T) {
		rr := serve(server, httptest.NewRequest(http.MethodGet, "/results/does-not-exist", nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("UnknownSummary", func(t *testing.T) {
		rr := serve(server, httptest.NewRequest(http.MethodGet, "/results/does-not-exist/summary", nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestFamiliesEndpoint(t *testing.T) {
	server, _, _ := createTestServer(t, nil)

	rr := serve(server, httptest.NewRequest(http.MethodGet, "/families", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Families []FamilyInfo `json:"families"`
		Count    int          `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Count != len(domain.AllFamilies()) {
		t.Errorf("expected %d families, got %d", len(domain.AllFamilies()), resp.Count)
	}

	var spend *FamilyInfo
	for i := range resp.Families {
		if resp.Families[i].Slug == "spend-decline" {
			spend = &resp.Families[i]
		}
	}
	if spend == nil || !spend.NeedsPrevious {
		t.Errorf("expected spend-decline to need a previous table, got %+v", spend)
	}
	if spend != nil && len(spend.Branches) != 0 {
		t.Errorf("expected no row branches for spend-decline, got %v", spend.Branches)
	}

	var product *FamilyInfo
	for i := range resp.Families {
		if resp.Families[i].Slug == "product" {
			product = &resp.Families[i]
		}
	}
	if product == nil {
		t.Fatal("expected product family")
	}
	if product.EntityLevel != domain.EntityProductAd {
		t.Errorf("expected entity level %s, got %s", domain.EntityProductAd, product.EntityLevel)
	}
	if diff := cmp.Diff([]string{"clicks-without-orders", "poor-return"}, product.Branches); diff != "" {
		t.Errorf("unexpected branches (-want +got):\n%s", diff)
	}
	if !slices.Contains(product.Columns, domain.ColClicks) || !slices.Contains(product.Columns, domain.ColAction) {
		t.Errorf("expected clicks and action in columns, got %v", product.Columns)
	}
}

func TestHealthEndpoints(t *testing.T) {
	server, _, _ := createTestServer(t, nil)

	t.Run("Health", func(t *testing.T) {
		rr := serve(server, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status healthy, got %s", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp["version"])
		}
	})

	t.Run("DegradedBus", func(t *testing.T) {
		closed := bus.NewChannelBus(1)
		_ = closed.Close()
		degraded, _, _ := createTestServer(t, closed)

		rr := serve(degraded, httptest.NewRequest(http.MethodGet, "/health", nil))
		var resp map[string]string
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "degraded" {
			t.Errorf("expected status degraded, got %s", resp["status"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := serve(server, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	server, _, _ := createTestServer(t, nil)

	t.Run("RequestIDPropagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rr := serve(server, req)

		if rr.Header().Get(RequestIDHeader) != "req-123" {
			t.Errorf("expected request ID echo, got %q", rr.Header().Get(RequestIDHeader))
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID header")
		}
	})

	t.Run("RequestIDGenerated", func(t *testing.T) {
		rr := serve(server, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected generated X-Request-ID header")
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/screens/product", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := serve(server, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("expected status 204, got %d", rr.Code)
		}
		if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Errorf("unexpected allow origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
		}
	})

	t.Run("RecoverFromPanic", func(t *testing.T) {
		h := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atl5d/pwyc-booking/internal/adapters/calcom"
	"github.com/atl5d/pwyc-booking/internal/adapters/crdb"
	redisadapter "github.com/atl5d/pwyc-booking/internal/adapters/redis"
	"github.com/atl5d/pwyc-booking/internal/booking"
	"github.com/atl5d/pwyc-booking/internal/domain"
	httphandler "github.com/atl5d/pwyc-booking/internal/http"
	"github.com/atl5d/pwyc-booking/internal/idempotency"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/atl5d/pwyc-booking/internal/payments"
	"github.com/atl5d/pwyc-booking/internal/proof"
	"github.com/atl5d/pwyc-booking/internal/rateLimit"
	"github.com/atl5d/pwyc-booking/internal/x402"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const serviceToken = "integration-service-token"

// fakeCalcom serves the slice of the Cal.com v2 API the backend uses and
// remembers created bookings so proof verification can read them back.
type fakeCalcom struct {
	mu       sync.Mutex
	bookings map[string]map[string]interface{}
	created  int
}

func (f *fakeCalcom) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/event-types":
		w.Write([]byte(`{"status":"success","data":[
			{"id":1,"slug":"15min","title":"15","lengthInMinutes":15},
			{"id":2,"slug":"30min","title":"30","lengthInMinutes":30},
			{"id":3,"slug":"45min","title":"45","lengthInMinutes":45}]}`))
	case r.URL.Path == "/slots" && r.URL.Query().Get("eventTypeSlug") == "30min":
		w.Write([]byte(`{"status":"success","data":{"2025-07-01":[{"start":"2025-07-01T09:00:00-04:00"},{"start":"2025-07-01T09:30:00-04:00"}]}}`))
	case r.URL.Path == "/slots":
		w.Write([]byte(`{"status":"success","data":{}}`))
	case r.URL.Path == "/bookings" && r.Method == http.MethodPost:
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		f.created++
		uid := fmt.Sprintf("intbk%04d", f.created)
		created := map[string]interface{}{
			"id":         f.created,
			"uid":        uid,
			"title":      "PWYC session",
			"start":      body["start"],
			"end":        "2025-07-01T13:30:00Z",
			"meetingUrl": "https://cal.com/video/" + uid,
			"status":     "accepted",
			"metadata":   body["metadata"],
		}
		f.bookings[uid] = created
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "success", "data": created})
	case strings.HasPrefix(r.URL.Path, "/bookings/"):
		b, ok := f.bookings[strings.TrimPrefix(r.URL.Path, "/bookings/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status":"error","error":{"code":"NotFoundException","message":"booking not found"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "success", "data": b})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func startContainers(t *testing.T, ctx context.Context) (*pgxpool.Pool, *redisclient.Client) {
	t.Helper()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	crdbHost, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	crdbPort, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, "postgresql://root@"+crdbHost+":"+crdbPort.Port()+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: redisHost + ":" + redisPort.Port()})
	t.Cleanup(func() { redisClient.Close() })
	return pool, redisClient
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestIntegration_BookPayVerify(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	pool, redisClient := startContainers(t, ctx)

	repo := crdb.NewRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	cal := httptest.NewServer(&fakeCalcom{bookings: map[string]map[string]interface{}{}})
	defer cal.Close()

	logger := observability.NewLogger("error")
	calClient := calcom.New(cal.URL, "test-key")
	redisCache := redisadapter.NewCache(redisClient)
	holds := payments.NewHolds(repo, 72*time.Hour)

	gate, err := x402.NewGate(x402.Options{}, nil, redisCache, logger)
	if err != nil {
		t.Fatal(err)
	}

	var router http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		router.ServeHTTP(w, r)
	}))
	defer srv.Close()

	confirmer := payments.NewClient(srv.URL+"/api/process-pwyc-payment", serviceToken, time.Minute)
	handlers := httphandler.NewHandlers(
		booking.NewAggregator(calClient, logger),
		booking.NewSubmitter(calClient, confirmer, "%dmin", "America/New_York", logger),
		holds,
		proof.AcceptAll{},
		nil,
		logger,
	)
	router = httphandler.SetupRouter(handlers, httphandler.RouterConfig{
		Logger:             logger,
		Limiter:            rateLimit.NewRateLimiter(redisCache),
		RateLimitPerMinute: 1000,
		Idempotency:        idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour),
		Gate:               gate,
		ServiceToken:       serviceToken,
		CORSOrigins:        []string{"*"},
	})

	// Availability keeps only the 30 minute offer; 15 has no slots and 45 is unsupported.
	resp, body := postJSON(t, srv.URL+"/api/get-available-time-blocks", map[string]string{
		"username": "barber", "startDate": "2025-07-01", "endDate": "2025-07-02",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("availability failed: %d %v", resp.StatusCode, body)
	}
	offers := body["data"].([]interface{})
	if len(offers) != 1 || offers[0].(map[string]interface{})["eventSlug"] != "30min" {
		t.Fatalf("expected only the 30min offer, got %v", offers)
	}

	// Without the service token the internal endpoint is closed.
	resp, _ = postJSON(t, srv.URL+"/api/process-pwyc-payment", map[string]interface{}{
		"bookingId": "x", "offeredAmount": 1, "attendeeEmail": "a@b.co",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without service token, got %d", resp.StatusCode)
	}

	bookingReq := map[string]interface{}{
		"attendeeName":            "Ada",
		"attendeeEmail":           "ada@example.com",
		"startTime":               "2025-07-01T13:00:00Z",
		"offeredAmount":           "25.50",
		"serviceDescription":      "Beard trim",
		"bookedDuration":          30,
		"calcomOrganizerUsername": "barber",
		"tiktokUsername":          "@ada",
	}
	idemKey := map[string]string{"Idempotency-Key": "integration-key-0001"}
	resp, body = postJSON(t, srv.URL+"/api/book-service-pwyc", bookingReq, idemKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("booking failed: %d %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]interface{})
	bookingID := data["bookingId"].(string)
	if data["status"] != string(domain.StatusConfirmed) {
		t.Errorf("expected confirmed, got %v", data["status"])
	}
	if data["proofHashtag"] != domain.ProofHashtag(bookingID) {
		t.Errorf("unexpected hashtag %v", data["proofHashtag"])
	}

	// Replaying the same key must not create a second booking or payment.
	resp, replay := postJSON(t, srv.URL+"/api/book-service-pwyc", bookingReq, idemKey)
	if resp.StatusCode != http.StatusOK || replay["data"].(map[string]interface{})["bookingId"] != bookingID {
		t.Fatalf("expected idempotent replay, got %d %v", resp.StatusCode, replay)
	}

	hold, err := repo.GetHold(ctx, bookingID)
	if err != nil {
		t.Fatal(err)
	}
	if hold.Status != domain.HoldHeld || hold.Amount.String() != "25.5" {
		t.Errorf("expected held 25.5, got %s %s", hold.Status, hold.Amount)
	}

	resp, body = postJSON(t, srv.URL+"/api/verify-proof", map[string]string{
		"bookingId": bookingID, "proofUrl": "https://www.tiktok.com/@ada/video/1",
	}, nil)
	if resp.StatusCode != http.StatusOK || body["paymentReleased"] != true {
		t.Fatalf("expected payment release, got %d %v", resp.StatusCode, body)
	}

	hold, err = repo.GetHold(ctx, bookingID)
	if err != nil {
		t.Fatal(err)
	}
	if hold.Status != domain.HoldReleased {
		t.Errorf("expected RELEASED, got %s", hold.Status)
	}

	records, err := repo.GetUnpublishedOutbox(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("expected held and released outbox events, got %d", len(records))
	}
}

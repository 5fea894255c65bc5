package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/carpool-matching/internal/lifecycle"
	"github.com/example/carpool-matching/internal/matcher"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/storage"
)

func newTestServer(t *testing.T, checks map[string]HealthCheck) (*Server, *storage.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	m := &matcher.Service{
		Engine:   matcher.NewEngine(time.UTC, matcher.DefaultFlexMinutes),
		Pool:     store,
		Profiles: store,
		Logger:   logger,
	}
	rides := lifecycle.NewService(store, store, nil, logger)
	return NewServer(m, rides, logger, checks), store
}

func seedRide(t *testing.T, store *storage.MemoryStore, id string, pickup, dropoff *models.Coord) {
	t.Helper()
	err := store.SaveRide(context.Background(), models.RideOffer{
		ID:             id,
		DriverID:       "driver",
		PickupLabel:    "Home " + id,
		DropoffLabel:   "Acme Campus",
		Pickup:         pickup,
		Dropoff:        dropoff,
		Departure:      time.Now().Add(24 * time.Hour),
		TotalSeats:     1,
		AvailableSeats: 1,
		Status:         models.StatusScheduled,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func do(t *testing.T, s *Server, method, target, rider, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if rider != "" {
		req.Header.Set(riderHeader, rider)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeResults(t *testing.T, w *httptest.ResponseRecorder) resultsResponse {
	t.Helper()
	var out resultsResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestSearchRanksByScore(t *testing.T) {
	s, store := newTestServer(t, nil)
	seedRide(t, store, "far", &models.Coord{Lat: 52, Lon: 0}, &models.Coord{Lat: 52.1, Lon: 0})
	seedRide(t, store, "near", &models.Coord{Lat: 51.5, Lon: 0}, &models.Coord{Lat: 51.6, Lon: 0})

	w := do(t, s, http.MethodGet, "/api/v1/rides/search?lat=51.5&lng=0&dest_lat=51.6&dest_lng=0&workplace=acme", "rider", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
	out := decodeResults(t, w)
	if out.Count != 2 || out.Results[0].Ride.ID != "near" || out.Results[0].Breakdown == nil {
		t.Fatalf("unexpected results %+v", out)
	}
}

func TestSearchBadCoordinatesAreUnscored(t *testing.T) {
	s, store := newTestServer(t, nil)
	seedRide(t, store, "a", nil, nil)
	w := do(t, s, http.MethodGet, "/api/v1/rides/search?lat=north&lng=0&time_flexibility=soon", "rider", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := decodeResults(t, w)
	if out.Count != 1 || out.Results[0].Breakdown != nil {
		t.Fatalf("expected one unscored result, got %+v", out)
	}
}

func TestSearchNonFiniteCoordinatesAreUnscored(t *testing.T) {
	s, store := newTestServer(t, nil)
	seedRide(t, store, "a", &models.Coord{Lat: 51.5, Lon: 0}, &models.Coord{Lat: 51.6, Lon: 0})
	for _, query := range []string{
		"lat=NaN&lng=0&dest_lat=51.6&dest_lng=0",
		"lat=51.5&lng=Inf&dest_lat=51.6&dest_lng=0",
		"lat=51.5&lng=0&dest_lat=-Inf&dest_lng=0",
		"lat=91&lng=0&dest_lat=51.6&dest_lng=0",
	} {
		for _, path := range []string{"/api/v1/rides/search?", "/api/v1/rides/recommended?"} {
			w := do(t, s, http.MethodGet, path+query, "rider", "")
			if w.Code != http.StatusOK {
				t.Fatalf("%s%s: expected 200, got %d", path, query, w.Code)
			}
			out := decodeResults(t, w)
			if out.Count != 1 || out.Results[0].Breakdown != nil {
				t.Fatalf("%s%s: expected one unscored result, got %+v", path, query, out)
			}
		}
	}
}

func TestCoordParam(t *testing.T) {
	if c := coordParam(" 51.5 ", "-0.1"); c == nil || c.Lat != 51.5 || c.Lon != -0.1 {
		t.Fatalf("unexpected coordinate %+v", c)
	}
	for _, pair := range [][2]string{{"NaN", "0"}, {"0", "+Inf"}, {"-91", "0"}, {"0", "180.5"}, {"", "0"}} {
		if c := coordParam(pair[0], pair[1]); c != nil {
			t.Errorf("coordParam(%q, %q) = %+v, want nil", pair[0], pair[1], c)
		}
	}
}

func TestPoolEndpoints(t *testing.T) {
	s, store := newTestServer(t, nil)
	seedRide(t, store, "a", nil, nil)
	if err := store.SaveProfile(context.Background(), models.RiderProfile{ID: "rider", Workplace: "Acme"}); err != nil {
		t.Fatalf("profile: %v", err)
	}
	for path, want := range map[string]int{
		"/api/v1/rides/available":     1,
		"/api/v1/rides/recommended":   1,
		"/api/v1/rides/workplace":     1,
		"/api/v1/rides/colleagues":    0,
		"/api/v1/rides/friend-groups": 0,
		"/api/v1/rides/connections":   0,
	} {
		w := do(t, s, http.MethodGet, path, "rider", "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		if out := decodeResults(t, w); out.Count != want {
			t.Errorf("%s: expected %d results, got %d", path, want, out.Count)
		}
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	s, store := newTestServer(t, nil)
	seedRide(t, store, "r1", nil, nil)

	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/join", "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing rider header: expected 400, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/nope/join", "alice", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown ride: expected 404, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/join", "alice", `{"pickup_note":"gate"}`); w.Code != http.StatusCreated {
		t.Fatalf("join: expected 201, got %d: %s", w.Code, w.Body)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/join", "alice", ""); w.Code != http.StatusConflict {
		t.Fatalf("second join: expected 409, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/passengers/alice/confirm", "alice", ""); w.Code != http.StatusForbidden {
		t.Fatalf("confirm by non-driver: expected 403, got %d", w.Code)
	}
	w := do(t, s, http.MethodPost, "/api/v1/rides/r1/passengers/alice/confirm", "driver", "")
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", w.Code, w.Body)
	}
	var ride models.RideOffer
	if err := json.NewDecoder(w.Body).Decode(&ride); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ride.AvailableSeats != 0 {
		t.Fatalf("expected the only seat to be taken, got %d", ride.AvailableSeats)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/join", "bob", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("join full ride: expected 400, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/passengers/bob/reject", "driver", ""); w.Code != http.StatusNotFound {
		t.Fatalf("reject unknown passenger: expected 404, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/complete", "driver", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("complete before start: expected 400, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/start", "driver", ""); w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/complete", "driver", ""); w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/rate", "alice", `{"rating":9}`); w.Code != http.StatusBadRequest {
		t.Fatalf("out of range rating: expected 400, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/rate", "alice", `{"rating":4}`); w.Code != http.StatusOK {
		t.Fatalf("rate: expected 200, got %d: %s", w.Code, w.Body)
	}
}

func TestUpsertRide(t *testing.T) {
	s, store := newTestServer(t, nil)
	body := `{"id":"r9","driver_id":"d","pickup_location":"A","dropoff_location":"B","departure_time":"2031-01-01T08:00:00Z","total_seats":2}`
	w := do(t, s, http.MethodPost, "/internal/rides", "", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	r, err := store.Ride(context.Background(), "r9")
	if err != nil || r.AvailableSeats != 2 || r.Status != models.StatusScheduled {
		t.Fatalf("unexpected stored ride %+v (%v)", r, err)
	}

	bad := `{"id":"r10","driver_id":"d","pickup_location":"A","dropoff_location":"A","total_seats":0}`
	if w := do(t, s, http.MethodPost, "/internal/rides", "", bad); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid offer: expected 400, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/internal/rides", "", "{"); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed json: expected 400, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, map[string]HealthCheck{"redis": func(context.Context) error { return nil }})
	if w := do(t, s, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	s, _ = newTestServer(t, map[string]HealthCheck{"redis": func(context.Context) error { return errors.New("down") }})
	if w := do(t, s, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestWebsocketSearch(t *testing.T) {
	s, store := newTestServer(t, nil)
	seedRide(t, store, "a", &models.Coord{Lat: 1, Lon: 1}, &models.Coord{Lat: 2, Lon: 2})
	srv := httptest.NewServer(s)
	defer srv.Close()

	header := http.Header{}
	header.Set(riderHeader, "rider")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/search", header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	intent := models.RiderIntent{Pickup: &models.Coord{Lat: 1, Lon: 1}, Dropoff: &models.Coord{Lat: 2, Lon: 2}}
	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(intent); err != nil {
			t.Fatalf("write: %v", err)
		}
		var reply wsReply
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("read: %v", err)
		}
		if reply.Count != 1 || reply.Results[0].Score != 90 {
			t.Fatalf("unexpected reply %+v", reply)
		}
	}
}

func TestInviteEndpoint(t *testing.T) {
	s, store := newTestServer(t, nil)
	seedRide(t, store, "r1", nil, nil)
	ctx := context.Background()
	_ = store.SaveProfile(ctx, models.RiderProfile{ID: "driver", Workplace: "Acme", Connections: []string{"frank"}})
	_ = store.SaveProfile(ctx, models.RiderProfile{ID: "carl", Workplace: "Acme"})
	_ = store.SaveProfile(ctx, models.RiderProfile{ID: "frank"})

	w := do(t, s, http.MethodPost, "/api/v1/rides/r1/invite", "driver", `{"user_ids":["carl","frank","zed"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("invite: expected 200, got %d: %s", w.Code, w.Body)
	}
	var res lifecycle.InviteResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Invited) != 2 || len(res.Errors) != 1 || len(res.Ride.Passengers) != 2 {
		t.Fatalf("unexpected invite result %+v", res)
	}
	if p := res.Ride.Passengers[1]; p.RiderID != "frank" || p.Relationship != models.RelationFriend || p.InvitedBy != "driver" {
		t.Fatalf("unexpected invitee %+v", p)
	}

	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/invite", "carl", `{"user_ids":["frank"]}`); w.Code != http.StatusForbidden {
		t.Fatalf("invite by non-driver: expected 403, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/invite", "driver", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty invite: expected 400, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/invite", "driver", `{"user_ids":`); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/api/v1/rides/mine/requests", "driver", "")
	if w.Code != http.StatusOK {
		t.Fatalf("requests: expected 200, got %d", w.Code)
	}
	var reqs struct {
		Count    int                        `json:"count"`
		Requests []lifecycle.PendingRequest `json:"requests"`
	}
	if err := json.NewDecoder(w.Body).Decode(&reqs); err != nil || reqs.Count != 2 {
		t.Fatalf("expected two pending requests, got %+v (%v)", reqs, err)
	}
}

func TestMyRidesEndpoints(t *testing.T) {
	s, store := newTestServer(t, nil)
	seedRide(t, store, "r1", nil, nil)
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/join", "alice", ""); w.Code != http.StatusCreated {
		t.Fatalf("join: expected 201, got %d", w.Code)
	}

	count := func(path, rider string) int {
		t.Helper()
		w := do(t, s, http.MethodGet, path, rider, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		var out ridesResponse
		if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out.Count
	}
	if n := count("/api/v1/rides/mine/offered", "driver"); n != 1 {
		t.Fatalf("offered: expected 1, got %d", n)
	}
	if n := count("/api/v1/rides/mine/joined", "alice"); n != 0 {
		t.Fatalf("joined before confirmation: expected 0, got %d", n)
	}
	if w := do(t, s, http.MethodPost, "/api/v1/rides/r1/passengers/alice/confirm", "driver", ""); w.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d", w.Code)
	}
	if n := count("/api/v1/rides/mine/joined", "alice"); n != 1 {
		t.Fatalf("joined after confirmation: expected 1, got %d", n)
	}
	if w := do(t, s, http.MethodGet, "/api/v1/rides/mine/offered", "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing rider header: expected 400, got %d", w.Code)
	}
}

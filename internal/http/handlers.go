package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/carpool-matching/internal/lifecycle"
	"github.com/example/carpool-matching/internal/matcher"
	"github.com/example/carpool-matching/internal/models"
)

// riderHeader carries the rider id set by the identity proxy in front of us.
const riderHeader = "X-Rider-ID"

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	matcher *matcher.Service
	rides   *lifecycle.Service
	checks  map[string]HealthCheck
	logger  *slog.Logger
	mux     *mux.Router
}

func NewServer(m *matcher.Service, rides *lifecycle.Service, logger *slog.Logger, checks map[string]HealthCheck) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{matcher: m, rides: rides, checks: checks, logger: logger, mux: mux.NewRouter()}
	s.routes()
	s.registerMiddleware()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1/rides").Subrouter()
	api.HandleFunc("/available", s.handleAvailable).Methods(http.MethodGet)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/recommended", s.handleRecommended).Methods(http.MethodGet)
	api.HandleFunc("/colleagues", s.handleColleagues).Methods(http.MethodGet)
	api.HandleFunc("/workplace", s.handleWorkplace).Methods(http.MethodGet)
	api.HandleFunc("/friend-groups", s.handleFriendGroups).Methods(http.MethodGet)
	api.HandleFunc("/connections", s.handleConnections).Methods(http.MethodGet)

	api.HandleFunc("/mine/offered", s.handleOffered).Methods(http.MethodGet)
	api.HandleFunc("/mine/joined", s.handleJoined).Methods(http.MethodGet)
	api.HandleFunc("/mine/requests", s.handlePendingRequests).Methods(http.MethodGet)

	api.HandleFunc("/{id}/join", s.handleJoin).Methods(http.MethodPost)
	api.HandleFunc("/{id}/leave", s.handleLeave).Methods(http.MethodPost)
	api.HandleFunc("/{id}/cancel", s.handleDriverAction(s.rides.Cancel)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/start", s.handleDriverAction(s.rides.Start)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/complete", s.handleDriverAction(s.rides.Complete)).Methods(http.MethodPost)
	api.HandleFunc("/{id}/rate", s.handleRate).Methods(http.MethodPost)
	api.HandleFunc("/{id}/invite", s.handleInvite).Methods(http.MethodPost)
	api.HandleFunc("/{id}/passengers/{rider_id}/{action:confirm|reject}", s.handleManagePassenger).Methods(http.MethodPost)

	s.mux.HandleFunc("/internal/rides", s.handleUpsertRide).Methods(http.MethodPost)
	s.mux.HandleFunc("/ws/search", s.handleWSSearch).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type resultsResponse struct {
	Count   int                   `json:"count"`
	Results []matcher.MatchResult `json:"results"`
}

func (s *Server) respondResults(w http.ResponseWriter, r *http.Request, results []matcher.MatchResult, err error) {
	if err != nil {
		s.logger.Error("match query failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{Count: len(results), Results: results})
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	res, err := s.matcher.Available(r.Context(), riderID(r))
	s.respondResults(w, r, res, err)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := s.matcher.Search(r.Context(), intentFromQuery(r))
	s.respondResults(w, r, res, err)
}

func (s *Server) handleRecommended(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.matcher.Recommend(r.Context(), riderID(r), coordParam(q.Get("lat"), q.Get("lng")), coordParam(q.Get("dest_lat"), q.Get("dest_lng")))
	s.respondResults(w, r, res, err)
}

func (s *Server) handleColleagues(w http.ResponseWriter, r *http.Request) {
	res, err := s.matcher.ColleagueRides(r.Context(), riderID(r))
	s.respondResults(w, r, res, err)
}

func (s *Server) handleWorkplace(w http.ResponseWriter, r *http.Request) {
	res, err := s.matcher.WorkplaceRides(r.Context(), riderID(r))
	s.respondResults(w, r, res, err)
}

func (s *Server) handleFriendGroups(w http.ResponseWriter, r *http.Request) {
	res, err := s.matcher.FriendGroupRides(r.Context(), riderID(r), r.URL.Query().Get("group"))
	s.respondResults(w, r, res, err)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	res, err := s.matcher.ConnectionRides(r.Context(), riderID(r))
	s.respondResults(w, r, res, err)
}

type joinRequest struct {
	PickupNote string `json:"pickup_note"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	rider, ok := requireRider(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ride, err := s.rides.Join(r.Context(), mux.Vars(r)["id"], rider, req.PickupNote)
	s.respondRide(w, r, http.StatusCreated, ride, err)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	rider, ok := requireRider(w, r)
	if !ok {
		return
	}
	ride, err := s.rides.Leave(r.Context(), mux.Vars(r)["id"], rider)
	s.respondRide(w, r, http.StatusOK, ride, err)
}

func (s *Server) handleDriverAction(action func(ctx context.Context, rideID, driverID string) (models.RideOffer, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		driver, ok := requireRider(w, r)
		if !ok {
			return
		}
		ride, err := action(r.Context(), mux.Vars(r)["id"], driver)
		s.respondRide(w, r, http.StatusOK, ride, err)
	}
}

func (s *Server) handleManagePassenger(w http.ResponseWriter, r *http.Request) {
	driver, ok := requireRider(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	manage := s.rides.Confirm
	if vars["action"] == "reject" {
		manage = s.rides.Reject
	}
	ride, err := manage(r.Context(), vars["id"], driver, vars["rider_id"])
	s.respondRide(w, r, http.StatusOK, ride, err)
}

type rateRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	rider, ok := requireRider(w, r)
	if !ok {
		return
	}
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ride, err := s.rides.Rate(r.Context(), mux.Vars(r)["id"], rider, req.Rating)
	s.respondRide(w, r, http.StatusOK, ride, err)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	driver, ok := requireRider(w, r)
	if !ok {
		return
	}
	var req lifecycle.InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.rides.Invite(r.Context(), mux.Vars(r)["id"], driver, req)
	if err != nil {
		s.respondRide(w, r, http.StatusOK, models.RideOffer{}, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type ridesResponse struct {
	Count int                `json:"count"`
	Rides []models.RideOffer `json:"rides"`
}

func (s *Server) handleOffered(w http.ResponseWriter, r *http.Request) {
	rider, ok := requireRider(w, r)
	if !ok {
		return
	}
	rides, err := s.rides.Offered(r.Context(), rider)
	s.respondRides(w, r, rides, err)
}

func (s *Server) handleJoined(w http.ResponseWriter, r *http.Request) {
	rider, ok := requireRider(w, r)
	if !ok {
		return
	}
	rides, err := s.rides.Joined(r.Context(), rider)
	s.respondRides(w, r, rides, err)
}

func (s *Server) respondRides(w http.ResponseWriter, r *http.Request, rides []models.RideOffer, err error) {
	if err != nil {
		s.logger.Error("ride listing failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rides == nil {
		rides = []models.RideOffer{}
	}
	writeJSON(w, http.StatusOK, ridesResponse{Count: len(rides), Rides: rides})
}

func (s *Server) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	driver, ok := requireRider(w, r)
	if !ok {
		return
	}
	reqs, err := s.rides.PendingRequests(r.Context(), driver)
	if err != nil {
		s.logger.Error("pending requests failed", "request_id", requestIDFromContext(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(reqs), "requests": reqs})
}

func (s *Server) handleUpsertRide(w http.ResponseWriter, r *http.Request) {
	var offer models.RideOffer
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ride, err := s.rides.Offer(r.Context(), offer)
	if errors.Is(err, models.ErrInvalidOffer) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondRide(w, r, http.StatusOK, ride, err)
}

func (s *Server) respondRide(w http.ResponseWriter, r *http.Request, status int, ride models.RideOffer, err error) {
	if err != nil {
		code := lifecycleStatus(err)
		if code == http.StatusInternalServerError {
			s.logger.Error("ride update failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "err", err)
			writeError(w, code, "internal error")
			return
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, status, ride)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func lifecycleStatus(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrNotDriver), errors.Is(err, lifecycle.ErrNotPassenger):
		return http.StatusForbidden
	case errors.Is(err, lifecycle.ErrAlreadyJoined):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalidState), errors.Is(err, lifecycle.ErrRideFull),
		errors.Is(err, lifecycle.ErrInvalidRating), errors.Is(err, lifecycle.ErrDriverCannotJoin),
		errors.Is(err, lifecycle.ErrEmptyInvite):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func riderID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(riderHeader))
}

func requireRider(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := riderID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing "+riderHeader+" header")
		return "", false
	}
	return id, true
}

// intentFromQuery reads a search intent. Values that do not parse are treated
// as absent.
func intentFromQuery(r *http.Request) models.RiderIntent {
	q := r.URL.Query()
	intent := models.RiderIntent{
		RiderID:     riderID(r),
		Pickup:      coordParam(q.Get("lat"), q.Get("lng")),
		Dropoff:     coordParam(q.Get("dest_lat"), q.Get("dest_lng")),
		Date:        q.Get("date"),
		Time:        q.Get("departure_time"),
		PickupText:  q.Get("pickup"),
		DropoffText: q.Get("dropoff"),
		Workplace:   q.Get("workplace"),
	}
	if v, err := strconv.Atoi(q.Get("time_flexibility")); err == nil {
		intent.FlexibilityMinutes = &v
	}
	if v, err := strconv.ParseFloat(q.Get("radius_km"), 64); err == nil && v > 0 {
		intent.RadiusKm = v
	}
	return intent
}

// coordParam parses a coordinate pair. NaN, infinities and out-of-range
// values count as absent.
func coordParam(lat, lng string) *models.Coord {
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return nil
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return nil
	}
	c := models.Coord{Lat: la, Lon: lo}
	if !c.Valid() {
		return nil
	}
	return &c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

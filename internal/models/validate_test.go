package models

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func validOffer() RideOffer {
	return RideOffer{
		ID:             "r1",
		DriverID:       "d1",
		PickupLabel:    "Home",
		DropoffLabel:   "Office",
		TotalSeats:     3,
		AvailableSeats: 3,
		Status:         StatusScheduled,
		Visibility:     VisibilityPublic,
	}
}

func TestValidateAcceptsWellFormedOffer(t *testing.T) {
	r := validOffer()
	r.Recurring = true
	r.RecurringDays = []int{0, 6}
	r.Pickup, r.Dropoff = &Coord{Lat: 1, Lon: 1}, &Coord{Lat: 2, Lon: 2}
	r.Comfort = &Comfort{ChatLevel: ChatModerate}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*RideOffer){
		"total seats":        func(r *RideOffer) { r.TotalSeats = 0; r.AvailableSeats = 0 },
		"available seats":    func(r *RideOffer) { r.AvailableSeats = 4 },
		"partial coords":     func(r *RideOffer) { r.Pickup = &Coord{Lat: 1, Lon: 1} },
		"nan coords":         func(r *RideOffer) { r.Pickup, r.Dropoff = &Coord{Lat: math.NaN(), Lon: 1}, &Coord{Lat: 2, Lon: 2} },
		"latitude range":     func(r *RideOffer) { r.Pickup, r.Dropoff = &Coord{Lat: 1, Lon: 1}, &Coord{Lat: 91, Lon: 2} },
		"same labels":        func(r *RideOffer) { r.DropoffLabel = r.PickupLabel },
		"recurring no days":  func(r *RideOffer) { r.Recurring = true },
		"weekday range":      func(r *RideOffer) { r.RecurringDays = []int{7} },
		"chat level":         func(r *RideOffer) { r.Comfort = &Comfort{ChatLevel: "loud"} },
		"status":             func(r *RideOffer) { r.Status = "boarding" },
		"visibility":         func(r *RideOffer) { r.Visibility = "secret" },
		"driver rating":      func(r *RideOffer) { r.DriverRating = 6 },
		"missing driver id":  func(r *RideOffer) { r.DriverID = " " },
		"missing identifier": func(r *RideOffer) { r.ID = "" },
	}
	for name, mutate := range cases {
		r := validOffer()
		mutate(&r)
		if err := r.Validate(); !errors.Is(err, ErrInvalidOffer) {
			t.Errorf("%s: expected ErrInvalidOffer, got %v", name, err)
		}
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	r := validOffer()
	r.TotalSeats = 0
	r.AvailableSeats = 0
	r.DropoffLabel = r.PickupLabel
	err := r.Validate()
	if err == nil || !strings.Contains(err.Error(), "total seats") || !strings.Contains(err.Error(), "cannot be the same") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}

func TestRecomputeSeatsAndClone(t *testing.T) {
	r := validOffer()
	r.Passengers = []Passenger{
		{RiderID: "a", Status: PassengerConfirmed},
		{RiderID: "b", Status: PassengerPending},
		{RiderID: "c", Status: PassengerConfirmed},
	}
	r.RecomputeSeats()
	if r.AvailableSeats != 1 {
		t.Fatalf("expected 1 seat left, got %d", r.AvailableSeats)
	}
	r.TotalSeats = 1
	r.RecomputeSeats()
	if r.AvailableSeats != 0 {
		t.Fatalf("seats must not go negative, got %d", r.AvailableSeats)
	}

	c := r.Clone()
	c.Passengers[0].Status = PassengerRejected
	if r.Passengers[0].Status != PassengerConfirmed {
		t.Fatal("clone shares passengers with the original")
	}
	if !r.HasPassenger("b") || r.HasPassenger("z") {
		t.Fatal("HasPassenger mismatch")
	}
}

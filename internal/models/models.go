package models

import (
	"math"
	"time"
)

// Coord is a point in decimal degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether c is a finite point on the globe.
func (c Coord) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// RideStatus is the lifecycle state of an offer.
type RideStatus string

const (
	StatusScheduled  RideStatus = "scheduled"
	StatusInProgress RideStatus = "in_progress"
	StatusCompleted  RideStatus = "completed"
	StatusCancelled  RideStatus = "cancelled"
)

// Closed reports whether the offer can no longer take part in matching.
func (s RideStatus) Closed() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ChatLevel is how much conversation the driver expects during the trip.
type ChatLevel string

const (
	ChatQuiet    ChatLevel = "quiet"
	ChatModerate ChatLevel = "moderate"
	ChatChatty   ChatLevel = "chatty"
)

// Visibility controls who may see an offer.
type Visibility string

const (
	VisibilityPublic      Visibility = "public"
	VisibilityConnections Visibility = "connections"
)

// Comfort is the closed set of comfort attributes a driver can declare.
type Comfort struct {
	SmokingAllowed bool      `json:"smoking_allowed"`
	HasAC          bool      `json:"has_ac"`
	ChatLevel      ChatLevel `json:"chat_level"`
	MusicGenres    []string  `json:"music_genres,omitempty"`
}

// PassengerStatus tracks a join request from pending to confirmed or rejected.
type PassengerStatus string

const (
	PassengerPending   PassengerStatus = "pending"
	PassengerConfirmed PassengerStatus = "confirmed"
	PassengerRejected  PassengerStatus = "rejected"
)

// Relationship tags how an invited passenger relates to the driver.
type Relationship string

const (
	RelationColleague Relationship = "colleague"
	RelationFriend    Relationship = "friend"
	RelationOther     Relationship = "other"
)

// Passenger is one rider's request on an offer. InvitedBy and Relationship are
// only set when the driver invited the rider.
type Passenger struct {
	RiderID      string          `json:"rider_id"`
	Status       PassengerStatus `json:"status"`
	JoinedAt     time.Time       `json:"joined_at"`
	Note         string          `json:"pickup_note,omitempty"`
	InvitedBy    string          `json:"invited_by,omitempty"`
	Relationship Relationship    `json:"relationship,omitempty"`
}

// RideOffer is a read-only snapshot of a driver-published trip.
type RideOffer struct {
	ID              string `json:"id"`
	DriverID        string `json:"driver_id"`
	DriverWorkplace string `json:"driver_workplace,omitempty"`
	// DriverRating is the driver's average rating (0..5) at snapshot time.
	DriverRating float64 `json:"driver_rating"`

	Pickup       *Coord    `json:"pickup,omitempty"`
	Dropoff      *Coord    `json:"dropoff,omitempty"`
	PickupLabel  string    `json:"pickup_location"`
	DropoffLabel string    `json:"dropoff_location"`
	Departure    time.Time `json:"departure_time"`

	TotalSeats     int        `json:"total_seats"`
	AvailableSeats int        `json:"available_seats"`
	Status         RideStatus `json:"status"`

	Recurring     bool  `json:"recurring"`
	RecurringDays []int `json:"recurring_days,omitempty"`

	TimeFlexibilityMinutes int        `json:"time_flexibility_minutes"`
	IsWorkplaceRide        bool       `json:"is_workplace_ride"`
	Visibility             Visibility `json:"visibility"`
	FriendGroup            string     `json:"friend_group,omitempty"`
	Comfort                *Comfort   `json:"comfort_features,omitempty"`

	AverageRating float64 `json:"average_rating"`
	RatingCount   int     `json:"rating_count"`

	Passengers []Passenger `json:"passengers,omitempty"`
}

// HasCoordinates reports whether both pickup and dropoff coordinates are set.
func (r *RideOffer) HasCoordinates() bool {
	return r.Pickup != nil && r.Dropoff != nil
}

// HasPassenger reports whether riderID appears among the passengers in any status.
func (r *RideOffer) HasPassenger(riderID string) bool {
	for _, p := range r.Passengers {
		if p.RiderID == riderID {
			return true
		}
	}
	return false
}

// ConfirmedCount is the number of seats taken.
func (r *RideOffer) ConfirmedCount() int {
	n := 0
	for _, p := range r.Passengers {
		if p.Status == PassengerConfirmed {
			n++
		}
	}
	return n
}

// RecomputeSeats derives AvailableSeats from the confirmed passengers.
func (r *RideOffer) RecomputeSeats() {
	r.AvailableSeats = max(0, r.TotalSeats-r.ConfirmedCount())
}

// Clone returns a deep copy so callers can mutate it without touching a snapshot.
func (r RideOffer) Clone() RideOffer {
	out := r
	if r.Pickup != nil {
		p := *r.Pickup
		out.Pickup = &p
	}
	if r.Dropoff != nil {
		d := *r.Dropoff
		out.Dropoff = &d
	}
	if r.Comfort != nil {
		c := *r.Comfort
		c.MusicGenres = append([]string(nil), r.Comfort.MusicGenres...)
		out.Comfort = &c
	}
	out.RecurringDays = append([]int(nil), r.RecurringDays...)
	out.Passengers = append([]Passenger(nil), r.Passengers...)
	return out
}

// RiderIntent is the ephemeral query a rider submits; it is never persisted.
type RiderIntent struct {
	RiderID string `json:"rider_id"`
	Pickup  *Coord `json:"pickup,omitempty"`
	Dropoff *Coord `json:"dropoff,omitempty"`

	Date string `json:"date,omitempty"` // YYYY-MM-DD
	Time string `json:"time,omitempty"` // HH:MM
	// FlexibilityMinutes widens Time symmetrically; nil means the default.
	FlexibilityMinutes *int `json:"time_flexibility,omitempty"`

	PickupText  string `json:"pickup_text,omitempty"`
	DropoffText string `json:"dropoff_text,omitempty"`
	Workplace   string `json:"workplace,omitempty"`

	RadiusKm    float64 `json:"radius_km,omitempty"`
	FriendGroup string  `json:"group,omitempty"`
}

// BoolPreference is a rider's stance on a yes/no comfort attribute.
type BoolPreference string

const (
	PreferYes    BoolPreference = "yes"
	PreferNo     BoolPreference = "no"
	NoPreference BoolPreference = "no_preference"
)

// Matches reports whether the ride attribute agrees with a stated preference.
func (p BoolPreference) Matches(v bool) bool {
	switch p {
	case PreferYes:
		return v
	case PreferNo:
		return !v
	}
	return false
}

// ChatPreference holds a ChatLevel or ChatNoPreference.
type ChatPreference string

const ChatNoPreference ChatPreference = "no_preference"

// RiderProfile carries the rider attributes consumed by scoring and the social pools.
// Preference fields are nil when the rider never stated them.
type RiderProfile struct {
	ID        string `json:"id"`
	Workplace string `json:"workplace,omitempty"`

	PreferredTimes []string `json:"preferred_times,omitempty"`
	PreferredDays  []int    `json:"preferred_days,omitempty"`

	Smoking         *BoolPreference `json:"smoking_preference,omitempty"`
	AirConditioning *BoolPreference `json:"ac_preference,omitempty"`
	Chat            *ChatPreference `json:"chat_preference,omitempty"`
	MusicGenres     []string        `json:"music_genres,omitempty"`

	Connections  []string            `json:"connections,omitempty"`
	FriendGroups map[string][]string `json:"friend_groups,omitempty"`
}

// Clone returns a copy that shares no slices, maps or pointers with p.
func (p RiderProfile) Clone() RiderProfile {
	out := p
	out.PreferredTimes = append([]string(nil), p.PreferredTimes...)
	out.PreferredDays = append([]int(nil), p.PreferredDays...)
	out.MusicGenres = append([]string(nil), p.MusicGenres...)
	out.Connections = append([]string(nil), p.Connections...)
	if p.Smoking != nil {
		v := *p.Smoking
		out.Smoking = &v
	}
	if p.AirConditioning != nil {
		v := *p.AirConditioning
		out.AirConditioning = &v
	}
	if p.Chat != nil {
		v := *p.Chat
		out.Chat = &v
	}
	if p.FriendGroups != nil {
		out.FriendGroups = make(map[string][]string, len(p.FriendGroups))
		for label, ids := range p.FriendGroups {
			out.FriendGroups[label] = append([]string(nil), ids...)
		}
	}
	return out
}

// Member is one entry of the rider directory used to resolve colleagues.
type Member struct {
	ID        string `json:"id"`
	Workplace string `json:"workplace"`
}

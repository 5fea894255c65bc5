package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/carpool-matching/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

const offerColumns = `o.id, o.driver_id, COALESCE(d.workplace, ''), COALESCE(d.average_rating, 0),
	o.pickup_lat, o.pickup_lon, o.dropoff_lat, o.dropoff_lon, o.pickup_location, o.dropoff_location,
	o.departure_time, o.total_seats, o.available_seats, o.status, o.recurring, o.recurring_days,
	o.time_flexibility_minutes, o.is_workplace_ride, o.visibility, o.friend_group, o.comfort_features,
	o.average_rating, o.rating_count`

const offerFrom = ` FROM ride_offers o LEFT JOIN riders d ON d.id = o.driver_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (models.RideOffer, error) {
	var (
		r                      models.RideOffer
		pLat, pLon, dLat, dLon sql.NullFloat64
		days                   pq.Int64Array
		status, visibility     string
		comfort                []byte
	)
	err := row.Scan(&r.ID, &r.DriverID, &r.DriverWorkplace, &r.DriverRating,
		&pLat, &pLon, &dLat, &dLon, &r.PickupLabel, &r.DropoffLabel,
		&r.Departure, &r.TotalSeats, &r.AvailableSeats, &status, &r.Recurring, &days,
		&r.TimeFlexibilityMinutes, &r.IsWorkplaceRide, &visibility, &r.FriendGroup, &comfort,
		&r.AverageRating, &r.RatingCount)
	if err != nil {
		return models.RideOffer{}, err
	}
	r.Status = models.RideStatus(status)
	r.Visibility = models.Visibility(visibility)
	if pLat.Valid && pLon.Valid && dLat.Valid && dLon.Valid {
		r.Pickup = &models.Coord{Lat: pLat.Float64, Lon: pLon.Float64}
		r.Dropoff = &models.Coord{Lat: dLat.Float64, Lon: dLon.Float64}
	}
	for _, d := range days {
		r.RecurringDays = append(r.RecurringDays, int(d))
	}
	if len(comfort) > 0 {
		var c models.Comfort
		if err := json.Unmarshal(comfort, &c); err != nil {
			return models.RideOffer{}, fmt.Errorf("decode comfort_features for %s: %w", r.ID, err)
		}
		r.Comfort = &c
	}
	return r, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Snapshot returns the scheduled offers that still have seats, ordered by departure.
// Radius narrowing is left to the matcher.
func (p *PostgresStore) Snapshot(ctx context.Context, _ PoolQuery) ([]models.RideOffer, error) {
	return p.queryOffers(ctx, ` WHERE o.status = $1 AND o.available_seats > 0`, string(models.StatusScheduled))
}

// RidesByDriver lists every offer published by driverID, whatever its status.
func (p *PostgresStore) RidesByDriver(ctx context.Context, driverID string) ([]models.RideOffer, error) {
	return p.queryOffers(ctx, ` WHERE o.driver_id = $1`, driverID)
}

// RidesByPassenger lists the offers riderID has a request on, in any status.
func (p *PostgresStore) RidesByPassenger(ctx context.Context, riderID string) ([]models.RideOffer, error) {
	return p.queryOffers(ctx, ` WHERE o.id IN (SELECT ride_id FROM ride_passengers WHERE rider_id = $1)`, riderID)
}

func (p *PostgresStore) queryOffers(ctx context.Context, where string, args ...any) ([]models.RideOffer, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+offerColumns+offerFrom+where+` ORDER BY o.departure_time, o.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query offers: %w", err)
	}
	defer rows.Close()
	var out []models.RideOffer
	for rows.Next() {
		r, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := p.attachPassengers(ctx, p.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordDriverRating updates riders.average_rating in a single statement, so
// concurrent ratings of one driver never lose an update.
func (p *PostgresStore) RecordDriverRating(ctx context.Context, driverID string, rating int) (float64, error) {
	var avg float64
	err := p.db.QueryRowContext(ctx, `INSERT INTO riders (id, average_rating, total_ratings) VALUES ($1, $2, 1)
		ON CONFLICT (id) DO UPDATE SET
			average_rating = (riders.average_rating * riders.total_ratings + EXCLUDED.average_rating) / (riders.total_ratings + 1),
			total_ratings = riders.total_ratings + 1
		RETURNING average_rating`, driverID, float64(rating)).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("rate driver %s: %w", driverID, err)
	}
	return avg, nil
}

func (p *PostgresStore) attachPassengers(ctx context.Context, q querier, offers []models.RideOffer) error {
	if len(offers) == 0 {
		return nil
	}
	ids := make([]string, len(offers))
	pos := make(map[string]int, len(offers))
	for i, r := range offers {
		ids[i] = r.ID
		pos[r.ID] = i
	}
	rows, err := q.QueryContext(ctx, `SELECT ride_id, rider_id, status, joined_at, pickup_note, invited_by, relationship
		FROM ride_passengers WHERE ride_id = ANY($1) ORDER BY joined_at, rider_id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query passengers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rideID, status, relationship string
			ps                           models.Passenger
		)
		if err := rows.Scan(&rideID, &ps.RiderID, &status, &ps.JoinedAt, &ps.Note, &ps.InvitedBy, &relationship); err != nil {
			return err
		}
		ps.Status = models.PassengerStatus(status)
		ps.Relationship = models.Relationship(relationship)
		i := pos[rideID]
		offers[i].Passengers = append(offers[i].Passengers, ps)
	}
	return rows.Err()
}

func (p *PostgresStore) Ride(ctx context.Context, id string) (models.RideOffer, error) {
	return p.loadRide(ctx, p.db, id, false)
}

func (p *PostgresStore) loadRide(ctx context.Context, q querier, id string, forUpdate bool) (models.RideOffer, error) {
	query := `SELECT ` + offerColumns + offerFrom + ` WHERE o.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF o`
	}
	r, err := scanOffer(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.RideOffer{}, ErrNotFound
	}
	if err != nil {
		return models.RideOffer{}, err
	}
	offers := []models.RideOffer{r}
	if err := p.attachPassengers(ctx, q, offers); err != nil {
		return models.RideOffer{}, err
	}
	return offers[0], nil
}

func (p *PostgresStore) SaveRide(ctx context.Context, r models.RideOffer) error {
	return p.inTx(ctx, func(tx *sql.Tx) error { return writeRide(ctx, tx, r) })
}

func (p *PostgresStore) UpdateRide(ctx context.Context, id string, fn func(*models.RideOffer) error) (models.RideOffer, error) {
	var out models.RideOffer
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		r, err := p.loadRide(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(&r); err != nil {
			return err
		}
		if err := writeRide(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func writeRide(ctx context.Context, tx *sql.Tx, r models.RideOffer) error {
	var pLat, pLon, dLat, dLon sql.NullFloat64
	if r.Pickup != nil && r.Dropoff != nil {
		pLat = sql.NullFloat64{Float64: r.Pickup.Lat, Valid: true}
		pLon = sql.NullFloat64{Float64: r.Pickup.Lon, Valid: true}
		dLat = sql.NullFloat64{Float64: r.Dropoff.Lat, Valid: true}
		dLon = sql.NullFloat64{Float64: r.Dropoff.Lon, Valid: true}
	}
	var comfort sql.NullString
	if r.Comfort != nil {
		b, err := json.Marshal(r.Comfort)
		if err != nil {
			return err
		}
		comfort = sql.NullString{String: string(b), Valid: true}
	}
	days := make(pq.Int64Array, len(r.RecurringDays))
	for i, d := range r.RecurringDays {
		days[i] = int64(d)
	}
	visibility := r.Visibility
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO ride_offers (id, driver_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
		pickup_location, dropoff_location, departure_time, total_seats, available_seats, status, recurring, recurring_days,
		time_flexibility_minutes, is_workplace_ride, visibility, friend_group, comfort_features, average_rating, rating_count, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (id) DO UPDATE SET driver_id = EXCLUDED.driver_id, pickup_lat = EXCLUDED.pickup_lat,
		pickup_lon = EXCLUDED.pickup_lon, dropoff_lat = EXCLUDED.dropoff_lat, dropoff_lon = EXCLUDED.dropoff_lon,
		pickup_location = EXCLUDED.pickup_location, dropoff_location = EXCLUDED.dropoff_location,
		departure_time = EXCLUDED.departure_time, total_seats = EXCLUDED.total_seats,
		available_seats = EXCLUDED.available_seats, status = EXCLUDED.status, recurring = EXCLUDED.recurring,
		recurring_days = EXCLUDED.recurring_days, time_flexibility_minutes = EXCLUDED.time_flexibility_minutes,
		is_workplace_ride = EXCLUDED.is_workplace_ride, visibility = EXCLUDED.visibility,
		friend_group = EXCLUDED.friend_group, comfort_features = EXCLUDED.comfort_features,
		average_rating = EXCLUDED.average_rating, rating_count = EXCLUDED.rating_count, updated_at = EXCLUDED.updated_at`,
		r.ID, r.DriverID, pLat, pLon, dLat, dLon, r.PickupLabel, r.DropoffLabel, r.Departure, r.TotalSeats,
		r.AvailableSeats, string(r.Status), r.Recurring, days, r.TimeFlexibilityMinutes, r.IsWorkplaceRide,
		string(visibility), r.FriendGroup, comfort, r.AverageRating, r.RatingCount, time.Now())
	if err != nil {
		return fmt.Errorf("upsert offer %s: %w", r.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ride_passengers WHERE ride_id = $1`, r.ID); err != nil {
		return fmt.Errorf("clear passengers %s: %w", r.ID, err)
	}
	for _, ps := range r.Passengers {
		joined := ps.JoinedAt
		if joined.IsZero() {
			joined = time.Now()
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO ride_passengers (ride_id, rider_id, status, joined_at, pickup_note,
			invited_by, relationship) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			r.ID, ps.RiderID, string(ps.Status), joined, ps.Note, ps.InvitedBy, string(ps.Relationship)); err != nil {
			return fmt.Errorf("insert passenger %s/%s: %w", r.ID, ps.RiderID, err)
		}
	}
	return nil
}

func (p *PostgresStore) Profile(ctx context.Context, riderID string) (models.RiderProfile, error) {
	var (
		prof              models.RiderProfile
		times, genres     pq.StringArray
		days              pq.Int64Array
		smoking, ac, chat sql.NullString
		groups            []byte
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, workplace, preferred_times, preferred_days, smoking_preference,
		ac_preference, chat_preference, music_genres, friend_groups FROM riders WHERE id = $1`, riderID).
		Scan(&prof.ID, &prof.Workplace, &times, &days, &smoking, &ac, &chat, &genres, &groups)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RiderProfile{}, ErrNotFound
	}
	if err != nil {
		return models.RiderProfile{}, fmt.Errorf("query rider %s: %w", riderID, err)
	}
	prof.PreferredTimes = []string(times)
	prof.MusicGenres = []string(genres)
	for _, d := range days {
		prof.PreferredDays = append(prof.PreferredDays, int(d))
	}
	if smoking.Valid {
		v := models.BoolPreference(smoking.String)
		prof.Smoking = &v
	}
	if ac.Valid {
		v := models.BoolPreference(ac.String)
		prof.AirConditioning = &v
	}
	if chat.Valid {
		v := models.ChatPreference(chat.String)
		prof.Chat = &v
	}
	if len(groups) > 0 {
		if err := json.Unmarshal(groups, &prof.FriendGroups); err != nil {
			return models.RiderProfile{}, fmt.Errorf("decode friend_groups for %s: %w", riderID, err)
		}
	}

	rows, err := p.db.QueryContext(ctx, `SELECT connected_id FROM rider_connections WHERE rider_id = $1 ORDER BY connected_id`, riderID)
	if err != nil {
		return models.RiderProfile{}, fmt.Errorf("query connections %s: %w", riderID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return models.RiderProfile{}, err
		}
		prof.Connections = append(prof.Connections, id)
	}
	return prof, rows.Err()
}

func (p *PostgresStore) Members(ctx context.Context, workplace string) ([]models.Member, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, workplace FROM riders
		WHERE workplace <> '' AND lower(trim(workplace)) = lower(trim($1)) ORDER BY id`, workplace)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()
	var out []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID, &m.Workplace); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Migrate applies a schema script such as migrations/001_create_rides.sql.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

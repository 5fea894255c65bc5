package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/observability"
	"github.com/example/carpool-matching/internal/social"
	"github.com/example/carpool-matching/internal/storage"
)

// InviteRequest names who a driver wants on a ride. Colleagues only applies to
// workplace rides.
type InviteRequest struct {
	RiderIDs    []string `json:"user_ids,omitempty"`
	FriendGroup string   `json:"friend_group,omitempty"`
	Colleagues  bool     `json:"colleagues,omitempty"`
}

// InviteResult reports who was added as a pending passenger and why the
// others were not.
type InviteResult struct {
	Ride    models.RideOffer `json:"ride"`
	Invited []string         `json:"invited"`
	Errors  []string         `json:"errors"`
}

type invitee struct {
	id       string
	relation models.Relationship
	// explicit invitees get an error line when they cannot be added; group and
	// colleague invitees are skipped silently.
	explicit bool
}

// Invite adds pending passengers on behalf of the driver. Explicit ids are
// tagged colleague, friend or other depending on how they relate to the
// driver; friend group members are friends and workplace colleagues are
// colleagues. Unknown or already present riders are reported, not fatal.
func (s *Service) Invite(ctx context.Context, rideID, driverID string, req InviteRequest) (InviteResult, error) {
	if len(req.RiderIDs) == 0 && strings.TrimSpace(req.FriendGroup) == "" && !req.Colleagues {
		observability.LifecycleOps.WithLabelValues("invite", "rejected").Inc()
		return InviteResult{}, ErrEmptyInvite
	}
	cur, err := s.store.Ride(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		observability.LifecycleOps.WithLabelValues("invite", "rejected").Inc()
		return InviteResult{}, ErrNotFound
	}
	if err != nil {
		observability.LifecycleOps.WithLabelValues("invite", "error").Inc()
		return InviteResult{}, fmt.Errorf("load ride %s: %w", rideID, err)
	}
	if cur.DriverID != driverID {
		observability.LifecycleOps.WithLabelValues("invite", "rejected").Inc()
		return InviteResult{}, ErrNotDriver
	}

	invitees, problems, err := s.resolveInvitees(ctx, driverID, req)
	if err != nil {
		observability.LifecycleOps.WithLabelValues("invite", "error").Inc()
		return InviteResult{}, err
	}

	var invited, errs []string
	ride, err := s.mutate(ctx, "invite", rideID, func(r *models.RideOffer) error {
		if r.DriverID != driverID {
			return ErrNotDriver
		}
		if r.Status != models.StatusScheduled {
			return ErrInvalidState
		}
		invited, errs = nil, append([]string(nil), problems...)
		if req.Colleagues && !r.IsWorkplaceRide {
			errs = append(errs, "colleague invitations need a workplace ride")
		}
		for _, in := range invitees {
			if in.relation == models.RelationColleague && !in.explicit && !r.IsWorkplaceRide {
				continue
			}
			switch {
			case in.id == driverID:
				if in.explicit {
					errs = append(errs, "the driver cannot be invited")
				}
				continue
			case r.HasPassenger(in.id):
				if in.explicit {
					errs = append(errs, fmt.Sprintf("rider %s is already in this ride", in.id))
				}
				continue
			}
			r.Passengers = append(r.Passengers, models.Passenger{
				RiderID:      in.id,
				Status:       models.PassengerPending,
				JoinedAt:     s.now().UTC(),
				InvitedBy:    driverID,
				Relationship: in.relation,
			})
			invited = append(invited, in.id)
		}
		return nil
	})
	if err != nil {
		return InviteResult{}, err
	}
	if invited == nil {
		invited = []string{}
	}
	if errs == nil {
		errs = []string{}
	}
	return InviteResult{Ride: ride, Invited: invited, Errors: errs}, nil
}

// resolveInvitees expands req into invitees in request order: explicit ids,
// then friend group members, then colleagues. Problems are per-invitee
// messages; err is only set when a lookup itself fails.
func (s *Service) resolveInvitees(ctx context.Context, driverID string, req InviteRequest) ([]invitee, []string, error) {
	driver, err := s.profile(ctx, driverID)
	if err != nil {
		return nil, nil, err
	}
	var members []models.Member
	if s.profiles != nil && strings.TrimSpace(driver.Workplace) != "" {
		if members, err = s.profiles.Members(ctx, driver.Workplace); err != nil {
			return nil, nil, fmt.Errorf("load members: %w", err)
		}
	}
	aff := social.Resolve(driver, members)

	var (
		out      []invitee
		problems []string
	)
	seen := make(map[string]struct{})
	add := func(in invitee) {
		if _, dup := seen[in.id]; dup {
			return
		}
		seen[in.id] = struct{}{}
		out = append(out, in)
	}

	for _, raw := range req.RiderIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		p, found, err := s.lookup(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			problems = append(problems, fmt.Sprintf("rider %s not found", id))
			continue
		}
		rel := models.RelationOther
		switch {
		case social.SameWorkplace(p.Workplace, aff.Workplace):
			rel = models.RelationColleague
		case aff.IsConnection(id):
			rel = models.RelationFriend
		}
		add(invitee{id: id, relation: rel, explicit: true})
	}

	if group := strings.TrimSpace(req.FriendGroup); group != "" {
		if !aff.InGroup(group) {
			problems = append(problems, fmt.Sprintf("friend group %q not found", group))
		} else {
			for _, id := range aff.FriendGroups[group] {
				_, found, err := s.lookup(ctx, id)
				if err != nil {
					return nil, nil, err
				}
				if found {
					add(invitee{id: id, relation: models.RelationFriend})
				}
			}
		}
	}

	if req.Colleagues {
		for _, id := range aff.ColleagueIDs() {
			add(invitee{id: id, relation: models.RelationColleague})
		}
	}
	return out, problems, nil
}

// profile treats an unknown rider as one with no relations.
func (s *Service) profile(ctx context.Context, riderID string) (models.RiderProfile, error) {
	p, found, err := s.lookup(ctx, riderID)
	if err != nil {
		return models.RiderProfile{}, err
	}
	if !found {
		return models.RiderProfile{ID: riderID}, nil
	}
	return p, nil
}

func (s *Service) lookup(ctx context.Context, riderID string) (models.RiderProfile, bool, error) {
	if s.profiles == nil {
		return models.RiderProfile{}, false, nil
	}
	p, err := s.profiles.Profile(ctx, riderID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.RiderProfile{}, false, nil
	}
	if err != nil {
		return models.RiderProfile{}, false, fmt.Errorf("load profile %s: %w", riderID, err)
	}
	return p, true, nil
}

package matcher

import (
	"sort"
	"strings"

	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/social"
)

// pick keeps the future, joinable offers of pool that satisfy keep, once per ride id.
func (e *Engine) pick(pool []models.RideOffer, riderID string, keep func(*models.RideOffer) bool) []models.RideOffer {
	now := e.now()
	out := make([]models.RideOffer, 0)
	seen := make(map[string]struct{})
	for i := range pool {
		r := &pool[i]
		if !admissible(r, riderID, now, true) {
			continue
		}
		if keep != nil && !keep(r) {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, *r)
	}
	return out
}

// Available returns every offer the rider could join right now.
func (e *Engine) Available(pool []models.RideOffer, rider models.RiderProfile) []models.RideOffer {
	return e.pick(pool, rider.ID, nil)
}

// ColleaguePool keeps offers whose driver works where the rider works.
func (e *Engine) ColleaguePool(pool []models.RideOffer, rider models.RiderProfile) []models.RideOffer {
	if strings.TrimSpace(rider.Workplace) == "" {
		return []models.RideOffer{}
	}
	return e.pick(pool, rider.ID, func(r *models.RideOffer) bool {
		return social.SameWorkplace(r.DriverWorkplace, rider.Workplace)
	})
}

// WorkplacePool keeps offers that start or end at the rider's workplace.
func (e *Engine) WorkplacePool(pool []models.RideOffer, rider models.RiderProfile) []models.RideOffer {
	w := strings.TrimSpace(rider.Workplace)
	if w == "" {
		return []models.RideOffer{}
	}
	return e.pick(pool, rider.ID, func(r *models.RideOffer) bool {
		return containsFold(r.PickupLabel, w) || containsFold(r.DropoffLabel, w)
	})
}

// FriendGroupPool keeps offers labelled with one of the rider's groups or driven
// by a member of one. A non-empty group narrows both checks to that group.
func (e *Engine) FriendGroupPool(pool []models.RideOffer, aff social.Affinity, group string) []models.RideOffer {
	if len(aff.FriendGroups) == 0 {
		return []models.RideOffer{}
	}
	if group != "" && !aff.InGroup(group) {
		return []models.RideOffer{}
	}
	return e.pick(pool, aff.RiderID, func(r *models.RideOffer) bool {
		if group != "" {
			return r.FriendGroup == group || aff.GroupMember(r.DriverID, group)
		}
		return aff.InGroup(r.FriendGroup) || aff.GroupMember(r.DriverID, "")
	})
}

// ConnectionsPool keeps offers driven by a connection or a colleague, plus offers
// labelled with one of the rider's groups, ordered by departure time.
func (e *Engine) ConnectionsPool(pool []models.RideOffer, aff social.Affinity) []models.RideOffer {
	out := e.pick(pool, aff.RiderID, func(r *models.RideOffer) bool {
		if aff.IsConnection(r.DriverID) || aff.InGroup(r.FriendGroup) {
			return true
		}
		return aff.Workplace != "" && (aff.IsColleague(r.DriverID) || social.SameWorkplace(r.DriverWorkplace, aff.Workplace))
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Departure.Before(out[j].Departure) })
	return out
}

// PrioritizeWorkplace orders candidates as colleague offers, then offers to or
// from the rider's workplace, then the rest. Each group keeps input order.
func PrioritizeWorkplace(candidates []models.RideOffer, rider models.RiderProfile) []models.RideOffer {
	w := strings.TrimSpace(rider.Workplace)
	out := make([]models.RideOffer, 0, len(candidates))
	if w == "" {
		return append(out, candidates...)
	}
	var workplace, rest []models.RideOffer
	for _, r := range candidates {
		switch {
		case social.SameWorkplace(r.DriverWorkplace, w):
			out = append(out, r)
		case containsFold(r.PickupLabel, w) || containsFold(r.DropoffLabel, w):
			workplace = append(workplace, r)
		default:
			rest = append(rest, r)
		}
	}
	out = append(out, workplace...)
	return append(out, rest...)
}

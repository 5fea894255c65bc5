// Package social derives a rider's colleague, connection and friend-group
// relations from profile and directory data.
package social

import (
	"sort"
	"strings"

	"github.com/example/carpool-matching/internal/models"
)

// Affinity is the one-hop social neighbourhood of a rider. The zero value is a
// valid, empty neighbourhood.
type Affinity struct {
	RiderID      string
	Workplace    string
	Colleagues   map[string]struct{}
	Connections  map[string]struct{}
	FriendGroups map[string][]string
}

// Resolve builds the affinity of rider. members is the directory snapshot used to
// find colleagues; the rider itself is never its own colleague.
func Resolve(rider models.RiderProfile, members []models.Member) Affinity {
	a := Affinity{
		RiderID:      rider.ID,
		Workplace:    strings.TrimSpace(rider.Workplace),
		Colleagues:   make(map[string]struct{}),
		Connections:  make(map[string]struct{}, len(rider.Connections)),
		FriendGroups: make(map[string][]string, len(rider.FriendGroups)),
	}
	if a.Workplace != "" {
		for _, m := range members {
			if m.ID == rider.ID {
				continue
			}
			if SameWorkplace(a.Workplace, m.Workplace) {
				a.Colleagues[m.ID] = struct{}{}
			}
		}
	}
	for _, id := range rider.Connections {
		if id != "" {
			a.Connections[id] = struct{}{}
		}
	}
	for label, ids := range rider.FriendGroups {
		a.FriendGroups[label] = append([]string(nil), ids...)
	}
	return a
}

// SameWorkplace compares two workplace labels case-insensitively; empty never matches.
func SameWorkplace(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && b != "" && strings.EqualFold(a, b)
}

func (a Affinity) IsColleague(id string) bool {
	_, ok := a.Colleagues[id]
	return ok
}

func (a Affinity) IsConnection(id string) bool {
	_, ok := a.Connections[id]
	return ok
}

// InGroup reports whether label is one of the rider's friend groups.
func (a Affinity) InGroup(label string) bool {
	if label == "" {
		return false
	}
	_, ok := a.FriendGroups[label]
	return ok
}

// GroupMember reports whether id is a member of the named group, or of any
// rider group when group is empty.
func (a Affinity) GroupMember(id, group string) bool {
	if group != "" {
		return contains(a.FriendGroups[group], id)
	}
	for _, ids := range a.FriendGroups {
		if contains(ids, id) {
			return true
		}
	}
	return false
}

// Groups returns the rider's group labels in sorted order.
func (a Affinity) Groups() []string {
	out := make([]string, 0, len(a.FriendGroups))
	for label := range a.FriendGroups {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// ColleagueIDs returns the colleague set in sorted order.
func (a Affinity) ColleagueIDs() []string { return sortedKeys(a.Colleagues) }

// ConnectionIDs returns the connection set in sorted order.
func (a Affinity) ConnectionIDs() []string { return sortedKeys(a.Connections) }

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

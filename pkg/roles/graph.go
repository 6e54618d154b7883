// Package roles holds the permitted custody flow between stakeholder roles.
package roles

import "github.com/Ramsey-B/clover/pkg/models"

// graph maps a sender role to the roles it may transfer custody to.
// Consumers and inspectors have no outgoing edges.
var graph = map[models.Role][]models.Role{
	models.RoleFarmer:      {models.RoleDistributor, models.RoleRetailer, models.RoleConsumer},
	models.RoleDistributor: {models.RoleRetailer, models.RoleConsumer},
	models.RoleRetailer:    {models.RoleConsumer},
}

// IsAllowed reports whether a holder with role from may transfer to role to.
func IsAllowed(from, to models.Role) bool {
	for _, r := range graph[from] {
		if r == to {
			return true
		}
	}
	return false
}

// Destinations returns the roles from may transfer to.
func Destinations(from models.Role) []models.Role {
	out := make([]models.Role, len(graph[from]))
	copy(out, graph[from])
	return out
}

package roles

import (
	"testing"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestIsAllowed(t *testing.T) {
	allowed := map[models.Role]map[models.Role]bool{
		models.RoleFarmer:      {models.RoleDistributor: true, models.RoleRetailer: true, models.RoleConsumer: true},
		models.RoleDistributor: {models.RoleRetailer: true, models.RoleConsumer: true},
		models.RoleRetailer:    {models.RoleConsumer: true},
	}

	for _, from := range models.Roles {
		for _, to := range models.Roles {
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				assert.Equal(t, allowed[from][to], IsAllowed(from, to))
			})
		}
	}
}

func TestIsAllowed_UnknownRole(t *testing.T) {
	assert.False(t, IsAllowed("WHOLESALER", models.RoleRetailer))
	assert.False(t, IsAllowed(models.RoleFarmer, "WHOLESALER"))
}

func TestDestinations_ReturnsCopy(t *testing.T) {
	dest := Destinations(models.RoleFarmer)
	assert.ElementsMatch(t, []models.Role{models.RoleDistributor, models.RoleRetailer, models.RoleConsumer}, dest)

	dest[0] = models.RoleInspector
	assert.False(t, IsAllowed(models.RoleFarmer, models.RoleInspector))
	assert.Empty(t, Destinations(models.RoleConsumer))
	assert.Empty(t, Destinations(models.RoleInspector))
}

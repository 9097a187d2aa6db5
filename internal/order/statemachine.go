package order

import (
	"fmt"
	"slices"

	"ms-restaurant/internal/models"
)

// transitionMatrix maps role -> target status -> statuses it may be entered from.
// A role/target pair missing here is an authorization failure; a present pair
// with the wrong source status is an invalid transition.
var transitionMatrix = map[models.Role]map[models.Status][]models.Status{
	models.RoleWaiter: {
		models.StatusDelivered: {models.StatusReady},
		models.StatusCancelled: {models.StatusNew, models.StatusAccepted},
	},
	models.RoleCook: {
		models.StatusAccepted:  {models.StatusNew},
		models.StatusPreparing: {models.StatusNew, models.StatusAccepted},
		models.StatusReady:     {models.StatusNew, models.StatusAccepted, models.StatusPreparing},
		models.StatusCancelled: {models.StatusNew, models.StatusAccepted, models.StatusPreparing, models.StatusReady},
	},
}

// toggleableStatuses are the order statuses in which item readiness may change.
var toggleableStatuses = []models.Status{models.StatusNew, models.StatusAccepted, models.StatusPreparing}

// authorizeTransition checks the role matrix and order ownership.
func authorizeTransition(actor models.Actor, o *models.Order, target models.Status) error {
	targets, ok := transitionMatrix[actor.Role.Group()]
	if !ok {
		return fmt.Errorf("%w: role %q cannot change order status", ErrForbidden, actor.Role)
	}
	if _, ok := targets[target]; !ok {
		return fmt.Errorf("%w: role %q cannot move an order to %q", ErrForbidden, actor.Role, target)
	}
	if actor.Role == models.RoleWaiter && o.WaiterID != actor.UserID {
		return fmt.Errorf("%w: order %s belongs to another waiter", ErrForbidden, o.ID)
	}
	return nil
}

// validateTransition assumes authorizeTransition passed and target differs from
// the current status.
func validateTransition(actor models.Actor, o *models.Order, target models.Status) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.ID, o.Status)
	}
	from := transitionMatrix[actor.Role.Group()][target]
	if !slices.Contains(from, o.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
	}
	if target == models.StatusReady && !o.AllItemsReady() {
		return ErrItemsNotReady
	}
	return nil
}

func authorizeItemToggle(actor models.Actor) error {
	if actor.Role != models.RoleCook {
		return fmt.Errorf("%w: only cooks mark items ready", ErrForbidden)
	}
	return nil
}

func validateItemToggle(o *models.Order) error {
	if !slices.Contains(toggleableStatuses, o.Status) {
		return fmt.Errorf("%w: items of a %s order cannot change", ErrInvalidTransition, o.Status)
	}
	return nil
}

func authorizePayment(actor models.Actor) error {
	if !actor.Role.IsAdmin() {
		return fmt.Errorf("%w: only admins mark orders paid", ErrForbidden)
	}
	return nil
}

func authorizeCreate(actor models.Actor) error {
	if actor.Role != models.RoleWaiter {
		return fmt.Errorf("%w: only waiters create orders", ErrForbidden)
	}
	return nil
}

// AllowedTargets lists the statuses an actor could move the order to right now.
// Clients use it to decide which buttons to show.
func AllowedTargets(actor models.Actor, o *models.Order) []models.Status {
	var out []models.Status
	for _, target := range models.AllStatuses {
		if target == o.Status {
			continue
		}
		if authorizeTransition(actor, o, target) != nil {
			continue
		}
		if validateTransition(actor, o, target) != nil {
			continue
		}
		out = append(out, target)
	}
	return out
}

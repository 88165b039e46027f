package tracking

import (
	"context"

	"orderhub/internal/apperr"
	"orderhub/internal/auth"
	"orderhub/internal/model"
)

// OrderFinder is the slice of store.Store the authorizer needs.
type OrderFinder interface {
	FindOrder(ctx context.Context, orderID string) (*model.OrderSnapshot, error)
}

// StoreAuthorizer allows admins and operators of the order's tenant, and
// branch principals of the order's branch.
type StoreAuthorizer struct {
	Orders OrderFinder
}

func (a StoreAuthorizer) Authorize(ctx context.Context, orderID string, p auth.Principal) (model.OrderSnapshot, error) {
	const op = "tracking.authorize"
	snap, err := a.Orders.FindOrder(ctx, orderID)
	if err != nil {
		return model.OrderSnapshot{}, apperr.E(apperr.KindPersistenceUnavailable, op, err)
	}
	if snap == nil {
		return model.OrderSnapshot{}, apperr.Errorf(apperr.KindNotFound, op, "order %s", orderID)
	}
	if snap.TenantID != p.TenantID {
		return model.OrderSnapshot{}, apperr.Errorf(apperr.KindForbidden, op, "order %s", orderID)
	}
	if p.Privileged() || (p.Role == auth.RoleBranch && p.BranchID != "" && p.BranchID == snap.BranchID) {
		return *snap, nil
	}
	return model.OrderSnapshot{}, apperr.Errorf(apperr.KindForbidden, op, "order %s", orderID)
}

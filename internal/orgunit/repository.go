package orgunit

import (
	"context"
)

// Repository defines persistence for org units.
type Repository interface {
	Get(ctx context.Context, typ Type, name string) (*OrgUnit, error)
	Create(ctx context.Context, ou OrgUnit) error
	Update(ctx context.Context, ou OrgUnit) error
	Delete(ctx context.Context, typ Type, name string) error
	Search(ctx context.Context, typ Type, substring string) ([]OrgUnit, error)
}

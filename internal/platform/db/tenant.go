package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/medbridge/pkg/apperror"
)

// PartitionResolver maps a tenant to its partition.
type PartitionResolver interface {
	ResolvePartition(ctx context.Context, tenantID uuid.UUID) (Partition, error)
}

// TenantMiddleware resolves the authenticated caller's tenant to its
// partition on every request and stores both in the request context. The
// tenant only ever comes from the verified token claim.
func TenantMiddleware(resolver PartitionResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, _ := c.Get("jwt_tenant_id").(string)
			if raw == "" {
				return apperror.Unauthorized("missing tenant in credentials")
			}
			tenantID, err := uuid.Parse(raw)
			if err != nil {
				return apperror.Validation("invalid tenant identifier")
			}

			ctx := c.Request().Context()
			partition, err := resolver.ResolvePartition(ctx, tenantID)
			if err != nil {
				return err
			}

			ctx = WithPartition(ctx, partition)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID.String())
			c.Set("partition", partition.String())

			return next(c)
		}
	}
}

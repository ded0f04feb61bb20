package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/auth"
	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/monitor"
)

// ClearCaches drops the caller organization's cache entries. With all set
// every entry is dropped, which needs the admin permission.
func (s *Service) ClearCaches(ctx context.Context, rc RequestContext, all bool) Response[int] {
	return execute(ctx, s, rc, OpClearCaches, func(_ context.Context, resp *Response[int]) error {
		if err := s.authorize(rc, OpClearCaches, rc.User.OrganizationID); err != nil {
			return err
		}

		if all {
			if !rc.User.HasPermission(auth.PermAdmin) {
				return common.NewError(common.CodePermission, "clearing every cache entry needs admin", common.ErrPermissionDenied)
			}
			resp.Data = s.cache.InvalidateAll()
		} else {
			resp.Data = s.cache.Invalidate(cache.OrgPattern(rc.User.OrganizationID))
		}

		s.logger.Info("Cleared cache",
			"organization_id", rc.User.OrganizationID,
			"all", all,
			"removed", resp.Data)
		return nil
	})
}

// GetCacheStats reports cache activity.
func (s *Service) GetCacheStats(ctx context.Context, rc RequestContext) Response[cache.Stats] {
	return execute(ctx, s, rc, OpGetCacheStats, func(_ context.Context, resp *Response[cache.Stats]) error {
		if err := s.authorize(rc, OpGetCacheStats, rc.User.OrganizationID); err != nil {
			return err
		}
		resp.Data = s.cache.Stats()
		return nil
	})
}

// PerformanceMetrics is the monitor's view of recent operations.
type PerformanceMetrics struct {
	Overall    monitor.Stats   `json:"overall"`
	Operations []monitor.Stats `json:"operations"`
}

// GetPerformanceMetrics reports operation timings, optionally for a single
// operation.
func (s *Service) GetPerformanceMetrics(ctx context.Context, rc RequestContext, operation string) Response[*PerformanceMetrics] {
	return execute(ctx, s, rc, OpGetPerformanceMetrics, func(_ context.Context, resp *Response[*PerformanceMetrics]) error {
		if err := s.authorize(rc, OpGetPerformanceMetrics, rc.User.OrganizationID); err != nil {
			return err
		}

		metrics := &PerformanceMetrics{Overall: s.monitor.Stats(operation)}
		if operation == "" {
			metrics.Operations = s.monitor.Operations()
		} else {
			metrics.Operations = []monitor.Stats{metrics.Overall}
		}
		resp.Data = metrics
		resp.Metadata.Total = metrics.Overall.Count
		return nil
	})
}

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health describes the service's dependencies.
type Health struct {
	CheckedAt time.Time      `json:"checked_at"`
	Tables    map[string]int `json:"tables,omitempty"`
	Status    string         `json:"status"`
	Database  string         `json:"database"`
	Cache     cache.Stats    `json:"cache"`
}

type tableCounter interface {
	TableCounts(ctx context.Context) (map[string]int, error)
}

// HealthCheck pings the repository. It needs no identity.
func (s *Service) HealthCheck(ctx context.Context) Response[*Health] {
	return execute(ctx, s, RequestContext{}, OpHealthCheck, func(ctx context.Context, resp *Response[*Health]) error {
		health := &Health{
			CheckedAt: time.Now().UTC(),
			Status:    StatusHealthy,
			Database:  StatusHealthy,
			Cache:     s.cache.Stats(),
		}
		resp.Data = health

		if err := s.repo.Ping(ctx); err != nil {
			health.Status = StatusUnhealthy
			health.Database = StatusUnhealthy
			return common.NewError(common.CodeDatabase, "database unreachable",
				fmt.Errorf("%w: %w", common.ErrDatabase, err))
		}

		if counter, ok := s.repo.(tableCounter); ok {
			tables, err := counter.TableCounts(ctx)
			if err != nil {
				resp.Warnings = append(resp.Warnings, fmt.Sprintf("table counts unavailable: %v", err))
			} else {
				health.Tables = tables
			}
		}
		return nil
	})
}

// Package app is the public facade of the reconciliation engine. Every
// operation checks permissions before side effects, is timed by the
// performance monitor and returns a uniform Response envelope instead of an
// error.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/analytics"
	"github.com/Veraticus/the-books-must-balance/internal/auth"
	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/importer"
	"github.com/Veraticus/the-books-must-balance/internal/matching"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/monitor"
	"github.com/Veraticus/the-books-must-balance/internal/reconcile"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// ImportDefaults are applied when an import request leaves a flag unset.
type ImportDefaults struct {
	DuplicateDetection bool
	SkipDuplicates     bool
	AutoCategorize     bool
}

// Options configure a Service.
type Options struct {
	Cache          *cache.Cache
	Monitor        *monitor.Monitor
	Reconciliation model.ReconciliationOptions
	Import         ImportDefaults
	Workers        int
}

// DefaultOptions returns the defaults used when none are configured.
func DefaultOptions() Options {
	return Options{
		Reconciliation: model.ReconciliationOptions{
			ConfidenceThreshold: 0.8,
			AmountTolerance:     model.MaxAmountTolerance,
			DateTolerance:       model.MaxDateTolerance,
			BatchSize:           100,
		},
		Import: ImportDefaults{
			DuplicateDetection: true,
			AutoCategorize:     true,
		},
		Workers: 4,
	}
}

// Service implements the public operations. Construct one per process and
// pass it to the transports that need it.
type Service struct {
	repo         service.Repository
	importer     *importer.Pipeline
	orchestrator *reconcile.Orchestrator
	analytics    *analytics.Generator
	matcher      *matching.Engine
	cache        *cache.Cache
	monitor      *monitor.Monitor
	logger       *slog.Logger
	defaults     model.ReconciliationOptions
	imports      ImportDefaults
}

// New wires a Service over repo.
func New(repo service.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.DefaultConfig())
	}
	if opts.Monitor == nil {
		opts.Monitor = monitor.New(monitor.DefaultCapacity)
	}

	return &Service{
		repo:     repo,
		importer: importer.NewPipeline(repo),
		orchestrator: reconcile.NewOrchestrator(repo,
			reconcile.WithCache(opts.Cache),
			reconcile.WithWorkers(opts.Workers)),
		analytics: analytics.NewGenerator(repo, opts.Cache),
		matcher:   matching.NewEngine(),
		cache:     opts.Cache,
		monitor:   opts.Monitor,
		logger:    slog.Default().With("component", "app"),
		defaults:  opts.Reconciliation,
		imports:   opts.Import,
	}
}

// Cache returns the service cache.
func (s *Service) Cache() *cache.Cache {
	return s.cache
}

// Monitor returns the service performance monitor.
func (s *Service) Monitor() *monitor.Monitor {
	return s.monitor
}

// execute runs fn as op. Errors and panics become envelope errors and every
// call is recorded by the monitor.
func execute[T any](ctx context.Context, s *Service, rc RequestContext, op Operation, fn func(ctx context.Context, resp *Response[T]) error) Response[T] {
	resp := Response[T]{
		Metadata: &Metadata{Operation: op, RequestID: rc.RequestID},
		Errors:   []ErrorDetail{},
		Warnings: []string{},
	}

	start := time.Now()
	err := s.monitor.Track(ctx, string(op), func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Recovered panic in operation",
					"operation", op,
					"request_id", rc.RequestID,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()))
				err = common.NewError(common.CodeProcessing,
					fmt.Sprintf("unexpected failure in %s", op), common.ErrProcessing)
			}
		}()
		return fn(ctx, &resp)
	})
	resp.Metadata.Duration = time.Since(start)

	if err != nil {
		resp.Success = false
		resp.Errors = append(resp.Errors, detailOf(err))
		s.logOutcome(op, rc, err)
		return resp
	}

	resp.Success = true
	return resp
}

func (s *Service) logOutcome(op Operation, rc RequestContext, err error) {
	code := common.CodeOf(err)
	switch code {
	case common.CodeValidation, common.CodePermission, common.CodeNotFound, common.CodeDuplicate:
		s.logger.Info("Operation rejected",
			"operation", op,
			"request_id", rc.RequestID,
			"code", code,
			"error", err)
	default:
		common.LogError(err, "Operation failed", common.Fields{
			"operation":  op,
			"request_id": rc.RequestID,
			"code":       code,
		})
	}
}

// authorize checks rc against op for orgID.
func (s *Service) authorize(rc RequestContext, op Operation, orgID string) error {
	access, ok := operationAccess[op]
	if !ok {
		return nil
	}
	user := rc.User
	return auth.Check(&user, access, orgID)
}

// cached returns the value under key, loading and storing it on a miss. A
// cached value of the wrong type is treated as a miss.
func cached[T any](s *Service, key string, entity cache.Entity, load func() (T, error)) (T, bool, error) {
	if v, ok := s.cache.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, true, nil
		}
		common.LogWarn("Discarding cache entry of unexpected type", common.Fields{
			"key":  key,
			"type": fmt.Sprintf("%T", v),
		})
	}

	value, err := load()
	if err != nil {
		var zero T
		return zero, false, err
	}
	s.cache.Set(key, value, s.cache.TTL(entity))
	return value, false, nil
}

// orgOf resolves the organization a request targets, defaulting to the
// caller's.
func orgOf(rc RequestContext, orgID string) string {
	if orgID != "" {
		return orgID
	}
	return rc.User.OrganizationID
}

func (s *Service) invalidateEntities(orgID string, entities ...cache.Entity) {
	for _, entity := range entities {
		s.cache.Invalidate(cache.EntityPattern(entity, orgID))
	}
}

package app

import (
	"context"
	"fmt"

	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/importer"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// ImportRequest asks for one statement import. Nil flags take the service
// defaults.
type ImportRequest struct {
	Data               *model.StatementData  `json:"statement"`
	Progress           func(done, total int) `json:"-"`
	DuplicateDetection *bool                 `json:"duplicate_detection,omitempty"`
	SkipDuplicates     *bool                 `json:"skip_duplicates,omitempty"`
	AutoCategorize     *bool                 `json:"auto_categorize,omitempty"`
	AccountID          string                `json:"account_id"`
	Source             model.StatementSource `json:"source,omitempty"`
}

// ImportBankStatement imports a statement into an account of the caller's
// organization.
func (s *Service) ImportBankStatement(ctx context.Context, rc RequestContext, req ImportRequest) Response[*importer.Result] {
	return execute(ctx, s, rc, OpImportBankStatement, func(ctx context.Context, resp *Response[*importer.Result]) error {
		if err := s.authorize(rc, OpImportBankStatement, ""); err != nil {
			return err
		}
		if req.AccountID == "" {
			return common.NewFieldError("account_id", "is required")
		}

		account, err := s.repo.GetAccount(ctx, req.AccountID)
		if err != nil {
			return fmt.Errorf("failed to get account: %w", err)
		}
		if err := s.authorize(rc, OpImportBankStatement, account.OrganizationID); err != nil {
			return err
		}

		opts := importer.Options{
			Progress:           req.Progress,
			ImportedBy:         rc.User.ID,
			Source:             req.Source,
			DuplicateDetection: flag(req.DuplicateDetection, s.imports.DuplicateDetection),
			SkipDuplicates:     flag(req.SkipDuplicates, s.imports.SkipDuplicates),
			AutoCategorize:     flag(req.AutoCategorize, s.imports.AutoCategorize),
		}

		result, err := s.importer.Import(ctx, account.ID, req.Data, opts)
		if err != nil {
			return err
		}

		if !result.Duplicate {
			s.cache.Invalidate(cache.ScopePattern(account.ID))
			s.invalidateEntities(account.OrganizationID, cache.EntityStatements, cache.EntityTransactions)
		}

		resp.Data = result
		resp.Warnings = append(resp.Warnings, result.Warnings...)
		resp.Metadata.Total = result.Statement.TransactionCount
		return nil
	})
}

func flag(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/cache"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Listing limits.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// CreateBankAccount registers an account. The organization defaults to the
// caller's.
func (s *Service) CreateBankAccount(ctx context.Context, rc RequestContext, account model.BankAccount) Response[*model.BankAccount] {
	return execute(ctx, s, rc, OpCreateBankAccount, func(ctx context.Context, resp *Response[*model.BankAccount]) error {
		account.OrganizationID = orgOf(rc, account.OrganizationID)
		if err := s.authorize(rc, OpCreateBankAccount, account.OrganizationID); err != nil {
			return err
		}
		if err := validateAccount(&account); err != nil {
			return err
		}

		account.Currency = strings.ToUpper(account.Currency)
		if err := s.repo.CreateAccount(ctx, &account); err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		s.invalidateEntities(account.OrganizationID, cache.EntityAccounts)

		s.logger.Info("Created bank account",
			"account_id", account.ID,
			"organization_id", account.OrganizationID)
		resp.Data = &account
		return nil
	})
}

func validateAccount(account *model.BankAccount) error {
	switch {
	case strings.TrimSpace(account.Name) == "":
		return common.NewFieldError("name", "is required")
	case len(account.Currency) != 3:
		return common.NewFieldError("currency", "must be a 3-letter code")
	case strings.TrimSpace(account.LedgerAccountID) == "":
		return common.NewFieldError("ledger_account_id", "is required")
	}
	return nil
}

// GetBankAccount returns one account of the caller's organization.
func (s *Service) GetBankAccount(ctx context.Context, rc RequestContext, id string) Response[*model.BankAccount] {
	return execute(ctx, s, rc, OpGetBankAccount, func(ctx context.Context, resp *Response[*model.BankAccount]) error {
		if err := s.authorize(rc, OpGetBankAccount, ""); err != nil {
			return err
		}
		if strings.TrimSpace(id) == "" {
			return common.NewFieldError("id", "is required")
		}

		org := rc.User.OrganizationID
		account, hit, err := cached(s, cache.Key(cache.EntityAccounts, org, id, nil), cache.EntityAccounts,
			func() (*model.BankAccount, error) {
				account, err := s.repo.GetAccount(ctx, id)
				if err != nil {
					return nil, fmt.Errorf("failed to get account: %w", err)
				}
				if err := s.authorize(rc, OpGetBankAccount, account.OrganizationID); err != nil {
					return nil, err
				}
				return account, nil
			})
		if err != nil {
			return err
		}

		resp.Metadata.CacheHit = hit
		resp.Data = account
		return nil
	})
}

// ListBankAccounts lists accounts matching filter within the caller's
// organization.
func (s *Service) ListBankAccounts(ctx context.Context, rc RequestContext, filter model.AccountFilter) Response[[]model.BankAccount] {
	return execute(ctx, s, rc, OpListBankAccounts, func(ctx context.Context, resp *Response[[]model.BankAccount]) error {
		filter.OrganizationID = orgOf(rc, filter.OrganizationID)
		if err := s.authorize(rc, OpListBankAccounts, filter.OrganizationID); err != nil {
			return err
		}
		limit, err := pageSize(filter.Limit, filter.Offset)
		if err != nil {
			return err
		}
		filter.Limit = limit

		accounts, hit, err := cached(s, cache.Key(cache.EntityAccounts, filter.OrganizationID, "list", filter), cache.EntityAccounts,
			func() ([]model.BankAccount, error) {
				accounts, err := s.repo.ListAccounts(ctx, filter)
				if err != nil {
					return nil, fmt.Errorf("failed to list accounts: %w", err)
				}
				if accounts == nil {
					accounts = []model.BankAccount{}
				}
				return accounts, nil
			})
		if err != nil {
			return err
		}

		resp.Metadata.CacheHit = hit
		resp.Metadata.Total = len(accounts)
		resp.Data = accounts
		return nil
	})
}

func pageSize(limit, offset int) (int, error) {
	if offset < 0 {
		return 0, common.NewFieldError("offset", "must not be negative")
	}
	switch {
	case limit < 0:
		return 0, common.NewFieldError("limit", "must not be negative")
	case limit == 0:
		return DefaultPageSize, nil
	case limit > MaxPageSize:
		return 0, common.NewFieldError("limit", fmt.Sprintf("must be at most %d", MaxPageSize))
	}
	return limit, nil
}

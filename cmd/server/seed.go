package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/chat-relay/internal/config"
	"github.com/fairyhunter13/chat-relay/internal/domain"
	"github.com/fairyhunter13/chat-relay/internal/usecase"
)

// seedAccounts merges the seed file into the account roster. Accounts already
// registered keep their stored credentials and tokens.
func seedAccounts(ctx domain.Context, accounts *usecase.AccountService, path string) error {
	seeds, err := config.LoadAccountsSeed(path)
	if err != nil {
		return fmt.Errorf("load seed: %w", err)
	}
	added := 0
	for _, s := range seeds {
		if err := accounts.AddAccount(ctx, s.Email, s.Password); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				continue
			}
			return fmt.Errorf("seed account %s: %w", s.Email, err)
		}
		added++
	}
	slog.Info("accounts seeded", slog.Int("total", len(seeds)), slog.Int("added", added))
	return nil
}

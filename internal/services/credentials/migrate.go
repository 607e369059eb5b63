package credentials

import (
	"context"
	"fmt"

	"github.com/ternarybob/gramflow/internal/models"
)

// Migrate rewrites every legacy record into the current format. It never overwrites an
// existing current record, and only deletes a legacy key when retirement is enabled and
// the current record reads back with the same tokens.
func (s *Service) Migrate(ctx context.Context) (*models.MigrationReport, error) {
	accounts, err := s.storage.ListLegacyAccounts(ctx)
	if err != nil {
		return nil, err
	}

	report := &models.MigrationReport{}
	for _, accountID := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		if err := s.migrateAccount(ctx, accountID, report); err != nil {
			report.Failed = append(report.Failed, accountID)
			s.logger.Warn().Err(err).Str("account_id", accountID).Msg("Credential migration failed - legacy key kept")
		}
	}

	s.logger.Info().
		Int("scanned", report.Scanned).
		Int("migrated", report.Migrated).
		Int("already_current", report.AlreadyCurrent).
		Int("retired", report.Retired).
		Int("skipped", report.Skipped).
		Int("failed", len(report.Failed)).
		Msg("Credential migration complete")

	return report, nil
}

func (s *Service) migrateAccount(ctx context.Context, accountID string, report *models.MigrationReport) error {
	legacy, err := s.storage.GetLegacy(ctx, accountID)
	if err != nil {
		return err
	}

	set := models.CredentialSetFromLegacy(accountID, legacy)
	if err := set.Validate(); err != nil {
		// Undecodable records stay where they are for manual inspection
		report.Skipped++
		s.logger.Warn().Err(err).Str("account_id", accountID).Msg("Legacy credential record is incomplete - not migrated")
		return nil
	}
	set.FormatVersion = models.CredentialFormatCurrent
	set.CapturedAt = s.now()

	written, err := s.storage.WriteMigrated(ctx, set)
	if err != nil {
		return err
	}
	if written {
		report.Migrated++
	} else {
		report.AlreadyCurrent++
	}

	if !s.retireLegacyKeys {
		return nil
	}

	current, err := s.storage.GetCurrent(ctx, accountID)
	if err != nil {
		return fmt.Errorf("verify migrated record: %w", err)
	}
	if !sameTokens(current, legacy) {
		return fmt.Errorf("verify migrated record: current tokens differ from legacy record")
	}

	if err := s.storage.DeleteLegacy(ctx, accountID); err != nil {
		return fmt.Errorf("retire legacy key: %w", err)
	}
	report.Retired++
	return nil
}

func sameTokens(current *models.CredentialSet, legacy models.LegacyCredentialRecord) bool {
	wire := legacy.ToWire()
	return current.SessionID == wire.SessionID &&
		current.CSRFToken == wire.CSRFToken &&
		current.DSUserID == wire.DSUserID &&
		current.IGDID == wire.IGDID &&
		current.MID == wire.MID &&
		current.RUR == wire.RUR
}

package keycloak

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/idbridge/domain"
)

// Migrator implements the delete-and-recreate protocol for renaming a
// directory account. Keycloak refuses in-place username changes for
// directory-managed accounts, and its unique email constraint forces the old
// account to vacate the email before the replacement can claim it, hence
// delete-before-create.
//
// The protocol is not transactional: a crash between delete and re-link
// leaves the old account gone and the new one possibly missing federated
// links. Every intermediate step is logged with the ids and pending links
// needed for repair, and re-running a completed migration is a no-op.
type Migrator struct {
	directory *Directory
}

// NewMigrator creates a Migrator over the given directory adapter.
func NewMigrator(directory *Directory) *Migrator {
	return &Migrator{directory: directory}
}

// MigrateUsername renames the account identified by oldID to newUsername and
// returns the id of the replacement account. The caller must update every
// stored reference to oldID with the returned id. Accounts migrated this way
// carry no password credential; they authenticate through their re-linked
// federated identities.
func (m *Migrator) MigrateUsername(ctx context.Context, oldID, newUsername string) (string, error) {
	user, err := m.directory.GetUserByID(ctx, oldID)
	if err != nil {
		return "", fmt.Errorf("loading user %s: %w", oldID, err)
	}
	if user == nil {
		return "", domain.ErrUserNotFound
	}

	if user.Username == newUsername {
		log.Debug().Str("id", oldID).Str("username", newUsername).Msg("Username already matches, migration skipped")
		return oldID, nil
	}

	taken, err := m.directory.GetUserByUsername(ctx, newUsername)
	if err != nil {
		return "", fmt.Errorf("checking username %q: %w", newUsername, err)
	}
	if taken != nil && taken.ID != oldID {
		return "", domain.ErrUsernameConflict
	}

	links := m.directory.FederatedIdentities(ctx, oldID)

	log.Info().
		Str("old_id", oldID).
		Str("old_username", user.Username).
		Str("new_username", newUsername).
		Int("federated_identities", len(links)).
		Msg("Starting username migration")

	if err := m.directory.DeleteUser(ctx, oldID); err != nil {
		return "", fmt.Errorf("deleting user %s: %w", oldID, err)
	}

	// The old account is gone. From here the protocol must run to
	// completion even if the caller's context is cancelled, or the account
	// would stay deleted with no replacement.
	ctx = context.WithoutCancel(ctx)

	newID, err := m.directory.CreateUser(ctx, newUsername, user.Email, user.FirstName, user.LastName, user.Attributes, "")
	if err != nil {
		log.Error().Err(err).
			Str("old_id", oldID).
			Str("email", user.Email).
			Str("new_username", newUsername).
			Interface("pending_federated_identities", links).
			Msg("Username migration failed after delete; account must be recreated manually")
		return "", fmt.Errorf("recreating user %q: %w", newUsername, err)
	}

	for i, link := range links {
		if err := m.directory.LinkIdentity(ctx, newID, link.Provider, link.UserID, link.Username); err != nil {
			// Re-linking is idempotent per provider and can be retried
			// independently; never roll back the migration for it.
			log.Error().Err(err).
				Str("old_id", oldID).
				Str("new_id", newID).
				Str("provider", link.Provider).
				Interface("pending_federated_identities", links[i:]).
				Msg("Failed to re-link federated identity after migration")
		}
	}

	log.Info().
		Str("old_id", oldID).
		Str("new_id", newID).
		Str("new_username", newUsername).
		Msg("Username migration completed")

	return newID, nil
}

package auth

import (
	"fmt"
	"go-wiki-engine/internal/logger"

	"github.com/casbin/casbin/v2"
)

// SeedDefaultPolicies ensures that the application has a baseline set of authorization rules.
// It checks if each default policy exists before adding it, making the operation idempotent
// and safe to run on every application start.
func SeedDefaultPolicies(e casbin.IEnforcer, log logger.Logger) {
	log.Info("Seeding default authorization policies...")

	// Default capability grants. Editors submit content for approval;
	// publishers land edits live; approvers work the approval queue;
	// managers additionally move, delete and manage folders.
	policies := [][]string{
		// Everyone can read pages in any locale.
		{"reader", CapReadPages, "*/*"},

		// Editors can write pages (their edits become pending proposals).
		{"editor", CapWritePages, "*/*"},

		// Publishers can write and publish directly.
		{"publisher", CapPublishPages, "*/*"},
		{"publisher", CapWriteStyles, "*/*"},
		{"publisher", CapWriteScripts, "*/*"},

		// Approvers review and decide on pending proposals.
		{"approver", CapApprovePages, "*/*"},

		// Managers hold structural powers: move, delete, folders.
		{"manager", CapManagePages, "*/*"},
		{"manager", CapDeletePages, "*/*"},
	}
	for _, p := range policies {
		if has, _ := e.HasPolicy(p); !has {
			if _, err := e.AddPolicy(p); err != nil {
				log.Error(err, fmt.Sprintf("Failed to add policy %v", p))
			}
		}
	}

	// Role inheritance: editors inherit reader, publishers and approvers
	// inherit editor, managers inherit both publisher and approver.
	roles := [][2]string{
		{"editor", "reader"},
		{"publisher", "editor"},
		{"approver", "editor"},
		{"manager", "publisher"},
		{"manager", "approver"},
	}
	for _, pair := range roles {
		if has, _ := e.HasRoleForUser(pair[0], pair[1]); !has {
			if _, err := e.AddRoleForUser(pair[0], pair[1]); err != nil {
				log.Error(err, fmt.Sprintf("Failed to add role %s -> %s", pair[0], pair[1]))
			}
		}
	}
	log.Info("Policy seeding complete.")
}

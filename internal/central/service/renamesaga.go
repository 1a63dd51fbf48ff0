package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfederation/centralid/internal/central/domain"
	"github.com/openfederation/centralid/internal/central/jobs"
	"github.com/openfederation/centralid/internal/central/sites"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/pkg/cryptox"
	"github.com/openfederation/centralid/pkg/slogx"
)

// RenameOptions carries the per-rename flags forwarded into every site
// task.
type RenameOptions struct {
	MovePages         bool
	SuppressRedirects bool
}

// RenameOrchestrator executes approved renames. The global record update
// is the success criterion; per-site tasks are independent, idempotent,
// and asynchronous, with failures surfaced through the dispatcher for
// operator retry.
type RenameOrchestrator struct {
	Store      store.Store
	Identity   *IdentityService
	Dispatcher jobs.Dispatcher
	Connector  sites.Connector
	Audit      *AuditService
}

// RenameGlobal retargets an existing global identity's name across every
// attached site. It returns after committing the global update, seeding
// the progress rows, and dispatching the per-site tasks; site completion
// is eventually observable through each Attachment row.
func (o *RenameOrchestrator) RenameGlobal(ctx context.Context, oldName, newName, performer, reason string, opts RenameOptions) error {
	log := slogx.FromContext(ctx)

	oldName = domain.CanonicalizeName(oldName)
	newName = domain.CanonicalizeName(newName)
	if !domain.ValidName(newName) {
		return ErrInvalidName
	}

	g, err := o.Identity.Lookup(ctx, oldName, store.Primary)
	if err != nil {
		return err
	}

	// The target name must be free centrally.
	if _, err := o.Identity.Lookup(ctx, newName, store.Primary); err == nil {
		return fmt.Errorf("%w: target name already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	attachments, err := o.Store.Attachments().ListByIdentity(ctx, g.ID)
	if err != nil {
		return err
	}

	// One transaction covers the global side: the rename record, the
	// attachment rows, and the progress rows that gate concurrent reads.
	progress := make([]domain.RenameProgress, 0, len(attachments))
	for _, a := range attachments {
		progress = append(progress, domain.RenameProgress{
			OldName: oldName,
			NewName: newName,
			SiteID:  a.SiteID,
			State:   domain.RenameQueued,
		})
	}

	err = o.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RenameProgress().Seed(ctx, progress); err != nil {
			return err
		}
		if err := tx.Identities().UpdateName(ctx, g.ID, newName); err != nil {
			return err
		}
		return tx.Attachments().UpdateNames(ctx, g.ID, newName)
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("%w: target name already registered", ErrConflict)
		}
		return err
	}

	// Dispatch after commit. A site task failure never aborts the rest;
	// the dispatcher keeps failed tasks for retry.
	for _, a := range attachments {
		task := domain.RenameTask{
			From:              oldName,
			To:                newName,
			Performer:         performer,
			MovePages:         opts.MovePages,
			SuppressRedirects: opts.SuppressRedirects,
			Site:              a.SiteID,
			Reason:            reason,
		}
		if _, err := o.Dispatcher.Submit(ctx, a.SiteID, task); err != nil {
			log.Error("rename task dispatch failed",
				"site", a.SiteID, "from", oldName, "to", newName, "err", err)
		}
	}

	if o.Audit != nil {
		_ = o.Audit.Rename(ctx, performer, oldName, newName, reason,
			opts.MovePages, opts.SuppressRedirects)
	}

	log.Info("global rename committed",
		"from", oldName, "to", newName, "sites", len(attachments))
	return nil
}

// PromoteLocal renames a single site's local-only account and promotes
// it into a newly attached global identity scoped to just that site.
func (o *RenameOrchestrator) PromoteLocal(ctx context.Context, siteID, oldName, newName, performer, reason string, opts RenameOptions) error {
	log := slogx.FromContext(ctx)

	oldName = domain.CanonicalizeName(oldName)
	newName = domain.CanonicalizeName(newName)
	if !domain.ValidName(newName) {
		return ErrInvalidName
	}

	ls, err := o.Connector.Connect(ctx, siteID)
	if err != nil {
		return err
	}
	local, err := ls.GetAccount(ctx, oldName)
	if err != nil {
		if errors.Is(err, sites.ErrAccountNotFound) {
			return ErrNotFound
		}
		return err
	}

	if _, err := o.Identity.Lookup(ctx, newName, store.Primary); err == nil {
		return fmt.Errorf("%w: target name already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	// Promote: fresh global identity carrying the local credential,
	// attached to the one site under the new name.
	authToken, err := cryptox.GenerateHex(cryptox.TokenSize128)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	g := domain.GlobalIdentity{
		Name:          newName,
		PasswordHash:  local.PasswordHash,
		Email:         local.Email,
		EmailVerified: local.EmailVerified,
		Hidden:        domain.HiddenNone,
		AuthToken:     authToken,
		RegisteredAt:  now,
		UpdatedAt:     now,
	}

	var id int64
	err = o.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RenameProgress().Seed(ctx, []domain.RenameProgress{{
			OldName: oldName,
			NewName: newName,
			SiteID:  siteID,
			State:   domain.RenameQueued,
		}}); err != nil {
			return err
		}

		var err error
		id, err = tx.Identities().Create(ctx, g)
		if err != nil {
			return err
		}

		_, err = tx.Attachments().Attach(ctx, domain.Attachment{
			IdentityID:  id,
			SiteID:      siteID,
			Name:        newName,
			Method:      domain.AttachPrimary,
			AttachedAt:  now,
			EditCount:   local.EditCount,
			Blocked:     local.Blocked,
			LocalGroups: local.Groups,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("%w: target name already registered", ErrConflict)
		}
		return err
	}

	task := domain.RenameTask{
		From:              oldName,
		To:                newName,
		Performer:         performer,
		MovePages:         opts.MovePages,
		SuppressRedirects: opts.SuppressRedirects,
		PromoteToGlobal:   true,
		Site:              siteID,
		Reason:            reason,
	}
	if _, err := o.Dispatcher.Submit(ctx, siteID, task); err != nil {
		log.Error("promote task dispatch failed",
			"site", siteID, "from", oldName, "to", newName, "err", err)
	}

	if o.Audit != nil {
		_ = o.Audit.Promote(ctx, performer, oldName, siteID, newName, reason)
	}

	log.Info("local promotion committed",
		"site", siteID, "from", oldName, "to", newName, "identity_id", id)
	return nil
}

// ResubmitSiteTasks re-dispatches rename work for every site still
// holding a progress row under name (old or new). It covers tasks that
// failed after dispatch as well as tasks the dispatcher refused at
// approval time (full queue), which would otherwise pin the identity
// mid-rename with nothing left to retry.
func (o *RenameOrchestrator) ResubmitSiteTasks(ctx context.Context, name, performer string) (int, error) {
	log := slogx.FromContext(ctx)

	name = domain.CanonicalizeName(name)
	rows, err := o.Store.RenameProgress().ListByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, ErrNotFound
	}

	dispatched := 0
	for _, row := range rows {
		task := domain.RenameTask{
			From:      row.OldName,
			To:        row.NewName,
			Performer: performer,
			Site:      row.SiteID,
		}
		if _, err := o.Dispatcher.Submit(ctx, row.SiteID, task); err != nil {
			log.Error("rename task resubmit failed",
				"site", row.SiteID, "from", row.OldName, "to", row.NewName, "err", err)
			continue
		}
		dispatched++
	}

	log.Info("rename tasks resubmitted", "name", name, "dispatched", dispatched)
	return dispatched, nil
}

// ExecuteSiteTask applies one site's rename. It is the Executor wired
// into the dispatcher and must stay idempotent: when the old name no
// longer exists on the site, the task has already been applied.
func (o *RenameOrchestrator) ExecuteSiteTask(ctx context.Context, task domain.RenameTask) error {
	log := slogx.FromContext(ctx)

	if err := o.Store.RenameProgress().SetState(ctx, task.From, task.Site, domain.RenameInProgress); err != nil {
		return err
	}

	ls, err := o.Connector.Connect(ctx, task.Site)
	if err != nil {
		return err
	}

	err = ls.RenameAccount(ctx, task.From, task.To)
	switch {
	case errors.Is(err, sites.ErrAccountNotFound):
		// Old name gone: the rename already ran on this site.
		log.Info("rename task already applied", "site", task.Site, "from", task.From)
	case err != nil:
		return err
	}

	if task.MovePages {
		// Content-page moves belong to the site's own software; record
		// the request so its operators can see it.
		log.Info("site content move requested",
			"site", task.Site, "from", task.From, "to", task.To,
			"suppress_redirects", task.SuppressRedirects)
	}

	return o.Store.RenameProgress().Complete(ctx, task.From, task.Site)
}

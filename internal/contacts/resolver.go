package contacts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/AssistPipe/internal/models"
	"github.com/BTreeMap/AssistPipe/internal/store"
)

// Resolver turns person names into contacts, asking the Google directory
// first and falling back to the local store cache. Directory failures are
// logged and non-fatal.
type Resolver struct {
	directory Directory
	store     store.Store
}

// NewResolver creates a resolver. Either source may be nil; at least one must
// be set for lookups to succeed.
func NewResolver(directory Directory, st store.Store) *Resolver {
	return &Resolver{directory: directory, store: st}
}

// Resolve returns the contact for a name. When neither source knows the name
// the error wraps models.ErrContactNotFound.
func (r *Resolver) Resolve(ctx context.Context, name string) (*models.Contact, error) {
	if r.directory != nil {
		contact, err := r.directory.GetContactByName(ctx, name)
		if err != nil {
			slog.Warn("Resolver directory lookup failed, trying local cache", "name", name, "error", err)
		} else if contact != nil {
			return contact, nil
		}
	}
	if r.store != nil {
		contact, err := r.store.GetContactByName(name)
		if err != nil {
			return nil, fmt.Errorf("cache lookup for %s: %w", name, err)
		}
		if contact != nil {
			slog.Debug("Resolver found contact in local cache", "name", name)
			return contact, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", models.ErrContactNotFound, name)
}

// Search returns ranked matches for a query from the directory, falling back
// to the local cache.
func (r *Resolver) Search(ctx context.Context, query string, maxResults int) ([]models.Contact, error) {
	if r.directory != nil {
		matches, err := r.directory.SearchContacts(ctx, query, maxResults)
		if err != nil {
			slog.Warn("Resolver directory search failed, trying local cache", "query", query, "error", err)
		} else if len(matches) > 0 {
			return matches, nil
		}
	}
	if r.store != nil {
		matches, err := r.store.SearchContacts(query)
		if err != nil {
			return nil, fmt.Errorf("cache search for %s: %w", query, err)
		}
		if maxResults > 0 && len(matches) > maxResults {
			matches = matches[:maxResults]
		}
		return matches, nil
	}
	return nil, nil
}

// Sync pulls the whole directory into the local cache and returns how many
// contacts were stored.
func (r *Resolver) Sync(ctx context.Context) (int, error) {
	if r.directory == nil {
		return 0, fmt.Errorf("no directory configured")
	}
	if r.store == nil {
		return 0, fmt.Errorf("no local store configured")
	}
	contacts, err := r.directory.ListContacts(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch directory: %w", err)
	}
	if err := r.store.SaveContacts(contacts); err != nil {
		return 0, fmt.Errorf("cache contacts: %w", err)
	}
	slog.Info("Contacts synced to local cache", "count", len(contacts))
	return len(contacts), nil
}

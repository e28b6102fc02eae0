package cache

import (
	"context"
	"fmt"

	"github.com/brandon/mailsync/pkg/types"
)

// GetContact returns the contact of the given type and address, or nil
func (q *Queries) GetContact(ctx context.Context, contactType, email string) (*types.Contact, error) {
	var c types.Contact
	found, err := q.get(ctx, &c, "SELECT * FROM contacts WHERE type = ? AND email = ?", contactType, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &c, nil
}

// InsertContact inserts a contact and returns its id
func (q *Queries) InsertContact(ctx context.Context, c *types.Contact) (int64, error) {
	id, err := q.insert(ctx, "INSERT INTO contacts (type, email, name) VALUES (:type, :email, :name)", c)
	if err != nil {
		return 0, fmt.Errorf("failed to insert contact: %w", err)
	}
	c.ID = id
	return id, nil
}

// UpdateContactName refreshes a contact's display name
func (q *Queries) UpdateContactName(ctx context.Context, id int64, name *string) error {
	if _, err := q.exec(ctx, "UPDATE contacts SET name = ? WHERE id = ?", name, id); err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return nil
}

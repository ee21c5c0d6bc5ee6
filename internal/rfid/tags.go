package rfid

import (
	"context"
	"fmt"
)

// TagStore is the subset of Repository used for tag administration.
type TagStore interface {
	CreateTag(ctx context.Context, tag *Tag) error
	GetTag(ctx context.Context, tagID string) (*Tag, error)
	UpdateTag(ctx context.Context, tag *Tag) error
}

// NewTag is the input for RegisterTag.
type NewTag struct {
	TagID        string
	UserID       string
	RegisteredBy string
	Metadata     map[string]any
}

// RegisterTag validates and stores a new active tag.
func RegisterTag(ctx context.Context, store TagStore, in NewTag) (*Tag, error) {
	tagID, err := ParseTagID(in.TagID)
	if err != nil {
		return nil, err
	}
	tag := &Tag{
		TagID:        tagID,
		UserID:       in.UserID,
		IsActive:     true,
		RegisteredBy: in.RegisteredBy,
		Metadata:     in.Metadata,
	}
	if tag.Metadata == nil {
		tag.Metadata = map[string]any{}
	}
	if err := store.CreateTag(ctx, tag); err != nil {
		return nil, err
	}
	return tag, nil
}

// TagUpdate carries optional changes to a tag. Nil fields are left alone.
// An empty UserID unbinds the tag.
type TagUpdate struct {
	UserID   *string
	IsActive *bool
	Metadata map[string]any
}

// UpdateTag applies upd to the tag with the given id.
func UpdateTag(ctx context.Context, store TagStore, tagID string, upd TagUpdate) (*Tag, error) {
	tag, err := store.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if upd.UserID != nil {
		tag.UserID = *upd.UserID
	}
	if upd.IsActive != nil {
		tag.IsActive = *upd.IsActive
	}
	if upd.Metadata != nil {
		tag.Metadata = upd.Metadata
	}
	if err := store.UpdateTag(ctx, tag); err != nil {
		return nil, fmt.Errorf("updating tag %s: %w", tag.TagID, err)
	}
	return tag, nil
}

package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CharacterInput carries the fields for creating a character.
type CharacterInput struct {
	Name  string
	Class string
}

// CharacterPatch carries optional updates; nil fields are left unchanged.
type CharacterPatch struct {
	Name  *string
	Class *string
	Level *int
}

// CreateCharacter adds a level 1 character to userID's roster.
func (s *Service) CreateCharacter(ctx context.Context, userID string, in CharacterInput) (*Character, error) {
	name := normalizeCharacterName(in.Name)
	class := strings.ToLower(strings.TrimSpace(in.Class))
	if err := validateCharacterName(name); err != nil {
		return nil, err
	}
	if err := validateClass(class); err != nil {
		return nil, err
	}

	count, err := s.characters.CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count characters: %w", err)
	}
	if count >= MaxCharactersPerUser {
		return nil, ErrCharacterLimit
	}

	now := s.now().UTC()
	c := &Character{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		Class:     class,
		Level:     minLevel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.characters.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrCharacterNameTaken
		}
		return nil, fmt.Errorf("create character: %w", err)
	}
	return c, nil
}

// ListCharacters returns the characters owned by userID.
func (s *Service) ListCharacters(ctx context.Context, userID string) ([]*Character, error) {
	list, err := s.characters.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	return list, nil
}

// GetCharacter returns a character owned by userID. Characters of other users
// are reported as ErrNotFound.
func (s *Service) GetCharacter(ctx context.Context, userID, id string) (*Character, error) {
	c, err := s.characters.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	if c == nil || c.UserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

// UpdateCharacter applies patch to a character owned by userID.
func (s *Service) UpdateCharacter(ctx context.Context, userID, id string, patch CharacterPatch) (*Character, error) {
	c, err := s.GetCharacter(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		name := normalizeCharacterName(*patch.Name)
		if err := validateCharacterName(name); err != nil {
			return nil, err
		}
		c.Name = name
	}
	if patch.Class != nil {
		class := strings.ToLower(strings.TrimSpace(*patch.Class))
		if err := validateClass(class); err != nil {
			return nil, err
		}
		c.Class = class
	}
	if patch.Level != nil {
		if err := validateLevel(*patch.Level); err != nil {
			return nil, err
		}
		c.Level = *patch.Level
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.characters.Update(ctx, c); err != nil {
		switch {
		case errors.Is(err, ErrDuplicate):
			return nil, ErrCharacterNameTaken
		case errors.Is(err, ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update character: %w", err)
	}
	return c, nil
}

// DeleteCharacter removes a character owned by userID.
func (s *Service) DeleteCharacter(ctx context.Context, userID, id string) error {
	if _, err := s.GetCharacter(ctx, userID, id); err != nil {
		return err
	}
	if err := s.characters.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete character: %w", err)
	}
	return nil
}

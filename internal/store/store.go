package store

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/okralabs/boardsync/internal/models"
)

// Store is the persistence layer for mapping rows. It is the only shared
// mutable resource in the system and is written exclusively by the
// reconciliation engine. No method holds a transaction open across a remote
// API call.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the database, runs migrations and returns a Store.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Board{},
		&models.CardLink{},
		&models.IssueLink{},
		&models.EmailEntry{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db, logger: log}, nil
}

// New wraps an already-open gorm connection. Used by tests.
func New(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, logger: log}
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Boards

// CreateBoard persists a webhook registration for a board.
func (s *Store) CreateBoard(b *models.Board) error {
	if err := s.db.Create(b).Error; err != nil {
		return fmt.Errorf("failed to create board row: %w", err)
	}
	return nil
}

// GetBoard looks up a board row by its Trello identifier.
func (s *Store) GetBoard(trelloID string) (*models.Board, error) {
	var b models.Board
	err := s.db.Where("trello_id = ?", trelloID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get board: %w", err)
	}
	return &b, nil
}

// ListBoardsByRole returns all boards with the given role.
func (s *Store) ListBoardsByRole(role models.BoardRole) ([]models.Board, error) {
	var boards []models.Board
	if err := s.db.Where("role = ?", role).Find(&boards).Error; err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	return boards, nil
}

// ListBoards returns every subscribed board.
func (s *Store) ListBoards() ([]models.Board, error) {
	var boards []models.Board
	if err := s.db.Find(&boards).Error; err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	return boards, nil
}

// DeleteBoard removes the row for a Trello board identifier.
func (s *Store) DeleteBoard(trelloID string) error {
	if err := s.db.Where("trello_id = ?", trelloID).Delete(&models.Board{}).Error; err != nil {
		return fmt.Errorf("failed to delete board row: %w", err)
	}
	return nil
}

// Card links

// GetCardLink looks up the mapping row for a team-board card. Returns nil
// when the card is unlinked.
func (s *Store) GetCardLink(cardID string) (*models.CardLink, error) {
	var link models.CardLink
	err := s.db.Where("card_id = ?", cardID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card link: %w", err)
	}
	return &link, nil
}

// ListCardLinksByParent returns every card link mirrored on a parent card.
func (s *Store) ListCardLinksByParent(parentCardID string) ([]models.CardLink, error) {
	var links []models.CardLink
	if err := s.db.Where("parent_card_id = ?", parentCardID).Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list card links: %w", err)
	}
	return links, nil
}

// ListCardLinksByLabel returns every card link whose label matches.
func (s *Store) ListCardLinksByLabel(label string) ([]models.CardLink, error) {
	var links []models.CardLink
	if err := s.db.Where("label = ?", label).Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list card links by label: %w", err)
	}
	return links, nil
}

// CreateCardLink upserts the mapping row for a card. card_id is unique, so a
// redelivered or racing link task replaces the row instead of duplicating it.
func (s *Store) CreateCardLink(link *models.CardLink) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "card_id"}},
		UpdateAll: true,
	}).Create(link).Error
	if err != nil {
		return fmt.Errorf("failed to create card link: %w", err)
	}
	return nil
}

// SaveCardLink persists updated cached fields on an existing row.
func (s *Store) SaveCardLink(link *models.CardLink) error {
	if err := s.db.Save(link).Error; err != nil {
		return fmt.Errorf("failed to save card link: %w", err)
	}
	return nil
}

// DeleteCardLink hard-deletes a mapping row. There is no soft delete.
func (s *Store) DeleteCardLink(link *models.CardLink) error {
	if err := s.db.Delete(link).Error; err != nil {
		return fmt.Errorf("failed to delete card link: %w", err)
	}
	return nil
}

// RenameLabel updates every card link carrying the old label text in a
// single pass.
func (s *Store) RenameLabel(oldLabel, newLabel string) (int64, error) {
	res := s.db.Model(&models.CardLink{}).
		Where("label = ?", oldLabel).
		Update("label", newLabel)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to rename label: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Issue links

// ListIssueLinks returns every mapping row for a tracker target, one per
// parent card it is mirrored on.
func (s *Store) ListIssueLinks(projectID, issueID, targetKind string) ([]models.IssueLink, error) {
	var links []models.IssueLink
	err := s.db.Where("project_id = ? AND issue_id = ? AND target_kind = ?", projectID, issueID, targetKind).
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list issue links: %w", err)
	}
	return links, nil
}

// ListIssueLinksByParent returns every tracker target mirrored on a parent
// card.
func (s *Store) ListIssueLinksByParent(parentCardID string) ([]models.IssueLink, error) {
	var links []models.IssueLink
	if err := s.db.Where("parent_card_id = ?", parentCardID).Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list issue links: %w", err)
	}
	return links, nil
}

// CreateIssueLink inserts a new mapping row.
func (s *Store) CreateIssueLink(link *models.IssueLink) error {
	if err := s.db.Create(link).Error; err != nil {
		return fmt.Errorf("failed to create issue link: %w", err)
	}
	return nil
}

// SaveIssueLink persists updated cached fields on an existing row.
func (s *Store) SaveIssueLink(link *models.IssueLink) error {
	if err := s.db.Save(link).Error; err != nil {
		return fmt.Errorf("failed to save issue link: %w", err)
	}
	return nil
}

// DeleteIssueLink hard-deletes a mapping row.
func (s *Store) DeleteIssueLink(link *models.IssueLink) error {
	if err := s.db.Delete(link).Error; err != nil {
		return fmt.Errorf("failed to delete issue link: %w", err)
	}
	return nil
}

// Email directory

// LookupEmail resolves a Trello username to an email address. Returns an
// empty string when the user is unknown.
func (s *Store) LookupEmail(username string) (string, error) {
	var entry models.EmailEntry
	err := s.db.Where("username = ?", username).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up email: %w", err)
	}
	return entry.Email, nil
}

// ImportEmails bulk-loads username/email pairs, replacing existing entries
// for the same username.
func (s *Store) ImportEmails(entries []models.EmailEntry) error {
	for _, e := range entries {
		var existing models.EmailEntry
		err := s.db.Where("username = ?", e.Username).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := s.db.Create(&e).Error; err != nil {
				return fmt.Errorf("failed to import email for %s: %w", e.Username, err)
			}
		case err != nil:
			return fmt.Errorf("failed to import emails: %w", err)
		default:
			existing.Email = e.Email
			if err := s.db.Save(&existing).Error; err != nil {
				return fmt.Errorf("failed to update email for %s: %w", e.Username, err)
			}
		}
	}
	return nil
}

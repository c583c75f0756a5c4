package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pysugar/account-nexus/internal/account"
	"github.com/pysugar/account-nexus/internal/config"
	"github.com/pysugar/account-nexus/internal/db/models"
	"github.com/pysugar/account-nexus/internal/identity"
)

const (
	keyActiveAccount    = "active_account_id"
	keySettings         = "settings"
	keyIdentityCurrent  = "identity_current_id"
	keyIdentityOriginal = "identity_original_id"
	keyIdentityBackedUp = "identity_original_backup_time"
)

// Snapshot is everything persisted between runs.
type Snapshot struct {
	Registry account.State
	Settings config.Settings
	Identity identity.State
}

// Store reads and writes snapshots.
type Store struct {
	db *gorm.DB
}

// Open initializes the database at path and wraps it in a Store.
func Open(path string) (*Store, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already migrated connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// APIKey returns the admin API key.
func (s *Store) APIKey() (string, error) { return GetAPIKey(s.db) }

// RegenerateAPIKey replaces the admin API key.
func (s *Store) RegenerateAPIKey() (string, error) { return RegenerateAPIKey(s.db) }

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save replaces the stored snapshot in a single transaction.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	settings, err := json.Marshal(snap.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []any{&models.Account{}, &models.Group{}, &models.Tag{}, &models.IdentityBinding{}, &models.IdentityHistory{}} {
			if err := tx.Where("1 = 1").Delete(table).Error; err != nil {
				return fmt.Errorf("clear %T: %w", table, err)
			}
		}

		if rows := accountRows(snap.Registry.Accounts); len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 100).Error; err != nil {
				return fmt.Errorf("save accounts: %w", err)
			}
		}
		if len(snap.Registry.Groups) > 0 {
			rows := make([]models.Group, 0, len(snap.Registry.Groups))
			for _, g := range snap.Registry.Groups {
				rows = append(rows, models.Group{ID: g.ID, Name: g.Name, Color: g.Color, SortOrder: g.Order, CreatedAt: g.CreatedAt})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("save groups: %w", err)
			}
		}
		if len(snap.Registry.Tags) > 0 {
			rows := make([]models.Tag, 0, len(snap.Registry.Tags))
			for i, t := range snap.Registry.Tags {
				rows = append(rows, models.Tag{ID: t.ID, SortIndex: i, Name: t.Name, Color: t.Color})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("save tags: %w", err)
			}
		}

		if len(snap.Identity.Bindings) > 0 {
			rows := make([]models.IdentityBinding, 0, len(snap.Identity.Bindings))
			for accountID, id := range snap.Identity.Bindings {
				rows = append(rows, models.IdentityBinding{AccountID: accountID, Identity: id})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("save identity bindings: %w", err)
			}
		}
		if len(snap.Identity.History) > 0 {
			rows := make([]models.IdentityHistory, 0, len(snap.Identity.History))
			for i, e := range snap.Identity.History {
				rows = append(rows, models.IdentityHistory{
					ID:        e.ID,
					Seq:       i,
					Identity:  e.Identity,
					Timestamp: e.Timestamp,
					Action:    string(e.Action),
					AccountID: e.AccountID,
					Email:     e.Email,
				})
			}
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return fmt.Errorf("save identity history: %w", err)
			}
		}

		backedUp := ""
		if !snap.Identity.OriginalBackupTime.IsZero() {
			backedUp = snap.Identity.OriginalBackupTime.UTC().Format(time.RFC3339Nano)
		}
		for key, value := range map[string]string{
			keyActiveAccount:    snap.Registry.ActiveID,
			keySettings:         string(settings),
			keyIdentityCurrent:  snap.Identity.CurrentID,
			keyIdentityOriginal: snap.Identity.OriginalID,
			keyIdentityBackedUp: backedUp,
		} {
			if err := putConfig(tx, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load reads the stored snapshot. Missing pieces come back empty, and
// settings fields absent from the stored JSON keep the values in defaults.
func (s *Store) Load(ctx context.Context, defaults config.Settings) (Snapshot, error) {
	db := s.db.WithContext(ctx)
	snap := Snapshot{Settings: defaults, Identity: identity.State{Bindings: map[string]string{}}}

	var accounts []models.Account
	if err := db.Order("sort_index").Find(&accounts).Error; err != nil {
		return snap, fmt.Errorf("load accounts: %w", err)
	}
	for _, row := range accounts {
		snap.Registry.Accounts = append(snap.Registry.Accounts, accountFromRow(row))
	}

	var groups []models.Group
	if err := db.Order("sort_order").Find(&groups).Error; err != nil {
		return snap, fmt.Errorf("load groups: %w", err)
	}
	for _, g := range groups {
		snap.Registry.Groups = append(snap.Registry.Groups, account.Group{ID: g.ID, Name: g.Name, Color: g.Color, Order: g.SortOrder, CreatedAt: g.CreatedAt})
	}

	var tags []models.Tag
	if err := db.Order("sort_index").Find(&tags).Error; err != nil {
		return snap, fmt.Errorf("load tags: %w", err)
	}
	for _, t := range tags {
		snap.Registry.Tags = append(snap.Registry.Tags, account.Tag{ID: t.ID, Name: t.Name, Color: t.Color})
	}

	var bindings []models.IdentityBinding
	if err := db.Find(&bindings).Error; err != nil {
		return snap, fmt.Errorf("load identity bindings: %w", err)
	}
	for _, b := range bindings {
		snap.Identity.Bindings[b.AccountID] = b.Identity
	}

	var history []models.IdentityHistory
	if err := db.Order("seq").Find(&history).Error; err != nil {
		return snap, fmt.Errorf("load identity history: %w", err)
	}
	for _, h := range history {
		snap.Identity.History = append(snap.Identity.History, identity.HistoryEntry{
			ID:        h.ID,
			Identity:  h.Identity,
			Timestamp: h.Timestamp,
			Action:    identity.Action(h.Action),
			AccountID: h.AccountID,
			Email:     h.Email,
		})
	}

	kv, err := configValues(db)
	if err != nil {
		return snap, err
	}
	snap.Registry.ActiveID = kv[keyActiveAccount]
	snap.Identity.CurrentID = kv[keyIdentityCurrent]
	snap.Identity.OriginalID = kv[keyIdentityOriginal]
	if v := kv[keyIdentityBackedUp]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			snap.Identity.OriginalBackupTime = t
		}
	}
	if v := kv[keySettings]; v != "" {
		if err := json.Unmarshal([]byte(v), &snap.Settings); err != nil {
			log.Warn().Err(err).Msg("⚠️ Stored settings unreadable, using defaults")
			snap.Settings = defaults
		}
	}
	return snap, nil
}

func accountRows(accounts []account.Account) []models.Account {
	rows := make([]models.Account, 0, len(accounts))
	for i, a := range accounts {
		rec := account.RecordOf(a.Credentials)
		tagIDs := a.TagIDs
		if tagIDs == nil {
			tagIDs = []string{}
		}
		rows = append(rows, models.Account{
			ID:            a.ID,
			SortIndex:     i,
			Email:         a.Email,
			Nickname:      a.Nickname,
			Provider:      string(a.Provider),
			UserID:        a.UserID,
			AuthMethod:    string(rec.AuthMethod),
			AccessToken:   rec.AccessToken,
			RefreshToken:  rec.RefreshToken,
			ClientID:      rec.ClientID,
			ClientSecret:  rec.ClientSecret,
			Region:        rec.Region,
			ProfileARN:    rec.ProfileARN,
			ExpiresAt:     rec.ExpiresAt,
			Subscription:  datatypes.NewJSONType(a.Subscription),
			Usage:         datatypes.NewJSONType(a.Usage),
			Status:        string(a.Status),
			LastError:     a.LastError,
			ErrorCategory: string(a.ErrorCategory),
			LastCheckedAt: a.LastCheckedAt,
			GroupID:       a.GroupID,
			TagIDs:        datatypes.NewJSONSlice(tagIDs),
			IsActive:      a.IsActive,
			CreatedAt:     a.CreatedAt,
			LastUsedAt:    a.LastUsedAt,
		})
	}
	return rows
}

// accountFromRow rebuilds an Account. Rows written before error categories
// existed only carry the message, so the category is derived from it.
// Credentials that no longer validate are dropped and the account is
// flagged malformed.
func accountFromRow(row models.Account) account.Account {
	a := account.Account{
		ID:            row.ID,
		Email:         row.Email,
		Nickname:      row.Nickname,
		Provider:      account.IdentityProvider(row.Provider),
		UserID:        row.UserID,
		Subscription:  row.Subscription.Data(),
		Usage:         row.Usage.Data(),
		Status:        account.Status(row.Status),
		LastError:     row.LastError,
		ErrorCategory: account.ErrorCategory(row.ErrorCategory),
		LastCheckedAt: row.LastCheckedAt,
		GroupID:       row.GroupID,
		TagIDs:        []string(row.TagIDs),
		IsActive:      row.IsActive,
		CreatedAt:     row.CreatedAt,
		LastUsedAt:    row.LastUsedAt,
	}
	if a.Status == "" {
		a.Status = account.StatusUnknown
	}
	if a.Subscription.Plan == "" {
		a.Subscription.Plan = account.PlanUnknown
	}
	if a.ErrorCategory == account.CategoryNone && a.LastError != "" {
		a.ErrorCategory = account.CategoryFromMessage(a.LastError)
	}

	creds, err := account.CredentialRecord{
		AuthMethod:   account.AuthMethod(row.AuthMethod),
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ClientID:     row.ClientID,
		ClientSecret: row.ClientSecret,
		Region:       row.Region,
		ExpiresAt:    row.ExpiresAt,
		ProfileARN:   row.ProfileARN,
	}.Build()
	if err != nil {
		log.Warn().Err(err).Str("account", row.Email).Msg("⚠️ Stored credentials are invalid")
		a.Status = account.StatusError
		a.ErrorCategory = account.CategoryMalformed
		a.LastError = err.Error()
		return a
	}
	a.Credentials = creds
	return a
}

func putConfig(db *gorm.DB, key, value string) error {
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.Config{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func configValues(db *gorm.DB) (map[string]string, error) {
	var rows []models.Config
	if err := db.Find(&rows).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	kv := make(map[string]string, len(rows))
	for _, r := range rows {
		kv[r.Key] = r.Value
	}
	return kv, nil
}

package gormpersistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"collaborative-canvas/internal/domain"
	"collaborative-canvas/internal/persistence"
)

// Adapter is the GORM implementation of persistence.Adapter. Mutations are
// upserts keyed by id so the at-least-once task queue in front of it can
// replay safely.
type Adapter struct {
	db *gorm.DB
}

func NewAdapter(db *gorm.DB) *Adapter {
	if db == nil {
		panic("database connection cannot be nil for gorm Adapter")
	}
	return &Adapter{db: db}
}

func (a *Adapter) CreateRoom(ctx context.Context, room domain.Room) error {
	rec := RoomRecord{
		ID:             room.ID,
		MaxSessions:    room.Settings.MaxSessions,
		IsPublic:       room.Settings.IsPublic,
		AllowAnonymous: room.Settings.AllowAnonymous,
		CreatedAt:      room.CreatedAt,
		LastActivity:   room.LastActivity,
	}
	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_activity"}),
	}).Create(&rec).Error
	if err != nil {
		return wrapErr(fmt.Sprintf("create room %s", room.ID), err)
	}
	return nil
}

func (a *Adapter) GetRoom(ctx context.Context, id string) (*domain.Room, error) {
	var rec RoomRecord
	if err := a.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, persistence.ErrNotFound
		}
		return nil, wrapErr(fmt.Sprintf("get room %s", id), err)
	}
	room := domain.Room{
		ID: rec.ID,
		Settings: domain.RoomSettings{
			MaxSessions:    rec.MaxSessions,
			IsPublic:       rec.IsPublic,
			AllowAnonymous: rec.AllowAnonymous,
		},
		CreatedAt:    rec.CreatedAt,
		LastActivity: rec.LastActivity,
	}
	return &room, nil
}

func (a *Adapter) TouchRoomActivity(ctx context.Context, roomID string, at time.Time) error {
	err := a.db.WithContext(ctx).Model(&RoomRecord{}).
		Where("id = ?", roomID).
		Update("last_activity", at).Error
	if err != nil {
		return wrapErr(fmt.Sprintf("touch room %s", roomID), err)
	}
	return nil
}

func (a *Adapter) AddSessionToRoom(ctx context.Context, session domain.Session) error {
	rec := SessionRecord{
		ID:           session.ID,
		RoomID:       session.RoomID,
		Name:         session.Name,
		Color:        session.Color,
		JoinedAt:     session.JoinedAt,
		LastActiveAt: session.LastActiveAt,
	}
	err := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"room_id", "name", "color", "last_active_at"}),
	}).Create(&rec).Error
	if err != nil {
		return wrapErr(fmt.Sprintf("add session %s to room %s", session.ID, session.RoomID), err)
	}
	return nil
}

func (a *Adapter) RemoveSessionFromRoom(ctx context.Context, roomID, sessionID string) error {
	err := a.db.WithContext(ctx).
		Where("room_id = ? AND id = ?", roomID, sessionID).
		Delete(&SessionRecord{}).Error
	if err != nil {
		return wrapErr(fmt.Sprintf("remove session %s from room %s", sessionID, roomID), err)
	}
	return nil
}

func (a *Adapter) ListSessionsInRoom(ctx context.Context, roomID string) ([]domain.Session, error) {
	var recs []SessionRecord
	if err := a.db.WithContext(ctx).Where("room_id = ?", roomID).Find(&recs).Error; err != nil {
		return nil, wrapErr(fmt.Sprintf("list sessions in room %s", roomID), err)
	}
	out := make([]domain.Session, 0, len(recs))
	for _, rec := range recs {
		out = append(out, domain.Session{
			ID:           rec.ID,
			RoomID:       rec.RoomID,
			Name:         rec.Name,
			Color:        rec.Color,
			JoinedAt:     rec.JoinedAt,
			LastActiveAt: rec.LastActiveAt,
		})
	}
	return out, nil
}

func (a *Adapter) CreateElement(ctx context.Context, roomID string, element domain.Element) error {
	return a.upsertElement(ctx, roomID, element)
}

func (a *Adapter) UpdateElement(ctx context.Context, roomID string, element domain.Element) error {
	return a.upsertElement(ctx, roomID, element)
}

func (a *Adapter) DeleteElement(ctx context.Context, roomID string, element domain.Element) error {
	// Tombstone write, the record is kept.
	return a.upsertElement(ctx, roomID, element)
}

func (a *Adapter) upsertElement(ctx context.Context, roomID string, element domain.Element) error {
	props, err := json.Marshal(element.Properties)
	if err != nil {
		return fmt.Errorf("gorm: marshal element %s properties: %w", element.ID, err)
	}
	rec := ElementRecord{
		ID:         element.ID,
		RoomID:     roomID,
		Type:       string(element.Type),
		Properties: string(props),
		Version:    element.Version,
		IsDeleted:  element.IsDeleted,
		CreatedBy:  element.CreatedBy,
		CreatedAt:  element.CreatedAt,
		UpdatedAt:  element.UpdatedAt,
	}
	err = a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		// Replayed tasks can arrive out of order; an older version must
		// never overwrite a newer row.
		DoUpdates: clause.Assignments(map[string]interface{}{
			"properties": gorm.Expr("IF(VALUES(version) >= version, VALUES(properties), properties)"),
			"is_deleted": gorm.Expr("IF(VALUES(version) >= version, VALUES(is_deleted), is_deleted)"),
			"updated_at": gorm.Expr("IF(VALUES(version) >= version, VALUES(updated_at), updated_at)"),
			"version":    gorm.Expr("GREATEST(version, VALUES(version))"),
		}),
	}).Create(&rec).Error
	if err != nil {
		return wrapErr(fmt.Sprintf("upsert element %s in room %s", element.ID, roomID), err)
	}
	return nil
}

func (a *Adapter) ListElementsInRoom(ctx context.Context, roomID string) ([]domain.Element, error) {
	var recs []ElementRecord
	err := a.db.WithContext(ctx).
		Where("room_id = ? AND is_deleted = ?", roomID, false).
		Order("created_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("list elements in room %s", roomID), err)
	}
	out := make([]domain.Element, 0, len(recs))
	for _, rec := range recs {
		var props domain.ElementProperties
		if err := json.Unmarshal([]byte(rec.Properties), &props); err != nil {
			return nil, fmt.Errorf("gorm: unmarshal element %s properties: %w", rec.ID, err)
		}
		out = append(out, domain.Element{
			ID:         rec.ID,
			Type:       domain.ElementType(rec.Type),
			Properties: props,
			Version:    rec.Version,
			IsDeleted:  rec.IsDeleted,
			CreatedBy:  rec.CreatedBy,
			CreatedAt:  rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
		})
	}
	return out, nil
}

func (a *Adapter) ClearElementsInRoom(ctx context.Context, roomID string) error {
	err := a.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&ElementRecord{}).Error
	if err != nil {
		return wrapErr(fmt.Sprintf("clear elements in room %s", roomID), err)
	}
	return nil
}

// CleanupStaleRooms deletes persisted rooms (and their sessions/elements)
// whose last activity is older than cutoff. Driven by the periodic sweep
// task, not part of the Adapter interface.
func (a *Adapter) CleanupStaleRooms(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []string
	err := a.db.WithContext(ctx).Model(&RoomRecord{}).
		Where("last_activity < ?", cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, wrapErr("find stale rooms", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id IN ?", ids).Delete(&ElementRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id IN ?", ids).Delete(&SessionRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&RoomRecord{}).Error
	})
	if err != nil {
		return 0, wrapErr("delete stale rooms", err)
	}
	return int64(len(ids)), nil
}

func wrapErr(op string, err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return persistence.ErrDuplicateEntry
	}
	return fmt.Errorf("gorm: %s: %w", op, err)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EntityArea is one row of the denormalised entity -> area -> floor lookup.
type EntityArea struct {
	EntityID  string `json:"entity_id"`
	AreaID    string `json:"area_id"`
	AreaName  string `json:"area_name"`
	FloorID   string `json:"floor_id"`
	FloorName string `json:"floor_name"`
	DeviceID  string `json:"device_id"`
}

// RoomSegment maps a vacuum's cleaning segment to a registry area.
type RoomSegment struct {
	SegmentID   string `json:"segment_id"`
	SegmentName string `json:"segment_name"`
	AreaID      string `json:"area_id"`
}

// DefaultRoom is a canonical room name and the area it resolved to, if any.
type DefaultRoom struct {
	Key         string `json:"room_key"`
	DisplayName string `json:"display_name"`
	AreaID      string `json:"area_id"`
}

// ReplaceEntityAreaCache swaps the entire cache for rows in one transaction.
// Readers see either the old or the new contents.
func (s *Store) ReplaceEntityAreaCache(ctx context.Context, rows []EntityArea) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entity_area_cache`); err != nil {
			return fmt.Errorf("flushing entity area cache: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO entity_area_cache
				(entity_id, area_id, area_name, floor_id, floor_name, device_id)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing cache insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx,
				r.EntityID, r.AreaID, r.AreaName, r.FloorID, r.FloorName, r.DeviceID,
			); err != nil {
				return fmt.Errorf("caching %s: %w", r.EntityID, err)
			}
		}
		return nil
	})
}

// EntityArea returns the cached location of an entity or ErrNotFound.
func (s *Store) EntityArea(ctx context.Context, entityID string) (*EntityArea, error) {
	var r EntityArea
	err := s.db.QueryRowContext(ctx, `
		SELECT entity_id, area_id, area_name, floor_id, floor_name, device_id
		FROM entity_area_cache WHERE entity_id = ?`, entityID,
	).Scan(&r.EntityID, &r.AreaID, &r.AreaName, &r.FloorID, &r.FloorName, &r.DeviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying entity area: %w", err)
	}
	return &r, nil
}

// SaveVacuumRoomMap replaces the segment map of one vacuum.
func (s *Store) SaveVacuumRoomMap(ctx context.Context, vacuumID string, segments []RoomSegment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vacuum_room_map WHERE vacuum_entity_id = ?`, vacuumID,
		); err != nil {
			return fmt.Errorf("clearing room map: %w", err)
		}
		for _, seg := range segments {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO vacuum_room_map
					(vacuum_entity_id, segment_id, segment_name, area_id)
				VALUES (?, ?, ?, ?)`,
				vacuumID, seg.SegmentID, seg.SegmentName, seg.AreaID,
			); err != nil {
				return fmt.Errorf("saving segment %s: %w", seg.SegmentID, err)
			}
		}
		return nil
	})
}

// VacuumRoomMap returns the stored segments of a vacuum ordered by name.
// An empty result is not an error.
func (s *Store) VacuumRoomMap(ctx context.Context, vacuumID string) ([]RoomSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT segment_id, segment_name, area_id FROM vacuum_room_map
		WHERE vacuum_entity_id = ? ORDER BY segment_name, segment_id`, vacuumID)
	if err != nil {
		return nil, fmt.Errorf("querying room map: %w", err)
	}
	defer rows.Close()

	var segs []RoomSegment
	for rows.Next() {
		var seg RoomSegment
		if err := rows.Scan(&seg.SegmentID, &seg.SegmentName, &seg.AreaID); err != nil {
			return nil, fmt.Errorf("scanning segment: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

// SeedDefaultRooms upserts the canonical rooms. An existing row keeps its
// display name but takes the new area match.
func (s *Store) SeedDefaultRooms(ctx context.Context, rooms []DefaultRoom) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rooms {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO default_rooms (room_key, display_name, area_id) VALUES (?, ?, ?)
				ON CONFLICT (room_key) DO UPDATE SET area_id = excluded.area_id`,
				r.Key, r.DisplayName, r.AreaID,
			); err != nil {
				return fmt.Errorf("seeding room %s: %w", r.Key, err)
			}
		}
		return nil
	})
}

// DefaultRooms returns the seeded rooms ordered by key.
func (s *Store) DefaultRooms(ctx context.Context) ([]DefaultRoom, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_key, display_name, area_id FROM default_rooms ORDER BY room_key`)
	if err != nil {
		return nil, fmt.Errorf("querying default rooms: %w", err)
	}
	defer rows.Close()

	var rooms []DefaultRoom
	for rows.Next() {
		var r DefaultRoom
		if err := rows.Scan(&r.Key, &r.DisplayName, &r.AreaID); err != nil {
			return nil, fmt.Errorf("scanning default room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

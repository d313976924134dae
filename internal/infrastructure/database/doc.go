// Package database provides SQLite connectivity and schema migrations.
//
// The connection runs with foreign keys on, optional WAL journaling and a
// busy timeout. Migrations are plain SQL files embedded by the migrations
// package and applied in version order, one transaction per file.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Tests open database.MemoryPath for a private in-memory database.
package database

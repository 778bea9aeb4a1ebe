package db

import (
	"database/sql"
	"log"

	"github.com/google/uuid"
)

const (
	sqlCreateMutesTable = `CREATE TABLE IF NOT EXISTS mutes(
                        account_id uuid NOT NULL,
                        actor text NOT NULL,
                        created_at timestamp default current_timestamp,
                        PRIMARY KEY (account_id, actor)
                        )`
	sqlCreateInstanceBlocksTable = `CREATE TABLE IF NOT EXISTS instance_blocks(
                        host text NOT NULL PRIMARY KEY,
                        created_at timestamp default current_timestamp
                        )`

	sqlInsertMute      = `INSERT OR IGNORE INTO mutes(account_id, actor) VALUES (?, ?)`
	sqlDeleteMute      = `DELETE FROM mutes WHERE account_id = ? AND actor = ?`
	sqlSelectMute      = `SELECT count(*) FROM mutes WHERE account_id = ? AND actor = ?`
	sqlSelectAllMutes  = `SELECT actor FROM mutes WHERE account_id = ? ORDER BY actor`
	sqlInsertInstBlock = `INSERT OR IGNORE INTO instance_blocks(host) VALUES (?)`
	sqlDeleteInstBlock = `DELETE FROM instance_blocks WHERE host = ?`
	sqlSelectInstBlock = `SELECT count(*) FROM instance_blocks WHERE host = ?`
	sqlSelectAllBlocks = `SELECT host FROM instance_blocks ORDER BY host`
)

func (db *DB) RunMigrations() error {
	migrations := []struct {
		name string
		stmt string
	}{
		{"accounts", sqlCreateAccountsTable},
		{"mutes", sqlCreateMutesTable},
		{"instance_blocks", sqlCreateInstanceBlocksTable},
	}

	for _, m := range migrations {
		if _, err := db.db.Exec(m.stmt); err != nil {
			log.Printf("Migration %s failed: %v", m.name, err)
			return err
		}
	}

	return nil
}

// Mute hides an actor's posts from one account's timeline view.
func (db *DB) Mute(accountId uuid.UUID, actor string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertMute, accountId, actor)
		return err
	})
}

func (db *DB) Unmute(accountId uuid.UUID, actor string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteMute, accountId, actor)
		return err
	})
}

func (db *DB) IsMuted(accountId uuid.UUID, actor string) bool {
	var count int
	err := db.db.QueryRow(sqlSelectMute, accountId, actor).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

func (db *DB) Mutes(accountId uuid.UUID) (error, []string) {
	return db.selectStrings(sqlSelectAllMutes, accountId)
}

// BlockInstance drops all inbound traffic from a host, server-wide.
func (db *DB) BlockInstance(host string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertInstBlock, host)
		return err
	})
}

func (db *DB) UnblockInstance(host string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteInstBlock, host)
		return err
	})
}

func (db *DB) IsInstanceBlocked(host string) bool {
	var count int
	err := db.db.QueryRow(sqlSelectInstBlock, host).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

func (db *DB) BlockedInstances() (error, []string) {
	return db.selectStrings(sqlSelectAllBlocks)
}

func (db *DB) selectStrings(query string, args ...any) (error, []string) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return err, nil
		}
		out = append(out, s)
	}
	return rows.Err(), out
}

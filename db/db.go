package db

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/deemkeen/anancus/domain"
	"github.com/deemkeen/anancus/util"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB holds the local identity state: accounts with their keypairs,
// per-account mutes and instance-wide blocks. Federation objects and
// timelines live in the file store, not here.
type DB struct {
	db *sql.DB
}

const (
	//Accounts
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts(
                        id uuid NOT NULL PRIMARY KEY,
                        username varchar(100) UNIQUE NOT NULL,
                        created_at timestamp default current_timestamp,
                        display_name text default '',
                        summary text default '',
                        locked int default 0,
                        web_public_key text,
                        web_private_key text
                        )`
	sqlInsertAccount           = `INSERT INTO accounts(id, username, web_public_key, web_private_key, created_at) VALUES (?, ?, ?, ?, ?)`
	sqlUpdateAccountProfile    = `UPDATE accounts SET display_name = ?, summary = ?, locked = ? WHERE id = ?`
	sqlSelectAccountById       = `SELECT id, username, created_at, display_name, summary, locked, web_public_key, web_private_key FROM accounts WHERE id = ?`
	sqlSelectAccountByUsername = `SELECT id, username, created_at, display_name, summary, locked, web_public_key, web_private_key FROM accounts WHERE username = ?`
	sqlSelectAllAccounts       = `SELECT id, username, created_at, display_name, summary, locked, web_public_key, web_private_key FROM accounts ORDER BY username`
	sqlDeleteAccount           = `DELETE FROM accounts WHERE id = ?`
)

// Open opens (or creates) the identity database at the given path.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	sqldb.SetMaxOpenConns(25)
	sqldb.SetMaxIdleConns(5)
	sqldb.SetConnMaxLifetime(time.Hour)

	// Try to enable WAL2 mode, fall back to WAL if not supported
	var journalMode string
	err = sqldb.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
	if err != nil || journalMode == "delete" {
		err = sqldb.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
		if err != nil {
			log.Printf("Warning: Failed to enable WAL mode: %v", err)
		} else {
			log.Printf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
		}
	} else {
		log.Printf("Database journal mode: %s", journalMode)
	}

	sqldb.Exec("PRAGMA synchronous = NORMAL")
	sqldb.Exec("PRAGMA cache_size = -64000")
	sqldb.Exec("PRAGMA temp_store = MEMORY")
	sqldb.Exec("PRAGMA busy_timeout = 5000")
	sqldb.Exec("PRAGMA foreign_keys = ON")

	database := &DB{db: sqldb}

	if err := database.RunMigrations(); err != nil {
		sqldb.Close()
		return nil, err
	}

	return database, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// CreateAccount creates a local account with a fresh federation keypair.
func (db *DB) CreateAccount(username string) (error, *domain.Account) {
	err, found := db.ReadAccByUsername(username)
	if err == nil && found != nil {
		return nil, found
	}

	keypair := util.GeneratePemKeypair()

	acc := &domain.Account{
		Id:            uuid.New(),
		Username:      username,
		CreatedAt:     time.Now(),
		WebPublicKey:  keypair.Public,
		WebPrivateKey: keypair.Private,
	}

	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount, acc.Id, acc.Username, acc.WebPublicKey, acc.WebPrivateKey, acc.CreatedAt)
		return err
	})
	if err != nil {
		log.Println("Creating new account failed: ", err)
		return err, nil
	}

	return nil, acc
}

func (db *DB) UpdateAccountProfile(id uuid.UUID, displayName string, summary string, locked bool) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateAccountProfile, displayName, summary, boolToInt(locked), id)
		return err
	})
}

func (db *DB) DeleteAccount(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteAccount, id)
		return err
	})
}

func (db *DB) ReadAccById(id uuid.UUID) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountById, id))
}

func (db *DB) ReadAccByUsername(username string) (error, *domain.Account) {
	return db.scanAccount(db.db.QueryRow(sqlSelectAccountByUsername, username))
}

func (db *DB) ReadAllAccounts() (error, *[]domain.Account) {
	rows, err := db.db.Query(sqlSelectAllAccounts)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var acc domain.Account
		var locked int
		err := rows.Scan(&acc.Id, &acc.Username, &acc.CreatedAt, &acc.DisplayName, &acc.Summary, &locked, &acc.WebPublicKey, &acc.WebPrivateKey)
		if err != nil {
			return err, nil
		}
		acc.Locked = locked != 0
		accounts = append(accounts, acc)
	}

	return rows.Err(), &accounts
}

func (db *DB) scanAccount(row *sql.Row) (error, *domain.Account) {
	var acc domain.Account
	var locked int
	err := row.Scan(&acc.Id, &acc.Username, &acc.CreatedAt, &acc.DisplayName, &acc.Summary, &locked, &acc.WebPublicKey, &acc.WebPrivateKey)
	if err != nil {
		return err, nil
	}
	acc.Locked = locked != 0
	return nil, &acc
}

func (db *DB) wrapTransaction(f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("error starting transaction: %s", err)
		return err
	}
	for {
		err = f(tx)
		if err != nil {
			serr, ok := err.(*sqlite.Error)
			if ok && serr.Code() == sqlitelib.SQLITE_BUSY {
				continue
			}
			log.Printf("error in transaction: %s", err)
			return err
		}
		err = tx.Commit()
		if err != nil {
			log.Printf("error committing transaction: %s", err)
			return err
		}
		break
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

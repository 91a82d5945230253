package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/wx-shi/utxo-ledger/internal/model"
	"github.com/wx-shi/utxo-ledger/internal/wallet"
)

// SQLiteWalletStore keeps wallets in a single SQLite table.
type SQLiteWalletStore struct {
	db     *sql.DB
	sealer *Sealer
}

func NewSQLiteWalletStore(path string, sealer *Sealer) (*SQLiteWalletStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite wallet store path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	store := &SQLiteWalletStore{db: db, sealer: sealer}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteWalletStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS wallets (
		address     TEXT PRIMARY KEY,
		private_key BLOB NOT NULL,
		sealed      INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteWalletStore) Put(w *wallet.Wallet) error {
	r, err := newWalletRecord(w, s.sealer)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO wallets (address, private_key, sealed, created_at) VALUES (?, ?, ?, ?)`,
		string(w.Address), r.Key, r.Sealed, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert wallet: %w", err)
	}
	return nil
}

func (s *SQLiteWalletStore) Get(address model.Address) (*wallet.Wallet, error) {
	r := &walletRecord{}
	err := s.db.QueryRow(
		`SELECT private_key, sealed, created_at FROM wallets WHERE address = ?`,
		string(address),
	).Scan(&r.Key, &r.Sealed, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrWalletNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet: %w", err)
	}
	return r.wallet(address, s.sealer)
}

func (s *SQLiteWalletStore) ListAddresses() ([]model.Address, error) {
	rows, err := s.db.Query(`SELECT address FROM wallets ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var addrs []model.Address
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addrs = append(addrs, model.Address(addr))
	}
	return addrs, rows.Err()
}

func (s *SQLiteWalletStore) Delete(address model.Address) error {
	res, err := s.db.Exec(`DELETE FROM wallets WHERE address = ?`, string(address))
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrWalletNotFound, address)
	}
	return nil
}

func (s *SQLiteWalletStore) Close() error {
	return s.db.Close()
}

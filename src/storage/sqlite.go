package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"token-observer/src/logger"
	"token-observer/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type SQLiteTokenStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger

	notifier *changeNotifier
}

// -----------------------------------------------------------------------------

func NewSQLiteTokenStore(cfg *models.MConfig, log *logger.Logger) (*SQLiteTokenStore, error) {
	return &SQLiteTokenStore{
		Config:   cfg,
		Logger:   log,
		notifier: newChangeNotifier(),
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) createTables() error {
	// SQLite types: INTEGER for int64, REAL for float64, TEXT for string
	query := `
		CREATE TABLE IF NOT EXISTS tokens (
			address TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL DEFAULT '',
			price REAL NOT NULL DEFAULT 0,
			volume_24h REAL NOT NULL DEFAULT 0,
			market_cap REAL NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create tokens: %w", err)
	}

	if _, err := d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_tokens_market_cap ON tokens (market_cap);"); err != nil {
		return fmt.Errorf("failed to create market_cap index: %w", err)
	}
	if _, err := d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_tokens_volume ON tokens (volume_24h);"); err != nil {
		return fmt.Errorf("failed to create volume index: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) UpsertToken(token models.MToken) error {
	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Decide insert vs update before writing so the notification carries
	// the right operation kind.
	var exists bool
	if err := tx.QueryRow("SELECT EXISTS(SELECT 1 FROM tokens WHERE address = ?)", token.Address).Scan(&exists); err != nil {
		return err
	}

	now := time.Now().Unix()
	if token.UpdatedAt == 0 {
		token.UpdatedAt = now
	}
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}

	_, err = tx.Exec(`
		INSERT INTO tokens (address, name, symbol, price, volume_24h, market_cap, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			name = excluded.name,
			symbol = excluded.symbol,
			price = excluded.price,
			volume_24h = excluded.volume_24h,
			market_cap = excluded.market_cap,
			updated_at = excluded.updated_at
	`, token.Address, token.Name, token.Symbol, token.Price, token.Volume24h, token.MarketCap, token.UpdatedAt, token.CreatedAt)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	op := "insert"
	if exists {
		op = "update"
	}
	d.notifier.Publish(models.MStoreNotification{Op: op, Address: token.Address})

	return nil
}

// -----------------------------------------------------------------------------
// Read Primitives
// -----------------------------------------------------------------------------

const tokenColumns = "address, name, symbol, price, volume_24h, market_cap, updated_at, created_at"

func scanToken(row *sql.Row) (*models.MToken, error) {
	var t models.MToken
	err := row.Scan(&t.Address, &t.Name, &t.Symbol, &t.Price, &t.Volume24h, &t.MarketCap, &t.UpdatedAt, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) GetByAddress(address string) (*models.MToken, error) {
	row := d.DB.QueryRow("SELECT "+tokenColumns+" FROM tokens WHERE address = ?", address)
	return scanToken(row)
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) GetByAddressFold(address string) (*models.MToken, error) {
	row := d.DB.QueryRow("SELECT "+tokenColumns+" FROM tokens WHERE lower(address) = lower(?)", address)
	return scanToken(row)
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) SearchByAddressFragment(fragment string) (*models.MToken, error) {
	row := d.DB.QueryRow(`
		SELECT `+tokenColumns+` FROM tokens
		WHERE lower(address) LIKE '%' || lower(?) || '%'
		ORDER BY address LIMIT 1
	`, fragment)
	return scanToken(row)
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) ListPage(sortColumn string, descending bool, limit, offset int) ([]models.MToken, error) {
	direction := "ASC"
	if descending {
		direction = "DESC"
	}

	// sortColumn comes from the snapshot service whitelist, never from the wire
	query := fmt.Sprintf("SELECT %s FROM tokens ORDER BY %s %s LIMIT ? OFFSET ?", tokenColumns, sortColumn, direction)

	rows, err := d.DB.Query(query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []models.MToken
	for rows.Next() {
		var t models.MToken
		if err := rows.Scan(&t.Address, &t.Name, &t.Symbol, &t.Price, &t.Volume24h, &t.MarketCap, &t.UpdatedAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}

	return tokens, rows.Err()
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) CountTokens() (int, error) {
	var count int
	err := d.DB.QueryRow("SELECT COUNT(*) FROM tokens").Scan(&count)
	return count, err
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) GlobalStats() (models.MGlobalStats, error) {
	var stats models.MGlobalStats
	err := d.DB.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(volume_24h), 0), COALESCE(SUM(market_cap), 0) FROM tokens
	`).Scan(&stats.TotalTokens, &stats.TotalVolume, &stats.TotalMarketCap)
	return stats, err
}

// -----------------------------------------------------------------------------

// Listen subscribes to the in-process notifier. Writes through this store
// instance are observed; out-of-process writers are not (SQLite has no
// cross-process notification channel).
func (d *SQLiteTokenStore) Listen(ctx context.Context) (<-chan models.MStoreNotification, error) {
	return d.notifier.Subscribe(ctx), nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) CleanupOldData() error {
	retentionDays := d.Config.Storage.RetentionDays
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Unix()

	if _, err := d.DB.Exec("DELETE FROM tokens WHERE updated_at < ?", cutoff); err != nil {
		d.Logger.Error("Cleanup tokens error: %v", err)
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteTokenStore) Close() error {
	d.notifier.CloseAll()
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

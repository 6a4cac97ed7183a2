package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"token-observer/src/logger"
	"token-observer/src/models"

	"github.com/lib/pq"
)

// -----------------------------------------------------------------------------

// notifyChannel is the pg_notify channel the tokens trigger publishes on.
const notifyChannel = "token_changes"

// -----------------------------------------------------------------------------

type PostgresTokenStore struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresTokenStore(cfg *models.MConfig, log *logger.Logger) (*PostgresTokenStore, error) {
	return &PostgresTokenStore{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresTokenStore) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	if err := d.createTables(); err != nil {
		return err
	}
	if err := d.installNotifyTrigger(); err != nil {
		return err
	}

	d.Logger.Info("PostgresTokenStore initialized successfully")
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresTokenStore) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS tokens (
			address TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			volume_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
			market_cap DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL DEFAULT 0
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

// installNotifyTrigger wires pg_notify so every tokens mutation publishes
// "TG_OP:address" on the notification channel.
func (d *PostgresTokenStore) installNotifyTrigger() error {
	function := fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION notify_token_change() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('%s', TG_OP || ':' || COALESCE(NEW.address, OLD.address));
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;
	`, notifyChannel)
	if _, err := d.DB.Exec(function); err != nil {
		return fmt.Errorf("failed to create notify function: %w", err)
	}

	if _, err := d.DB.Exec("DROP TRIGGER IF EXISTS tokens_notify ON tokens;"); err != nil {
		return fmt.Errorf("failed to drop notify trigger: %w", err)
	}

	trigger := `
		CREATE TRIGGER tokens_notify
		AFTER INSERT OR UPDATE OR DELETE ON tokens
		FOR EACH ROW EXECUTE FUNCTION notify_token_change();
	`
	if _, err := d.DB.Exec(trigger); err != nil {
		return fmt.Errorf("failed to create notify trigger: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// UpsertToken writes one record. The notification is emitted by the
// database trigger, so it reaches listeners in every connected process.
func (d *PostgresTokenStore) UpsertToken(token models.MToken) error {
	now := time.Now().Unix()
	if token.UpdatedAt == 0 {
		token.UpdatedAt = now
	}
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}

	_, err := d.DB.Exec(`
		INSERT INTO tokens (address, name, symbol, price, volume_24h, market_cap, updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (address) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			price = EXCLUDED.price,
			volume_24h = EXCLUDED.volume_24h,
			market_cap = EXCLUDED.market_cap,
			updated_at = EXCLUDED.updated_at
	`, token.Address, token.Name, token.Symbol, token.Price, token.Volume24h, token.MarketCap, token.UpdatedAt, token.CreatedAt)

	return err
}

// -----------------------------------------------------------------------------
// Read Primitives
// -----------------------------------------------------------------------------

func (d *PostgresTokenStore) GetByAddress(address string) (*models.MToken, error) {
	row := d.DB.QueryRow("SELECT "+tokenColumns+" FROM tokens WHERE address = $1", address)
	return scanToken(row)
}

// -----------------------------------------------------------------------------

func (d *PostgresTokenStore) GetByAddressFold(address string) (*models.MToken, error) {
	row := d.DB.QueryRow("SELECT "+tokenColumns+" FROM tokens WHERE lower(address) = lower($1)", address)
	return scanToken(row)
}

// -----------------------------------------------------------------------------

func (d *PostgresTokenStore) SearchByAddressFragment(fragment string) (*models.MToken, error) {
	row := d.DB.QueryRow(`
		SELECT `+tokenColumns+` FROM tokens
		WHERE address ILIKE '%' || $1 || '%'
		ORDER BY address LIMIT 1
	`, fragment)
	return scanToken(row)
}

// -----------------------------------------------------------------------------

func (d *PostgresTokenStore) ListPage(sortColumn string, descending bool, limit, offset int) ([]models.MToken, error) {
	direction := "ASC"
	if descending {
		direction = "DESC"
	}

	// sortColumn comes from the snapshot service whitelist, never from the wire
	query := fmt.Sprintf("SELECT %s FROM tokens ORDER BY %s %s LIMIT $1 OFFSET $2", tokenColumns, sortColumn, direction)

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

func (d *PostgresTokenStore) CountTokens() (int, error) {
	var count int
	err := d.DB.QueryRow("SELECT COUNT(*) FROM tokens").Scan(&count)
	return count, err
}

// -----------------------------------------------------------------------------

func (d *PostgresTokenStore) GlobalStats() (models.MGlobalStats, error) {
	var stats models.MGlobalStats
	err := d.DB.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(volume_24h), 0), COALESCE(SUM(market_cap), 0) FROM tokens
	`).Scan(&stats.TotalTokens, &stats.TotalVolume, &stats.TotalMarketCap)
	return stats, err
}

// -----------------------------------------------------------------------------

// Listen opens a LISTEN subscription on the notification channel. The
// returned channel closes when ctx is cancelled or the listener dies.
func (d *PostgresTokenStore) Listen(ctx context.Context) (<-chan models.MStoreNotification, error) {
	dsn := d.Config.Storage.DBConnectionString

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			d.Logger.Warning("Postgres listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to LISTEN on %s: %w", notifyChannel, err)
	}

	out := make(chan models.MStoreNotification, 64)

	go func() {
		defer close(out)
		defer listener.Close()
		forwardNotifications(ctx, listener.Notify, out)
	}()

	return out, nil
}

// -----------------------------------------------------------------------------

// forwardNotifications pumps raw pq notifications into the store channel
// until ctx ends or the listener closes. Both the receive and the send
// honor ctx, so a departed consumer with a full buffer cannot strand the
// goroutine.
func forwardNotifications(ctx context.Context, in <-chan *pq.Notification, out chan<- models.MStoreNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-in:
			if !ok {
				return
			}
			if n == nil {
				// pq sends nil after an internal reconnect; notifications
				// in between are lost and recovered by the next fetch
				continue
			}
			select {
			case out <- parseNotification(n.Extra):
			case <-ctx.Done():
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

// parseNotification splits the trigger payload "TG_OP:address".
func parseNotification(payload string) models.MStoreNotification {
	op, address, found := strings.Cut(payload, ":")
	if !found {
		return models.MStoreNotification{Op: strings.ToLower(payload)}
	}
	return models.MStoreNotification{Op: strings.ToLower(op), Address: address}
}

// -----------------------------------------------------------------------------

func (d *PostgresTokenStore) CleanupOldData() error {
	retentionDays := d.Config.Storage.RetentionDays
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Unix()

	if _, err := d.DB.Exec("DELETE FROM tokens WHERE updated_at < $1", cutoff); err != nil {
		d.Logger.Error("Cleanup tokens error: %v", err)
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresTokenStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

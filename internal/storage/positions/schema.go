package positions

import "fmt"

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

const (
	rungPending = "pending"
	rungPlaced  = "placed"
	rungSkipped = "skipped"
)

type dialect struct {
	driver    string
	schema    []string
	forUpdate string
}

var sqliteDialect = dialect{
	driver: DriverSQLite,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS ladders (
			symbol_pair TEXT PRIMARY KEY,
			base_price TEXT NOT NULL,
			base_quantity TEXT NOT NULL,
			target_profit TEXT NOT NULL,
			price_decimals INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS safety_orders (
			symbol_pair TEXT NOT NULL,
			safety_order_no INTEGER NOT NULL,
			deviation TEXT NOT NULL,
			quantity TEXT NOT NULL,
			total_quantity TEXT NOT NULL,
			price TEXT NOT NULL,
			average_price TEXT NOT NULL,
			required_price TEXT NOT NULL,
			required_change TEXT NOT NULL,
			profit TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			PRIMARY KEY (symbol_pair, safety_order_no)
		);`,
		`CREATE TABLE IF NOT EXISTS open_buy_orders (
			symbol_pair TEXT NOT NULL,
			safety_order_no INTEGER NOT NULL,
			order_id TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			required_price TEXT NOT NULL,
			profit TEXT NOT NULL,
			filled BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol_pair, safety_order_no)
		);`,
		`CREATE TABLE IF NOT EXISTS open_sell_orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol_pair TEXT NOT NULL,
			safety_order_no INTEGER NOT NULL,
			order_id TEXT NOT NULL,
			quantity TEXT NOT NULL,
			required_price TEXT NOT NULL,
			profit TEXT NOT NULL,
			cancelled BOOLEAN NOT NULL DEFAULT 0,
			filled BOOLEAN NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_open_sell_orders_active
			ON open_sell_orders(symbol_pair) WHERE cancelled = 0 AND filled = 0;`,
	},
}

// mysql has no partial indexes, the active sell row is guarded with row locks instead.
var mysqlDialect = dialect{
	driver: DriverMySQL,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS ladders (
			symbol_pair VARCHAR(32) NOT NULL PRIMARY KEY,
			base_price VARCHAR(64) NOT NULL,
			base_quantity VARCHAR(64) NOT NULL,
			target_profit VARCHAR(64) NOT NULL,
			price_decimals INT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS safety_orders (
			symbol_pair VARCHAR(32) NOT NULL,
			safety_order_no INT NOT NULL,
			deviation VARCHAR(64) NOT NULL,
			quantity VARCHAR(64) NOT NULL,
			total_quantity VARCHAR(64) NOT NULL,
			price VARCHAR(64) NOT NULL,
			average_price VARCHAR(64) NOT NULL,
			required_price VARCHAR(64) NOT NULL,
			required_change VARCHAR(64) NOT NULL,
			profit VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'pending',
			PRIMARY KEY (symbol_pair, safety_order_no)
		)`,
		`CREATE TABLE IF NOT EXISTS open_buy_orders (
			symbol_pair VARCHAR(32) NOT NULL,
			safety_order_no INT NOT NULL,
			order_id VARCHAR(64) NOT NULL,
			price VARCHAR(64) NOT NULL,
			quantity VARCHAR(64) NOT NULL,
			required_price VARCHAR(64) NOT NULL,
			profit VARCHAR(64) NOT NULL,
			filled BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol_pair, safety_order_no)
		)`,
		`CREATE TABLE IF NOT EXISTS open_sell_orders (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			symbol_pair VARCHAR(32) NOT NULL,
			safety_order_no INT NOT NULL,
			order_id VARCHAR(64) NOT NULL,
			quantity VARCHAR(64) NOT NULL,
			required_price VARCHAR(64) NOT NULL,
			profit VARCHAR(64) NOT NULL,
			cancelled BOOLEAN NOT NULL DEFAULT 0,
			filled BOOLEAN NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			INDEX idx_open_sell_orders_pair (symbol_pair)
		)`,
	},
	forUpdate: " FOR UPDATE",
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite, "sqlite":
		return sqliteDialect, nil
	case DriverMySQL:
		return mysqlDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MatejaMaric/esdb-denormalizer/config"
	"github.com/MatejaMaric/esdb-denormalizer/projections"
	"github.com/go-sql-driver/mysql"
)

func ConnectToMariaDB(cfg config.MariaDB) (*sql.DB, error) {
	mysqlCfg := mysql.Config{
		Net:                  "tcp",
		Addr:                 cfg.Addr,
		DBName:               cfg.Database,
		User:                 cfg.User,
		Passwd:               cfg.Password,
		AllowNativePasswords: true,
		ParseTime:            true,
	}

	db, err := sql.Open("mysql", mysqlCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open the connection to MariaDB: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return db, nil
}

// ConnFactory hands every dispatch its own pooled connection, returned to the
// pool when the dispatch closes its handle.
type ConnFactory[P any] struct {
	DB    *sql.DB
	Table *Table[P]
}

var _ projections.Factory[any] = ConnFactory[any]{}

func (f ConnFactory[P]) Create(ctx context.Context) (projections.Persistence[P], error) {
	conn, err := f.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire a connection: %w", err)
	}

	return &connStore[P]{TableStore: f.Table.Store(conn), conn: conn}, nil
}

type connStore[P any] struct {
	*TableStore[P]
	conn *sql.Conn
}

func (s *connStore[P]) Close() error {
	return s.conn.Close()
}

package respcache

import (
	"context"
	"database/sql"
	"log"

	"github.com/BurntSushi/migration"
	_ "github.com/go-sql-driver/mysql"
)

// This file implements the structured cache tier using MySQL as the
// backing store.

type mysqlTable struct {
	db *sql.DB
}

var _ Table = &mysqlTable{}

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

// Adapt the schema versioning for MySQL

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

func mysqlschema1(tx migration.LimitedTx) error {
	const s = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		product VARCHAR(64) NOT NULL,
		rowkey VARCHAR(32) NOT NULL,
		batch_id VARCHAR(64),
		response MEDIUMBLOB,
		updated DATETIME,
		PRIMARY KEY (product, rowkey))`

	_, err := tx.Exec(s)
	return err
}

// NewMysqlTable connects to a MySQL database and returns the structured
// cache tier backed by it. The dial string has the usual form, e.g.
// "user:password@tcp(localhost:3306)/dbname".
func NewMysqlTable(dial string) (Table, error) {
	db, err := migration.OpenWith(
		"mysql",
		dial,
		mysqlMigrations,
		mysqlVersioning.Get,
		mysqlVersioning.Set)
	if err != nil {
		log.Printf("Open Mysql: %s", err.Error())
		return nil, err
	}
	return &mysqlTable{db: db}, nil
}

func (mt *mysqlTable) Lookup(ctx context.Context, productName, rowkey string) (*Row, error) {
	const query = `SELECT batch_id, response FROM cache_entries WHERE product = ? AND rowkey = ? LIMIT 1`

	row := &Row{Product: productName, RowKey: rowkey}
	var batchID sql.NullString
	err := mt.db.QueryRowContext(ctx, query, productName, rowkey).Scan(&batchID, &row.Response)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	row.BatchID = batchID.String
	return row, nil
}

func (mt *mysqlTable) Save(ctx context.Context, row Row) error {
	const stmt = `
		INSERT INTO cache_entries (product, rowkey, batch_id, response, updated)
		VALUES (?, ?, ?, ?, now())
		ON DUPLICATE KEY UPDATE batch_id=?, response=?, updated=now()`

	_, err := mt.db.ExecContext(ctx, stmt,
		row.Product, row.RowKey, row.BatchID, row.Response,
		row.BatchID, row.Response)
	return err
}

func (mt *mysqlTable) Delete(ctx context.Context, productName, rowkey string) error {
	const stmt = `DELETE FROM cache_entries WHERE product = ? AND rowkey = ?`

	_, err := mt.db.ExecContext(ctx, stmt, productName, rowkey)
	return err
}

package respcache

import (
	"context"
	"database/sql"
	"log"

	_ "github.com/cznic/ql/driver"
)

// This file implements the structured cache tier using the QL embedded
// database. It is intended for development and testing only.

type qlTable struct {
	db *sql.DB
}

var _ Table = &qlTable{}

const qlInit = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		product string,
		rowkey string,
		batch_id string,
		response blob
	);
	CREATE INDEX IF NOT EXISTS entryproduct ON cache_entries (product);
`

// NewQlTable makes a QL backed cache table. filename is the name of the
// file to save the database to. The filename "memory" keeps everything in
// memory.
func NewQlTable(filename string) (Table, error) {
	var db *sql.DB
	var err error
	if filename == "memory" {
		db, err = sql.Open("ql-mem", "mem.db")
	} else {
		db, err = sql.Open("ql", filename)
	}
	if err == nil {
		_, err = performExec(db, qlInit)
	}
	if err != nil {
		log.Printf("Open QL: %s", err.Error())
		return nil, err
	}
	return &qlTable{db: db}, nil
}

func (qt *qlTable) Lookup(ctx context.Context, productName, rowkey string) (*Row, error) {
	const query = `SELECT batch_id, response FROM cache_entries WHERE product == ?1 AND rowkey == ?2 LIMIT 1`

	row := &Row{Product: productName, RowKey: rowkey}
	err := qt.db.QueryRowContext(ctx, query, productName, rowkey).Scan(&row.BatchID, &row.Response)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (qt *qlTable) Save(ctx context.Context, row Row) error {
	const update = `UPDATE cache_entries SET batch_id = ?3, response = ?4 WHERE product == ?1 AND rowkey == ?2`
	const insert = `INSERT INTO cache_entries VALUES (?1, ?2, ?3, ?4)`

	result, err := performExec(qt.db, update, row.Product, row.RowKey, row.BatchID, row.Response)
	if err != nil {
		return err
	}
	nrows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if nrows == 0 {
		// record didn't exist. create it
		_, err = performExec(qt.db, insert, row.Product, row.RowKey, row.BatchID, row.Response)
	}
	return err
}

func (qt *qlTable) Delete(ctx context.Context, productName, rowkey string) error {
	const stmt = `DELETE FROM cache_entries WHERE product == ?1 AND rowkey == ?2`

	_, err := performExec(qt.db, stmt, productName, rowkey)
	return err
}

// QL requires every modification to happen inside a transaction.
func performExec(db *sql.DB, query string, args ...interface{}) (sql.Result, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	var result sql.Result
	result, err = tx.Exec(query, args...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	err = tx.Commit()
	return result, err
}

// Package mysql provides the shared MySQL connection opener and the
// schema migration runner. Domain packages own their table access and
// receive an already opened *sql.DB.
package mysql

// Package database provides connection management, configuration loading,
// schema-generation policies, SQL data import, error classification, query
// hooks, metrics, logging and health checks built on top of Bun.
package database

// Package repository implements a unit of work over Bun: records are tracked
// with snapshots, changes are staged and flushed atomically on commit, and a
// generic record store provides create, find, update, delete and paged
// listing for a single explicitly mapped record type.
package repository

// Package db is the work-item repository for the pipeline: the tracks table
// in the application's Postgres database. Rows double as the durable
// progress ledger. A track is pending until hls_ready_at is set, so reruns
// pick up exactly the rows still lacking it.
package db

import (
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/focusmusic/hls-pipeline/retry"
)

var ErrTrackNotFound = errors.New("track not found")

const markDoneDelay = 2 * time.Second

type Options struct {
	DSN string
}

// Client wraps the gorm handle with the queries the pipeline needs.
type Client struct {
	db      *gorm.DB
	backoff retry.Backoff
}

// NewClient opens a Postgres connection from a DSN.
func NewClient(opt *Options) (*Client, error) {
	if opt == nil || opt.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	gdb, err := gorm.Open(postgres.Open(opt.DSN), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "opening database")
	}
	return &Client{db: gdb}, nil
}

// NewClientWithDB wraps an existing gorm handle. Used by tests.
func NewClientWithDB(gdb *gorm.DB) *Client {
	return &Client{db: gdb}
}

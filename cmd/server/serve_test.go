package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"persona/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func TestWaitForShutdownReturnsServerError(t *testing.T) {
	errCh := make(chan error, 1)
	errCh <- errors.New("http server: listen tcp :8080: address already in use")

	err := waitForShutdown(context.Background(), errCh, logger.Discard())
	assert.EqualError(t, err, "http server: listen tcp :8080: address already in use")
}

func TestWaitForShutdownOnSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, waitForShutdown(ctx, make(chan error), logger.Discard()))
}

func TestWaitForShutdownBlocksUntilEvent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.NoError(t, waitForShutdown(ctx, make(chan error), logger.Discard()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeDrainsWhenListenerFails(t *testing.T) {
	drained := false
	srv := &http.Server{Addr: "127.0.0.1:-1", Handler: http.NotFoundHandler()}

	err := serve(context.Background(), srv, func() { drained = true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http server")
	assert.True(t, drained)
}

func TestServeDrainsOnCancel(t *testing.T) {
	drained := false
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, serve(ctx, srv, func() { drained = true }))
	assert.True(t, drained)
}

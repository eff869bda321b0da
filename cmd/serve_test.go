package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew12-circle/circle-marketplace/internal/api"
	"github.com/andrew12-circle/circle-marketplace/internal/batch"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
	"github.com/andrew12-circle/circle-marketplace/pkg/anthropic"
)

type cannedAI struct{}

func (cannedAI) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{
		Model:   req.Model,
		Content: []anthropic.ContentBlock{{Type: "text", Text: "## Overview\nSolid value."}},
	}, nil
}

// getFreePort returns a free TCP port on localhost.
func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func waitReady(t *testing.T, url string) {
	t.Helper()
	for range 50 {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not become ready in time")
}

func TestServe_Lifecycle(t *testing.T) {
	c := testConfig(t)
	setTestConfig(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, "deals")
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.UpsertCatalogItem(ctx, model.CatalogItem{ID: "svc-1", Title: "Listing Photos", IsFeatured: true}))
	require.NoError(t, st.UpsertCatalogItem(ctx, model.CatalogItem{ID: "svc-2", Title: "Yard Signs"}))
	require.NoError(t, st.UpsertProfile(ctx, model.Profile{UserID: "admin-1", IsAdmin: true}))

	port := getFreePort(t)
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	srv := api.NewServer(fmt.Sprintf("127.0.0.1:%d", port), buildHandler(st, cannedAI{}))

	errCh := make(chan error, 1)
	go func() { errCh <- runServer(ctx, srv, time.Second) }()
	waitReady(t, base+"/health")

	// Top deals
	resp, err := http.Get(base + "/api/deals/top")
	require.NoError(t, err)
	var top struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&top))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, top.Count)

	// Bulk research as an admin
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(c.Server.JWTSecret))
	require.NoError(t, err)

	body, _ := json.Marshal(batch.PageRequest{Mode: batch.ModeOverwrite, Limit: 10})
	req, err := http.NewRequest(http.MethodPost, base+"/functions/v1/bulk-research", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var page batch.PageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, page.Processed)
	assert.Equal(t, 2, page.Updated)
	assert.False(t, page.HasMore)

	item, err := st.GetCatalogItem(ctx, "svc-2")
	require.NoError(t, err)
	assert.True(t, item.HasResearch())

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestRunServer_ListenError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	srv := &http.Server{Addr: l.Addr().String(), Handler: http.NotFoundHandler()}
	err = runServer(context.Background(), srv, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server listen")
}

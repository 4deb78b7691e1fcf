package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/ideengine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLeaderChecker struct {
	isLeader   bool
	leaderAddr string
}

func (f fakeLeaderChecker) IsLeader() bool     { return f.isLeader }
func (f fakeLeaderChecker) LeaderAddr() string { return f.leaderAddr }

type fakeHealthAdapter struct {
	loadErr error
	paths   []string
}

func (f fakeHealthAdapter) LoadText(ctx context.Context, key types.DocumentKey) (string, error) {
	return "", f.loadErr
}
func (f fakeHealthAdapter) SaveText(ctx context.Context, key types.DocumentKey, text string) error {
	return nil
}
func (f fakeHealthAdapter) ListPaths(ctx context.Context, bucket types.BucketHandle) ([]string, error) {
	return f.paths, nil
}
func (f fakeHealthAdapter) Clone(ctx context.Context, src types.BucketHandle, newName string) (types.BucketHandle, error) {
	return types.BucketHandle{}, nil
}
func (f fakeHealthAdapter) Tombstone(ctx context.Context, bucket types.BucketHandle) error {
	return nil
}
func (f fakeHealthAdapter) Close() error { return nil }

func TestHealthServer_HealthzAlwaysReportsHealthy(t *testing.T) {
	hs := NewHealthServer(nil, fakeHealthAdapter{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthServer_ReadyzStandaloneWithReachableAdapterIsReady(t *testing.T) {
	hs := NewHealthServer(nil, fakeHealthAdapter{})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp readyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "standalone", resp.Checks["raft"])
	assert.Equal(t, "ok", resp.Checks["snapshot_adapter"])
}

func TestHealthServer_ReadyzReportsNotReadyOnAdapterFailure(t *testing.T) {
	hs := NewHealthServer(nil, fakeHealthAdapter{loadErr: errors.New("object store unreachable")})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp readyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not ready", resp.Status)
}

func TestHealthServer_ReadyzFollowerWithNoLeaderIsNotReady(t *testing.T) {
	hs := NewHealthServer(fakeLeaderChecker{isLeader: false, leaderAddr: ""}, fakeHealthAdapter{})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthServer_ReadyzFollowerWithKnownLeaderIsReady(t *testing.T) {
	hs := NewHealthServer(fakeLeaderChecker{isLeader: false, leaderAddr: "10.0.0.2:7000"}, fakeHealthAdapter{})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthServer_FilesHandlerReturnsAdapterPaths(t *testing.T) {
	hs := NewHealthServer(nil, fakeHealthAdapter{paths: []string{"main.py", "README.md"}})
	req := httptest.NewRequest(http.MethodGet, "/buckets/b1/files", nil)
	rec := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp filesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"main.py", "README.md"}, resp.Paths)
}

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shadowshift/internal/poller"
	"github.com/user/shadowshift/internal/types"
)

func TestPIDFileLive(t *testing.T) {
	pf := pidFile(filepath.Join(t.TempDir(), "shadowshift.pid"))

	_, err := pf.live()
	assert.ErrorIs(t, err, errNotRunning)

	require.NoError(t, pf.write())
	proc, err := pf.live()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), proc.Pid)

	pf.remove()
	_, err = pf.live()
	assert.ErrorIs(t, err, errNotRunning)
}

func TestPIDFileStaleIsRemoved(t *testing.T) {
	child := exec.Command("true")
	require.NoError(t, child.Run())

	pf := pidFile(filepath.Join(t.TempDir(), "shadowshift.pid"))
	require.NoError(t, os.WriteFile(string(pf), []byte(strconv.Itoa(child.Process.Pid)+"\n"), 0644))

	_, err := pf.live()
	assert.ErrorIs(t, err, errNotRunning)
	assert.Contains(t, err.Error(), "removed stale PID file")
	assert.NoFileExists(t, string(pf))
}

func TestPIDFileCorrupt(t *testing.T) {
	pf := pidFile(filepath.Join(t.TempDir(), "shadowshift.pid"))
	require.NoError(t, os.WriteFile(string(pf), []byte("not-a-pid\n"), 0644))

	_, err := pf.live()
	require.Error(t, err)
	assert.NotErrorIs(t, err, errNotRunning)
	assert.Contains(t, err.Error(), "corrupt")
	assert.FileExists(t, string(pf))
}

func TestFetchPollStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/poll/stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"run_id":"r1","status":"completed","found":{"mail":2,"vcs":1},"drafted":3,"errors":[]}`))
	}))
	defer srv.Close()

	stats, err := fetchPollStats(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, poller.StatusCompleted, stats.Status)
	assert.Equal(t, 3, stats.Drafted)
	assert.Equal(t, map[types.Source]int{types.SourceMail: 2, types.SourceVCS: 1}, stats.Found)
}

func TestFetchPollStatsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fetchPollStats(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

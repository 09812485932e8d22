package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/censys/scandiff/pkg/dal/sqlite"
	"github.com/censys/scandiff/pkg/diff"
	"github.com/censys/scandiff/pkg/logging"
	"github.com/censys/scandiff/pkg/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	log := logging.Discard()
	svc := service.New(repo, diff.DefaultOptions(), log)
	srv := httptest.NewServer(Routes(NewHandler(svc, log), log))
	t.Cleanup(srv.Close)
	return srv
}

func upload(t *testing.T, srv *httptest.Server, filename, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/snapshots/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func snapshotJSON(ip, ts string, services string) string {
	return fmt.Sprintf(`{"ip":%q,"timestamp":%q,"services":[%s]}`, ip, ts, services)
}

type uploadResponse struct {
	Snapshots []uploadedSnapshot `json:"snapshots"`
}

func uploadID(t *testing.T, srv *httptest.Server, filename, content string) int64 {
	t.Helper()
	resp := upload(t, srv, filename, content)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Snapshots, 1)
	return out.Snapshots[0].ID
}

func TestUploadAndGet(t *testing.T) {
	srv := newTestServer(t)

	id := uploadID(t, srv, "host.json", snapshotJSON("192.168.1.1", "2025-09-10T03:00:00Z",
		`{"port":80,"protocol":"HTTP","status":200,"vulnerabilities":["CVE-2023-1"]}`))

	var snap map[string]interface{}
	status := getJSON(t, srv, fmt.Sprintf("/api/snapshots/%d", id), &snap)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "192.168.1.1", snap["ip"])
	assert.Equal(t, "host.json", snap["filename"])
	assert.Equal(t, float64(1), snap["service_count"])
}

func TestUploadErrors(t *testing.T) {
	srv := newTestServer(t)
	valid := snapshotJSON("192.168.1.1", "2025-09-10T03:00:00Z", "")

	assert.Equal(t, http.StatusCreated, upload(t, srv, "a.json", valid).StatusCode)
	assert.Equal(t, http.StatusConflict, upload(t, srv, "b.json", valid).StatusCode)
	assert.Equal(t, http.StatusBadRequest, upload(t, srv, "a.txt", valid).StatusCode)
	assert.Equal(t, http.StatusBadRequest, upload(t, srv, "bad.json", `{"ip":`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, upload(t, srv, "noip.json", `{"timestamp":"2025-09-10T03:00:00Z","services":[]}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, upload(t, srv, "count.json",
		`{"ip":"192.168.1.1","timestamp":"2025-09-11T03:00:00Z","services":[],"service_count":2}`).StatusCode)

	resp, err := http.Post(srv.URL+"/api/snapshots/upload", "application/json", bytes.NewBufferString(valid))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadCanonicalizesHost(t *testing.T) {
	srv := newTestServer(t)

	uploadID(t, srv, "a.json", snapshotJSON("2001:DB8::1", "2025-09-10T03:00:00Z", ""))
	uploadID(t, srv, "b.json", snapshotJSON("2001:db8:0::1", "2025-09-15T03:00:00Z",
		`{"port":22,"protocol":"SSH"}`))

	var hosts struct {
		Hosts []struct {
			IP            string `json:"ip"`
			SnapshotCount int    `json:"snapshot_count"`
		} `json:"hosts"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/hosts", &hosts))
	require.Len(t, hosts.Hosts, 1)
	assert.Equal(t, "2001:db8::1", hosts.Hosts[0].IP)
	assert.Equal(t, 2, hosts.Hosts[0].SnapshotCount)

	var list struct {
		Snapshots []map[string]interface{} `json:"snapshots"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/hosts/2001:DB8::1/snapshots", &list))
	assert.Len(t, list.Snapshots, 2)

	var report map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/hosts/2001:DB8::1/diff/latest", &report))
	assert.Equal(t, true, report["has_changes"])

	assert.Equal(t, http.StatusBadRequest,
		upload(t, srv, "junk.json", snapshotJSON("not-an-ip", "2025-09-10T03:00:00Z", "")).StatusCode)
}

func TestGetSnapshotErrors(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/snapshots/404", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/snapshots/abc", nil))
}

func TestHostsAndSnapshots(t *testing.T) {
	srv := newTestServer(t)
	uploadID(t, srv, "b.json", snapshotJSON("192.168.1.1", "2025-09-15T03:00:00Z", ""))
	uploadID(t, srv, "a.json", snapshotJSON("192.168.1.1", "2025-09-10T03:00:00Z", ""))
	uploadID(t, srv, "c.json", snapshotJSON("10.0.0.1", "2025-09-10T03:00:00Z", ""))

	var hosts struct {
		Hosts []struct {
			IP            string `json:"ip"`
			SnapshotCount int    `json:"snapshot_count"`
		} `json:"hosts"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/hosts", &hosts))
	require.Len(t, hosts.Hosts, 2)
	assert.Equal(t, "10.0.0.1", hosts.Hosts[0].IP)
	assert.Equal(t, 2, hosts.Hosts[1].SnapshotCount)

	var list struct {
		Snapshots []struct {
			Timestamp string `json:"timestamp"`
			Filename  string `json:"filename"`
		} `json:"snapshots"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/hosts/192.168.1.1/snapshots", &list))
	require.Len(t, list.Snapshots, 2)
	assert.Equal(t, "a.json", list.Snapshots[0].Filename)
	assert.Equal(t, "b.json", list.Snapshots[1].Filename)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/hosts/not-an-ip/snapshots", nil))
}

func TestDiffEndpoint(t *testing.T) {
	srv := newTestServer(t)

	oldID := uploadID(t, srv, "old.json", snapshotJSON("192.168.1.1", "2025-09-10T03:00:00Z",
		`{"port":80,"protocol":"tcp","status":1,"software":{"vendor":"nginx"},"vulnerabilities":["CVE-2020-1"]}`))
	newID := uploadID(t, srv, "new.json", snapshotJSON("192.168.1.1", "2025-09-15T03:00:00Z",
		`{"port":80,"protocol":"tcp","status":1,"software":{"vendor":"nginx"},"vulnerabilities":[]},{"port":22,"protocol":"tcp","status":1}`))
	otherID := uploadID(t, srv, "other.json", snapshotJSON("10.0.0.1", "2025-09-15T03:00:00Z", ""))

	// ids reversed: the handler still diffs older to newer
	var report diff.DiffReport
	require.Equal(t, http.StatusOK, getJSON(t, srv, fmt.Sprintf("/api/diff/%d/%d", newID, oldID), &report))
	assert.True(t, report.HasChanges())
	assert.Equal(t, oldID, report.OldSnapshot.ID)
	require.Len(t, report.PortsAdded, 1)
	assert.Equal(t, 22, report.PortsAdded[0].Port)
	require.Len(t, report.ServicesChanged, 1)
	assert.Equal(t, []string{"CVE-2020-1"}, report.ServicesChanged[0].VulnerabilitiesFixed)

	var latest diff.DiffReport
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/hosts/192.168.1.1/diff/latest", &latest))
	assert.Equal(t, newID, latest.NewSnapshot.ID)

	var errBody map[string]string
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, fmt.Sprintf("/api/diff/%d/%d", oldID, otherID), &errBody))
	assert.Contains(t, errBody["error"], "same host")

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv, fmt.Sprintf("/api/diff/%d/999", oldID), nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/diff/x/1", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv, "/api/hosts/10.0.0.1/diff/latest", nil))
}

func TestHealthAndCORS(t *testing.T) {
	srv := newTestServer(t)

	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv, "/health", &body))
	assert.Equal(t, "ok", body["status"])

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/hosts", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Recover(logging.Discard()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

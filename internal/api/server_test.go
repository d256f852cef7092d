package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sitevault/sitevault/internal/auth"
	"github.com/sitevault/sitevault/internal/chunks"
	"github.com/sitevault/sitevault/internal/metadata/memory"
	"github.com/sitevault/sitevault/internal/sharing"
	"github.com/sitevault/sitevault/internal/vault"
)

type testServer struct {
	*httptest.Server
	engine     *vault.Engine
	userToken  string
	adminToken string
	guestToken string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	engine, err := vault.NewEngine(t.TempDir())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	meta := memory.New()
	catalog := vault.NewCatalog(engine, meta)
	cache := vault.NewCache(1<<20, time.Minute)
	assembler, err := chunks.New(t.TempDir(), meta, engine, time.Hour)
	if err != nil {
		t.Fatalf("chunks.New: %v", err)
	}
	shares := sharing.NewRegistry(meta, engine)
	authHandler := auth.New("test-secret")

	srv := NewServer(engine, catalog, cache, assembler, shares, meta, authHandler, 1<<20)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	userToken, err := authHandler.GenerateToken(1, "alice", auth.RoleUser)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	adminToken, err := authHandler.GenerateToken(2, "root", auth.RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	guestToken, err := authHandler.GenerateToken(3, "visitor", auth.RoleGuest)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	return &testServer{
		Server:     ts,
		engine:     engine,
		userToken:  userToken,
		adminToken: adminToken,
		guestToken: guestToken,
	}
}

func (ts *testServer) do(t *testing.T, token, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (ts *testServer) upload(t *testing.T, token, folderPath, fileName, content string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if folderPath != "" {
		mw.WriteField("folderPath", folderPath)
	}
	fw, err := mw.CreateFormFile("files", fileName)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/storage/upload", &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status %d: %s", resp.StatusCode, body)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "", http.MethodGet, "/storage/items", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	// Health stays open
	resp = ts.do(t, "", http.MethodGet, "/health", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}
}

func TestGuestIsReadOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "", "seen.txt", "x")

	resp := ts.do(t, ts.guestToken, http.MethodGet, "/storage/items", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("guest list status = %d, want 200", resp.StatusCode)
	}

	resp = ts.do(t, ts.guestToken, http.MethodPost, "/storage/folder",
		map[string]string{"folderName": "nope", "parentPath": ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("guest create status = %d, want 403", resp.StatusCode)
	}
}

func TestUploadListDownload(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "docs", "hello.txt", "hello world")

	var page vault.Page
	resp := ts.do(t, ts.userToken, http.MethodGet, "/storage/items?path=docs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &page)
	if page.TotalItems != 1 || page.Items[0].Name != "hello.txt" {
		t.Fatalf("page = %+v", page)
	}

	resp = ts.do(t, ts.userToken, http.MethodGet, "/storage/download?path=docs/hello.txt", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "hello world" {
		t.Errorf("content = %q", data)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	// A second download is served from cache with identical bytes
	resp = ts.do(t, ts.userToken, http.MethodGet, "/storage/download?path=docs/hello.txt", nil)
	defer resp.Body.Close()
	data, _ = io.ReadAll(resp.Body)
	if string(data) != "hello world" {
		t.Errorf("cached content = %q", data)
	}
}

func TestDownloadTraversalRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, ts.userToken, http.MethodGet,
		"/storage/download?path="+url.QueryEscape("../../etc/passwd"), nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	// Error bodies must not leak filesystem detail
	if strings.Contains(string(body), ts.engine.Root()) {
		t.Errorf("error body leaks the storage root: %s", body)
	}
}

func TestDeleteRestoreFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "docs", "tmp.txt", "x")

	resp := ts.do(t, ts.userToken, http.MethodDelete, "/storage/delete?itemPath=docs/tmp.txt", nil)
	var del struct {
		Trashed bool `json:"trashed"`
	}
	decodeJSON(t, resp, &del)
	if resp.StatusCode != http.StatusOK || !del.Trashed {
		t.Fatalf("delete status=%d trashed=%v", resp.StatusCode, del.Trashed)
	}

	resp = ts.do(t, ts.userToken, http.MethodGet, "/storage/trash/items", nil)
	var trash struct {
		Items []vault.StorageItem `json:"items"`
	}
	decodeJSON(t, resp, &trash)
	if len(trash.Items) != 1 {
		t.Fatalf("trash has %d items, want 1", len(trash.Items))
	}

	resp = ts.do(t, ts.userToken, http.MethodPut, "/storage/trash/restore",
		map[string]string{"itemPath": "docs/tmp.txt"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restore status = %d", resp.StatusCode)
	}

	resp = ts.do(t, ts.userToken, http.MethodGet, "/storage/download?path=docs/tmp.txt", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("download after restore = %d", resp.StatusCode)
	}
}

func TestTrashEmptyIsAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "", "junk.txt", "x")
	resp := ts.do(t, ts.userToken, http.MethodDelete, "/storage/delete?itemPath=junk.txt", nil)
	resp.Body.Close()

	resp = ts.do(t, ts.userToken, http.MethodDelete, "/storage/trash", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("user empty-trash status = %d, want 403", resp.StatusCode)
	}

	resp = ts.do(t, ts.adminToken, http.MethodDelete, "/storage/trash", nil)
	var out struct {
		Purged int `json:"purged"`
	}
	decodeJSON(t, resp, &out)
	if resp.StatusCode != http.StatusOK || out.Purged != 1 {
		t.Errorf("admin empty-trash status=%d purged=%d", resp.StatusCode, out.Purged)
	}
}

func TestVersionsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "", "v.txt", "one")
	ts.upload(t, ts.userToken, "", "v.txt", "two")

	resp := ts.do(t, ts.userToken, http.MethodGet, "/storage/versions?itemPath=v.txt", nil)
	var out struct {
		Versions []vault.Version `json:"versions"`
	}
	decodeJSON(t, resp, &out)
	if len(out.Versions) != 1 {
		t.Fatalf("got %d versions, want 1", len(out.Versions))
	}
}

func TestShareLinkFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "public", "shared.txt", "share me")

	resp := ts.do(t, ts.userToken, http.MethodPost, "/storage/share",
		map[string]any{"filePath": "public/shared.txt", "expiresIn": 24})
	var link struct {
		ShareLink string `json:"shareLink"`
	}
	decodeJSON(t, resp, &link)
	if resp.StatusCode != http.StatusOK || link.ShareLink == "" {
		t.Fatalf("share status=%d link=%q", resp.StatusCode, link.ShareLink)
	}

	// Links are only minted for paths that exist
	resp = ts.do(t, ts.userToken, http.MethodPost, "/storage/share",
		map[string]any{"filePath": "public/missing.txt", "expiresIn": 24})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("share for missing path status = %d, want 404", resp.StatusCode)
	}

	// Resolution needs no auth
	resp = ts.do(t, "", http.MethodGet, "/storage/shared/"+link.ShareLink, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("shared download status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "share me" {
		t.Errorf("content = %q", data)
	}

	// Unknown token
	resp = ts.do(t, "", http.MethodGet, "/storage/shared/0000000000000000", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", resp.StatusCode)
	}

	// Revoked token answers 410
	resp = ts.do(t, ts.userToken, http.MethodDelete, "/storage/share/"+link.ShareLink, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke status = %d", resp.StatusCode)
	}
	resp = ts.do(t, "", http.MethodGet, "/storage/shared/"+link.ShareLink, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Errorf("revoked token status = %d, want 410", resp.StatusCode)
	}
}

func TestExpiredShareLinkIs410(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "", "x.txt", "x")

	resp := ts.do(t, ts.userToken, http.MethodPost, "/storage/share",
		map[string]any{"filePath": "x.txt", "expiresIn": 0})
	var link struct {
		ShareLink string `json:"shareLink"`
	}
	decodeJSON(t, resp, &link)

	resp = ts.do(t, "", http.MethodGet, "/storage/shared/"+link.ShareLink, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Errorf("zero-expiry token status = %d, want 410", resp.StatusCode)
	}
}

func TestChunkedUploadFlow(t *testing.T) {
	ts := newTestServer(t)

	send := func(index int, data string) *http.Response {
		u := fmt.Sprintf("/storage/upload-chunk?uploadId=big1&fileName=big.bin&destinationPath=uploads&chunkIndex=%d&totalChunks=3", index)
		req, err := http.NewRequest(http.MethodPost, ts.URL+u, strings.NewReader(data))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+ts.userToken)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("send chunk: %v", err)
		}
		return resp
	}

	for _, i := range []int{2, 0} {
		resp := send(i, fmt.Sprintf("part%d-", i))
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("chunk %d status = %d", i, resp.StatusCode)
		}
	}

	// Completing with a gap fails and produces no file
	resp := ts.do(t, ts.userToken, http.MethodPost, "/storage/upload-chunk/complete",
		map[string]string{"uploadId": "big1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("incomplete completion status = %d, want 400", resp.StatusCode)
	}

	resp = send(1, "part1-")
	var status chunks.Status
	decodeJSON(t, resp, &status)
	if !status.Complete {
		t.Fatalf("status = %+v, want complete", status)
	}

	resp = ts.do(t, ts.userToken, http.MethodPost, "/storage/upload-chunk/complete",
		map[string]string{"uploadId": "big1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("completion status = %d, want 201", resp.StatusCode)
	}

	resp = ts.do(t, ts.userToken, http.MethodGet, "/storage/download?path=uploads/big.bin", nil)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "part0-part1-part2-" {
		t.Errorf("assembled content = %q", data)
	}
}

func TestFavoritesFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "docs", "fav.txt", "x")

	resp := ts.do(t, ts.userToken, http.MethodPost, "/storage/favorite",
		map[string]string{"itemPath": "docs/fav.txt"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add favorite status = %d", resp.StatusCode)
	}

	var page vault.Page
	resp = ts.do(t, ts.userToken, http.MethodGet, "/storage/items?path=.favorite", nil)
	decodeJSON(t, resp, &page)
	if page.TotalItems != 1 || page.Items[0].Path != "docs/fav.txt" {
		t.Fatalf("favorites page = %+v", page)
	}

	resp = ts.do(t, ts.userToken, http.MethodDelete, "/storage/favorite?itemPath=docs/fav.txt", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("remove favorite status = %d", resp.StatusCode)
	}

	resp = ts.do(t, ts.userToken, http.MethodGet, "/storage/items?path=.favorite", nil)
	decodeJSON(t, resp, &page)
	if page.TotalItems != 0 {
		t.Errorf("favorites after removal = %+v", page)
	}
}

func TestPreviewTypeGate(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "", "readme.txt", "text")
	ts.upload(t, ts.userToken, "", "data.bin", "\x00\x01")

	resp := ts.do(t, ts.userToken, http.MethodGet, "/storage/preview?path=readme.txt", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("text preview status = %d, want 200", resp.StatusCode)
	}

	resp = ts.do(t, ts.userToken, http.MethodGet, "/storage/preview?path=data.bin", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("binary preview status = %d, want 400", resp.StatusCode)
	}
}

func TestActivityLogIsAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "", "a.txt", "x")

	resp := ts.do(t, ts.userToken, http.MethodGet, "/storage/activity", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("user activity status = %d, want 403", resp.StatusCode)
	}

	resp = ts.do(t, ts.adminToken, http.MethodGet, "/storage/activity", nil)
	var out struct {
		Activity []struct {
			Action string `json:"action"`
			Path   string `json:"path"`
		} `json:"activity"`
	}
	decodeJSON(t, resp, &out)
	if resp.StatusCode != http.StatusOK || len(out.Activity) == 0 {
		t.Errorf("admin activity status=%d entries=%d", resp.StatusCode, len(out.Activity))
	}
}

func TestRenameAndMove(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, ts.userToken, "docs", "draft.txt", "x")

	resp := ts.do(t, ts.userToken, http.MethodPut, "/storage/rename",
		map[string]string{"oldPath": "docs/draft.txt", "newName": "final.txt"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename status = %d", resp.StatusCode)
	}

	resp = ts.do(t, ts.userToken, http.MethodPut, "/storage/move",
		map[string]string{"sourcePath": "docs/final.txt", "destinationPath": "archive"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("move status = %d", resp.StatusCode)
	}

	resp = ts.do(t, ts.userToken, http.MethodGet, "/storage/download?path=archive/final.txt", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("download after move = %d", resp.StatusCode)
	}

	resp = ts.do(t, ts.userToken, http.MethodPut, "/storage/rename",
		map[string]string{"oldPath": "archive/final.txt", "newName": "bad:name"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid rename status = %d, want 400", resp.StatusCode)
	}
}

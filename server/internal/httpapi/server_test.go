package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdzsx789/xufei-agent/internal/config"
	"github.com/tdzsx789/xufei-agent/internal/protocol"
	"github.com/tdzsx789/xufei-agent/server/internal/images"
	"github.com/tdzsx789/xufei-agent/server/internal/store"
)

var testNow = time.UnixMilli(1_700_000_000_123)

type testEnv struct {
	srv    *Server
	ts     *httptest.Server
	dir    string
	ledger *store.Store
	opened []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	temp := t.TempDir()

	ledger, err := store.Open(filepath.Join(temp, "uploads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	clock := clockwork.NewFakeClockAt(testNow)
	dir := filepath.Join(temp, "stored_images")
	imgs, err := images.NewStore(dir, ledger, clock)
	require.NoError(t, err)

	env := &testEnv{dir: dir, ledger: ledger}
	env.srv = New(Options{
		Images:   imgs,
		Settings: ledger,
		Config: config.Config{
			Interface:   false,
			Address:     "/srv/kiosk",
			Entrance:    "main.html",
			SubEntrance: "secondary.html",
		},
		PublicURL: "http://localhost:5260",
		OpenURL: func(u string) error {
			env.opened = append(env.opened, u)
			return nil
		},
		Clock: clock,
	})
	env.ts = httptest.NewServer(env.srv.Echo())
	t.Cleanup(env.ts.Close)
	return env
}

type upload struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (env *testEnv) upload(t *testing.T, files ...upload) (*http.Response, []byte) {
	t.Helper()
	body, ctype := multipartBody(t, files...)
	resp, err := http.Post(env.ts.URL+"/storeImage", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (env *testEnv) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(env.ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func (env *testEnv) postJSON(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(env.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func jpeg(size int) []byte {
	data := bytes.Repeat([]byte{0xab}, size)
	copy(data, []byte{0xff, 0xd8, 0xff, 0xe0})
	return data
}

func TestUploadJPEGAppearsInListing(t *testing.T) {
	env := newTestEnv(t)
	payload := jpeg(5 * 1000 * 1000)

	resp, raw := env.upload(t, upload{name: "photo.jpg", contentType: "image/jpeg", data: payload})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var stored storeImageResponse
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.True(t, stored.Success)
	require.NotNil(t, stored.UploadedFile)
	assert.Equal(t, "1700000000123_photo.jpg", stored.UploadedFile.FileName)
	assert.Equal(t, "photo.jpg", stored.UploadedFile.OriginalName)
	assert.Equal(t, int64(len(payload)), stored.UploadedFile.Size)
	assert.Equal(t, env.dir, stored.FolderPath)
	assert.Equal(t, 1, stored.TotalFiles)
	assert.Equal(t, "Folder status: "+msgCreated, stored.Message)

	onDisk, err := os.ReadFile(filepath.Join(env.dir, "1700000000123_photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)

	var list listStoredResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/storeImage", &list))
	assert.True(t, list.Success)
	assert.Equal(t, 1, list.TotalFiles)
	assert.Equal(t, 1, list.ImageFiles)
	require.Len(t, list.FileList, 1)
	assert.Equal(t, "1700000000123_photo.jpg", list.FileList[0].Name)
	assert.True(t, list.FileList[0].IsImage)
	assert.Equal(t, "Folder status: "+msgExisted, list.Message)
}

func TestUploadRejectsNonImage(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.upload(t, upload{name: "notes.txt", contentType: "text/plain", data: []byte("hello")})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.False(t, body.Success)
	assert.Equal(t, msgNotImage, body.Message)
}

func TestUploadRejectsMismatchedMIME(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.upload(t, upload{name: "photo.jpg", contentType: "application/octet-stream", data: jpeg(64)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.upload(t, upload{name: "photo.exe", contentType: "image/png", data: jpeg(64)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.upload(t, upload{name: "huge.png", contentType: "image/png", data: jpeg(int(images.MaxImageBytes) + 1)})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, msgTooLarge, body.Message)

	entries, err := os.ReadDir(env.dir)
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestUploadRejectsMultipleFiles(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.upload(t,
		upload{name: "a.png", contentType: "image/png", data: jpeg(16)},
		upload{name: "b.png", contentType: "image/png", data: jpeg(16)},
	)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, msgTooMany, body.Message)
}

func TestUploadWithoutFileReturnsListing(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.upload(t)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body storeImageResponse
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.True(t, body.Success)
	assert.Nil(t, body.UploadedFile)
	assert.DirExists(t, env.dir)
}

func TestGetImages(t *testing.T) {
	env := newTestEnv(t)

	var empty getImagesResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/getImages", &empty))
	assert.True(t, empty.Success)
	assert.Equal(t, msgNoFolder, empty.Message)
	assert.Empty(t, empty.Images)

	resp, _ := env.upload(t, upload{name: "sky.webp", contentType: "image/webp", data: jpeg(32)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "readme.txt"), []byte("x"), 0o644))

	var got getImagesResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/getImages", &got))
	assert.Equal(t, 1, got.TotalCount)
	require.Len(t, got.Images, 1)
	img := got.Images[0]
	assert.Equal(t, "1700000000123_sky.webp", img.Filename)
	assert.Equal(t, "sky.webp", img.OriginalName)
	assert.Equal(t, "http://localhost:5260/images/1700000000123_sky.webp", img.URL)
	assert.Equal(t, filepath.Join(env.dir, img.Filename), img.LocalPath)

	served, err := http.Get(env.ts.URL + "/images/" + img.Filename)
	require.NoError(t, err)
	defer served.Body.Close()
	assert.Equal(t, http.StatusOK, served.StatusCode)
}

func TestUploadPublishesEvent(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(4 * time.Second))
	var hello protocol.Message
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, protocol.TypeHello, hello.Type)

	resp, _ := env.upload(t, upload{name: "dog.png", contentType: "image/png", data: jpeg(128)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for {
		var msg protocol.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != protocol.TypeImageStored {
			continue
		}
		require.NotNil(t, msg.Image)
		assert.Equal(t, "1700000000123_dog.png", msg.Image.FileName)
		assert.Equal(t, "http://localhost:5260/images/1700000000123_dog.png", msg.Image.URL)
		assert.Equal(t, 1, msg.Total)
		return
	}
}

func TestNotFoundIsJSON(t *testing.T) {
	env := newTestEnv(t)

	var body notFoundResponse
	require.Equal(t, http.StatusNotFound, env.getJSON(t, "/nope", &body))
	assert.Equal(t, "Requested resource not found", body.Error)
	assert.Equal(t, "/nope", body.Path)
}

func TestStatusHealthAndConfig(t *testing.T) {
	env := newTestEnv(t)

	var status statusResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/status", &status))
	assert.Equal(t, "running", status.Status)
	assert.NotEmpty(t, status.Timestamp)

	var health healthResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/health", &health))
	assert.Equal(t, "healthy", health.Status)
	assert.NotZero(t, health.Memory.Sys)
	assert.Equal(t, env.dir, health.Folder.Path)
	assert.False(t, health.Folder.Exists)
	assert.Equal(t, ledgerOK, health.Ledger)

	var cfg configResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/config", &cfg))
	assert.True(t, cfg.Success)
	assert.Equal(t, "/srv/kiosk", cfg.Config.Address)
	assert.Equal(t, "secondary.html", cfg.Config.SubEntrance)

	var show shouldShowInterfaceResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/shouldShowInterface", &show))
	assert.True(t, show.Success)
	assert.False(t, show.ShowInterface)
	assert.Equal(t, "/srv/kiosk", show.Address)
}

func TestHealthReportsClosedLedger(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.ledger.Close())

	var health healthResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/health", &health))
	assert.Equal(t, "degraded", health.Status)
	assert.NotEqual(t, ledgerOK, health.Ledger)
}

func TestCreateFolderAndStatus(t *testing.T) {
	env := newTestEnv(t)

	var before images.FolderStatus
	require.Equal(t, http.StatusOK, env.getJSON(t, "/folder-status", &before))
	assert.False(t, before.Exists)

	var created createFolderResponse
	require.Equal(t, http.StatusOK, env.postJSON(t, "/create-folder", "", &created))
	assert.True(t, created.Success)
	assert.True(t, created.Created)
	assert.Equal(t, msgCreated, created.Message)

	var again createFolderResponse
	env.postJSON(t, "/create-folder", "", &again)
	assert.False(t, again.Created)
	assert.Equal(t, msgExisted, again.Message)

	var after images.FolderStatus
	require.Equal(t, http.StatusOK, env.getJSON(t, "/folder-info", &after))
	assert.True(t, after.Exists)
	assert.True(t, after.IsDirectory)
	assert.NotNil(t, after.Modified)
}

func TestSavedURLRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	var empty storedURL
	env.getJSON(t, "/stored-url", &empty)
	assert.Empty(t, empty.URL)

	var saved resultResponse
	env.postJSON(t, "/save-url", `{"url":" https://example.com/kiosk "}`, &saved)
	assert.True(t, saved.Success)

	var got storedURL
	env.getJSON(t, "/stored-url", &got)
	assert.Equal(t, "https://example.com/kiosk", got.URL)
	assert.Equal(t, testNow.UTC().Format(time.RFC3339Nano), got.Timestamp)
}

func TestOpenURL(t *testing.T) {
	env := newTestEnv(t)

	var ok resultResponse
	env.postJSON(t, "/open-url", `{"url":"https://example.com"}`, &ok)
	assert.True(t, ok.Success)
	assert.Equal(t, []string{"https://example.com"}, env.opened)

	var bad resultResponse
	env.postJSON(t, "/open-url", `{"url":"javascript:alert(1)"}`, &bad)
	assert.False(t, bad.Success)
	assert.Contains(t, bad.Error, "unsupported url scheme")

	var missing resultResponse
	env.postJSON(t, "/open-url", `{}`, &missing)
	assert.False(t, missing.Success)
	assert.Len(t, env.opened, 1)
}

func TestMetricsCountUploads(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.upload(t, upload{name: "cat.jpg", contentType: "image/jpeg", data: jpeg(1024)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mresp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	require.Equal(t, http.StatusOK, mresp.StatusCode)
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `xufei_image_uploads_total{outcome="stored"}`)
	assert.Contains(t, string(body), "xufei_image_upload_bytes_total")
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roomchat/internal/app/chat"
	"roomchat/internal/app/storage"
	"roomchat/internal/app/user"
	"roomchat/internal/configs"
	"roomchat/internal/pkg/errs"
)

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]string)}
}

func (f *fakeStorage) PresignUpload(_ context.Context, key, _ string, _ int64, _ time.Duration) (string, error) {
	return "https://bucket.test/put/" + key, nil
}

func (f *fakeStorage) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.test/get/" + key, nil
}

func (f *fakeStorage) Upload(_ context.Context, key, mimeType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = mimeType + ":" + string(data)
	return nil
}

func (f *fakeStorage) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	mimeType, data, _ := strings.Cut(obj, ":")
	return storage.ObjectInfo{ContentType: mimeType, Size: int64(len(data))}, nil
}

type testServer struct {
	*httptest.Server
	deps    *AppDeps
	storage *fakeStorage
}

func newTestServer(t *testing.T, withStorage bool) *testServer {
	t.Helper()

	sessions := user.NewSessions(user.NewMemoryDevices(), "test-secret", time.Hour)
	svc := chat.NewService(chat.NewMemoryArchive(), sessions, chat.Options{
		HistoryLimit:     50,
		RoomIdleTimeout:  time.Minute,
		StrictAuthorship: true,
	})

	deps := &AppDeps{
		Chat:     svc,
		Sessions: sessions,
		Config:   &configs.AppConfig{Environment: "development"},
	}

	ts := &testServer{deps: deps}
	if withStorage {
		ts.storage = newFakeStorage()
		deps.StorageService = ts.storage
	}

	limits := NewLimiters()
	ts.Server = httptest.NewServer(Router(deps, limits))
	t.Cleanup(func() {
		ts.Close()
		svc.Shutdown()
		limits.Stop()
	})
	return ts
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, _ := http.NewRequest(method, ts.URL+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()

	var env envelope
	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return res, env
}

func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()

	res, env := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": username})
	if res.StatusCode != http.StatusOK || env.Code != 0 {
		t.Fatalf("login %s: status %d code %d", username, res.StatusCode, env.Code)
	}

	var data struct {
		Token  string `json:"token"`
		User   string `json:"user"`
		Device string `json:"device"`
	}
	json.Unmarshal(env.Data, &data)
	if data.User != username || data.Device != user.DefaultDevice || data.Token == "" {
		t.Fatalf("login data = %+v", data)
	}
	return data.Token
}

func TestLoginWhoAmILogout(t *testing.T) {
	ts := newTestServer(t, false)
	token := ts.login(t, "alice")

	res, env := ts.do(t, http.MethodGet, "/api/user/me", token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", res.StatusCode)
	}
	var me struct {
		Username string `json:"username"`
		Online   bool   `json:"online"`
	}
	json.Unmarshal(env.Data, &me)
	if me.Username != "alice" || me.Online {
		t.Fatalf("me = %+v", me)
	}

	if res, _ := ts.do(t, http.MethodPost, "/api/auth/logout", "", map[string]string{"token": token}); res.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", res.StatusCode)
	}

	res, env = ts.do(t, http.MethodGet, "/api/user/me", token, nil)
	if res.StatusCode != http.StatusUnauthorized || env.Code != errs.ErrUnauthorized {
		t.Fatalf("revoked token: status %d code %d", res.StatusCode, env.Code)
	}
}

func TestLoginRejectsBadUsername(t *testing.T) {
	ts := newTestServer(t, false)

	res, env := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "no spaces allowed"})
	if res.StatusCode != http.StatusBadRequest || env.Code != errs.ErrInvalidUsername {
		t.Fatalf("status %d code %d", res.StatusCode, env.Code)
	}

	res, env = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "bob", "password": "x"})
	if env.Code != errs.ErrInvalidJSONFormat {
		t.Fatalf("unknown field: status %d code %d", res.StatusCode, env.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t, true)
	ctx := context.Background()

	// Server-side uploads are the only HTTP path that creates messages.
	ts.storage.Upload(ctx, "main/a.png", "image/png", strings.NewReader("x"))
	if _, err := ts.deps.Chat.PostAttachment(ctx, "main", "alice", "main/a.png", "image/png"); err != nil {
		t.Fatalf("PostAttachment: %v", err)
	}

	res, env := ts.do(t, http.MethodGet, "/api/search?room=main&q=", "", nil)
	if res.StatusCode != http.StatusOK || string(env.Data) != `{"results":[]}` {
		t.Fatalf("blank query: status %d data %s", res.StatusCode, env.Data)
	}

	res, env = ts.do(t, http.MethodGet, "/api/search?room=bad/room&q=x", "", nil)
	if env.Code != errs.ErrRoomNameInvalid {
		t.Fatalf("bad room: status %d code %d", res.StatusCode, env.Code)
	}
}

func TestFileEndpointsWithoutStorage(t *testing.T) {
	ts := newTestServer(t, false)
	token := ts.login(t, "alice")

	res, env := ts.do(t, http.MethodPost, "/api/file/presign-upload", token, PresignUploadInput{
		Room: "main", FileName: "a.png", MimeType: "image/png", FileSize: 10,
	})
	if res.StatusCode != http.StatusNotImplemented || env.Code != errs.ErrFileStorageDisabled {
		t.Fatalf("status %d code %d", res.StatusCode, env.Code)
	}
}

func TestPresignUpload(t *testing.T) {
	ts := newTestServer(t, true)

	if res, _ := ts.do(t, http.MethodPost, "/api/file/presign-upload", "", PresignUploadInput{}); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous presign status = %d", res.StatusCode)
	}

	token := ts.login(t, "alice")

	tests := []struct {
		name  string
		input PresignUploadInput
		code  int
	}{
		{"ok", PresignUploadInput{Room: "main", FileName: "cat.PNG", MimeType: "image/png", FileSize: 1024}, 0},
		{"too large", PresignUploadInput{Room: "main", FileName: "big.mp4", MimeType: "video/mp4", FileSize: chat.MaxAttachmentSize + 1}, errs.ErrFileSizeTooLarge},
		{"bad type", PresignUploadInput{Room: "main", FileName: "run.exe", MimeType: "application/octet-stream", FileSize: 10}, errs.ErrFileTypeNotAllowed},
		{"bad room", PresignUploadInput{Room: "", FileName: "cat.png", MimeType: "image/png", FileSize: 10}, errs.ErrRoomNameInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, env := ts.do(t, http.MethodPost, "/api/file/presign-upload", token, tt.input)
			if env.Code != tt.code {
				t.Fatalf("code = %d, want %d", env.Code, tt.code)
			}
			if tt.code != 0 {
				return
			}

			var data struct {
				PresignedURL string `json:"presignedUrl"`
				FileKey      string `json:"fileKey"`
			}
			json.Unmarshal(env.Data, &data)
			if !strings.HasPrefix(data.FileKey, "main/") || !strings.HasSuffix(data.FileKey, ".png") {
				t.Fatalf("fileKey = %q", data.FileKey)
			}
			if data.PresignedURL != "https://bucket.test/put/"+data.FileKey {
				t.Fatalf("presignedUrl = %q", data.PresignedURL)
			}
		})
	}
}

func TestPresignDownload(t *testing.T) {
	ts := newTestServer(t, true)
	ts.storage.Upload(context.Background(), "main/x.png", "image/png", strings.NewReader("x"))

	res, _ := ts.do(t, http.MethodGet, chat.AttachmentURL("main/x.png"), "", nil)
	if res.StatusCode != http.StatusFound || res.Header.Get("Location") != "https://bucket.test/get/main/x.png" {
		t.Fatalf("status %d location %q", res.StatusCode, res.Header.Get("Location"))
	}

	if res, _ := ts.do(t, http.MethodGet, chat.AttachmentURL("main/missing.png"), "", nil); res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing object status = %d", res.StatusCode)
	}

	if res, _ := ts.do(t, http.MethodGet, chat.AttachmentURL("main/../etc/passwd"), "", nil); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("traversal key status = %d", res.StatusCode)
	}
}

func TestUploadPublishesAttachment(t *testing.T) {
	ts := newTestServer(t, true)
	token := ts.login(t, "alice")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("room", "main")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="blob"`)
	h.Set("Content-Type", "application/octet-stream")
	part, _ := mw.CreatePart(h)
	part.Write([]byte("voice-bytes"))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/file/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer res.Body.Close()

	var env envelope
	json.NewDecoder(res.Body).Decode(&env)
	if res.StatusCode != http.StatusOK || env.Code != 0 {
		t.Fatalf("status %d code %d msg %q", res.StatusCode, env.Code, env.Message)
	}

	var data struct {
		FileKey string       `json:"fileKey"`
		Message chat.Message `json:"message"`
	}
	json.Unmarshal(env.Data, &data)

	if !strings.HasSuffix(data.FileKey, ".webm") {
		t.Fatalf("voice note without a name should default to .webm, key = %q", data.FileKey)
	}
	if data.Message.Type != chat.ContentAudio || data.Message.Name != "alice" || data.Message.File != chat.AttachmentURL(data.FileKey) {
		t.Fatalf("message = %+v", data.Message)
	}

	if info, err := ts.storage.Stat(context.Background(), data.FileKey); err != nil || info.Size != int64(len("voice-bytes")) {
		t.Fatalf("stored object = %+v, %v", info, err)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	ts := newTestServer(t, false)
	token := ts.login(t, "alice")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	send := func(v any) {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	expect := func(typ chat.EventType) json.RawMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var ev struct {
				Type    chat.EventType  `json:"type"`
				Payload json.RawMessage `json:"payload"`
			}
			if err := conn.ReadJSON(&ev); err != nil {
				t.Fatalf("waiting for %s: %v", typ, err)
			}
			if ev.Type == typ {
				return ev.Payload
			}
		}
	}

	var online []string
	json.Unmarshal(expect(chat.EventOnlineUpdate), &online)
	if len(online) != 1 || online[0] != "alice" {
		t.Fatalf("online_update = %v", online)
	}

	send(map[string]any{"type": "join", "payload": map[string]string{"room": "main"}})
	expect(chat.EventHistory)

	send(map[string]any{"type": "msg", "tempId": "t1", "payload": map[string]string{"room": "main", "msg": "hello"}})

	var msg chat.Message
	json.Unmarshal(expect(chat.EventMessage), &msg)
	if msg.Body != "hello" || msg.Name != "alice" {
		t.Fatalf("message = %+v", msg)
	}

	var ack chat.SentPayload
	json.Unmarshal(expect(chat.EventSent), &ack)
	if ack.ID != msg.ID || ack.TempID != "t1" {
		t.Fatalf("sent = %+v", ack)
	}

	res, env := ts.do(t, http.MethodGet, "/api/search?room=main&q=HELL", "", nil)
	var found struct {
		Results []chat.Message `json:"results"`
	}
	json.Unmarshal(env.Data, &found)
	if res.StatusCode != http.StatusOK || len(found.Results) != 1 || found.Results[0].ID != msg.ID {
		t.Fatalf("search = %s", env.Data)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, false)

	if res, env := ts.do(t, http.MethodGet, "/health", "", nil); res.StatusCode != http.StatusOK || env.Code != 0 {
		t.Fatalf("health: status %d code %d", res.StatusCode, env.Code)
	}

	res, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "roomchat_connections") {
		t.Fatal("metrics output is missing roomchat_connections")
	}
}

package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"tsubuyaki/internal/config"
	"tsubuyaki/internal/database"
	"tsubuyaki/internal/model"
	"tsubuyaki/internal/repository"
)

func TestMain(m *testing.M) {
	// プロジェクトルートの.envを読み込み
	_ = godotenv.Load("../../.env")
	os.Exit(m.Run())
}

var testOrigins = []string{"http://localhost:8080", "http://127.0.0.1:8080"}

// newTestHandler インメモリ SQLite を使うHandlerを生成
func newTestHandler(t *testing.T) *Handler {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	if err := database.Migrate(db, "sqlite"); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	repo := repository.NewSQL(db)
	t.Cleanup(func() { repo.Close() })

	return New(repo, config.Config{
		AllowedOrigins: testOrigins,
		UploadDir:      t.TempDir(),
	})
}

// decodeEnvelope レスポンスの result を out に展開し、error を返す
func decodeEnvelope(t *testing.T, body []byte, out any) *model.ErrorBody {
	t.Helper()

	var env model.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("Response is not an envelope: %v. Body: %s", err, body)
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			t.Fatalf("Failed to decode result: %v. Body: %s", err, body)
		}
	}
	return env.Error
}

func doJSON(router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	var body []byte
	if s, ok := payload.(string); ok {
		body = []byte(s)
	} else if payload != nil {
		body, _ = json.Marshal(payload)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// createMessage テスト用にメッセージを作成
func createMessage(t *testing.T, router http.Handler, body, username string) model.Message {
	t.Helper()

	w := doJSON(router, "POST", "/api/messages", map[string]string{"body": body, "username": username})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var msg model.Message
	if e := decodeEnvelope(t, w.Body.Bytes(), &msg); e != nil {
		t.Fatalf("Unexpected error: %s", e.Message)
	}
	return msg
}

// TestCreateMessage_Success メッセージ作成成功テスト
func TestCreateMessage_Success(t *testing.T) {
	h := newTestHandler(t)
	router := h.SetupRouter()

	w := doJSON(router, "POST", "/api/messages", map[string]string{"body": "Hello, World!", "username": "neko"})

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status %d, got %d. Body: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type: application/json, got %s", w.Header().Get("Content-Type"))
	}

	var msg model.Message
	if e := decodeEnvelope(t, w.Body.Bytes(), &msg); e != nil {
		t.Fatalf("Unexpected error: %s", e.Message)
	}
	if msg.ID == 0 {
		t.Error("Expected auto-generated ID, got 0")
	}
	if msg.Body != "Hello, World!" {
		t.Errorf("Expected body 'Hello, World!', got %q", msg.Body)
	}
	if msg.Username != "neko" {
		t.Errorf("Expected username 'neko', got %q", msg.Username)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}

	// bot 向けストリームにも流れる
	select {
	case got := <-h.Stream:
		if got.ID != msg.ID {
			t.Errorf("Expected streamed message %d, got %d", msg.ID, got.ID)
		}
	default:
		t.Error("Expected created message on Stream")
	}
}

// TestCreateMessage_AnonymousUsername username 省略時は anonymous
func TestCreateMessage_AnonymousUsername(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	msg := createMessage(t, router, "hi", "  ")
	if msg.Username != anonymousName {
		t.Errorf("Expected username %q, got %q", anonymousName, msg.Username)
	}
}

// TestCreateMessage_Validation 入力エラーは error.message で返る
func TestCreateMessage_Validation(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{"empty body field", map[string]string{"body": ""}, "body is required"},
		{"whitespace body", map[string]string{"body": "   \n"}, "body is required"},
		{"invalid json", "invalid json", "Invalid request body"},
		{"no request body", nil, "body is missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, "POST", "/api/messages", tt.payload)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			e := decodeEnvelope(t, w.Body.Bytes(), nil)
			if e == nil || e.Message != tt.want {
				t.Errorf("Expected error %q, got %+v", tt.want, e)
			}
		})
	}
}

// TestCreateMessage_OversizedBody 1MB を超えるボディは拒否
func TestCreateMessage_OversizedBody(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	big := strings.Repeat("a", maxBodyBytes+1)
	w := doJSON(router, "POST", "/api/messages", map[string]string{"body": big})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

// TestGetMessages 作成順に返る
func TestGetMessages(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	for i := 1; i <= 3; i++ {
		createMessage(t, router, fmt.Sprintf("message %d", i), "neko")
	}

	w := doJSON(router, "GET", "/api/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var msgs []model.Message
	decodeEnvelope(t, w.Body.Bytes(), &msgs)
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if want := fmt.Sprintf("message %d", i+1); m.Body != want {
			t.Errorf("messages[%d]: expected %q, got %q", i, want, m.Body)
		}
	}
}

// TestGetMessages_Empty 空のときは [] を返す
func TestGetMessages_Empty(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	w := doJSON(router, "GET", "/api/messages", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), `"result":[]`) {
		t.Errorf("Expected empty result array, got %s", w.Body.String())
	}
}

// TestGetMessage 単体取得と 404
func TestGetMessage(t *testing.T) {
	router := newTestHandler(t).SetupRouter()
	created := createMessage(t, router, "single", "neko")

	w := doJSON(router, "GET", fmt.Sprintf("/api/messages/%d", created.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var got model.Message
	decodeEnvelope(t, w.Body.Bytes(), &got)
	if got.ID != created.ID || got.Body != "single" {
		t.Errorf("Expected %+v, got %+v", created, got)
	}

	w = doJSON(router, "GET", "/api/messages/9999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	w = doJSON(router, "GET", "/api/messages/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
	if e := decodeEnvelope(t, w.Body.Bytes(), nil); e == nil || e.Message != "invalid id" {
		t.Errorf("Expected 'invalid id', got %+v", e)
	}
}

// TestUpdateMessage 本文の置き換え
func TestUpdateMessage(t *testing.T) {
	h := newTestHandler(t)
	router := h.SetupRouter()
	created := createMessage(t, router, "hi", "neko")
	<-h.Broadcast

	w := doJSON(router, "PUT", fmt.Sprintf("/api/messages/%d", created.ID),
		map[string]any{"id": created.ID, "body": "bye", "username": "neko"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var updated model.Message
	decodeEnvelope(t, w.Body.Bytes(), &updated)
	if updated.ID != created.ID || updated.Body != "bye" {
		t.Errorf("Expected id %d body 'bye', got %+v", created.ID, updated)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}

	ev := <-h.Broadcast
	if ev.Type != model.EventMessageUpdated || ev.ID != created.ID {
		t.Errorf("Expected %s event for %d, got %+v", model.EventMessageUpdated, created.ID, ev)
	}
}

// TestUpdateMessage_NotFound 存在しない id
func TestUpdateMessage_NotFound(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	w := doJSON(router, "PUT", "/api/messages/42", map[string]string{"body": "bye"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if e := decodeEnvelope(t, w.Body.Bytes(), nil); e == nil || e.Message != "Message not found" {
		t.Errorf("Expected 'Message not found', got %+v", e)
	}
}

// TestUpdateMessage_EmptyBody 空の本文は拒否
func TestUpdateMessage_EmptyBody(t *testing.T) {
	router := newTestHandler(t).SetupRouter()
	created := createMessage(t, router, "hi", "neko")

	w := doJSON(router, "PUT", fmt.Sprintf("/api/messages/%d", created.ID), map[string]string{"body": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

// TestDeleteMessage 論理削除
func TestDeleteMessage(t *testing.T) {
	h := newTestHandler(t)
	router := h.SetupRouter()
	created := createMessage(t, router, "to delete", "neko")
	<-h.Broadcast

	w := doJSON(router, "DELETE", fmt.Sprintf("/api/messages/%d", created.ID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if e := decodeEnvelope(t, w.Body.Bytes(), nil); e != nil {
		t.Errorf("Unexpected error: %s", e.Message)
	}

	ev := <-h.Broadcast
	if ev.Type != model.EventMessageDeleted || ev.ID != created.ID {
		t.Errorf("Expected %s event for %d, got %+v", model.EventMessageDeleted, created.ID, ev)
	}

	// 一覧にも単体取得にも出てこない
	w = doJSON(router, "GET", "/api/messages", nil)
	var msgs []model.Message
	decodeEnvelope(t, w.Body.Bytes(), &msgs)
	if len(msgs) != 0 {
		t.Errorf("Expected soft-deleted message to be hidden, got %d messages", len(msgs))
	}
	w = doJSON(router, "GET", fmt.Sprintf("/api/messages/%d", created.ID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

// TestDeleteMessage_AlreadyDeleted 二重削除は 404
func TestDeleteMessage_AlreadyDeleted(t *testing.T) {
	router := newTestHandler(t).SetupRouter()
	created := createMessage(t, router, "once", "neko")
	path := fmt.Sprintf("/api/messages/%d", created.ID)

	if w := doJSON(router, "DELETE", path, nil); w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w := doJSON(router, "DELETE", path, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

// TestCreateMessageWithDeletedAt クライアントが送った管理フィールドは無視
func TestCreateMessageWithDeletedAt(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	payload := `{"id": 777, "body": "sneaky", "username": "neko", "created_at": "2000-01-01T00:00:00Z", "deleted_at": "2000-01-01T00:00:00Z"}`
	w := doJSON(router, "POST", "/api/messages", payload)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var msg model.Message
	decodeEnvelope(t, w.Body.Bytes(), &msg)
	if msg.ID == 777 {
		t.Error("Client-supplied id should be ignored")
	}
	if msg.CreatedAt.Year() == 2000 {
		t.Error("Client-supplied created_at should be ignored")
	}

	w = doJSON(router, "GET", "/api/messages", nil)
	var msgs []model.Message
	decodeEnvelope(t, w.Body.Bytes(), &msgs)
	if len(msgs) != 1 {
		t.Errorf("Expected the message to be visible, got %d messages", len(msgs))
	}
}

// TestNotFoundRoute 未定義ルートも envelope で返す
func TestNotFoundRoute(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	w := doJSON(router, "GET", "/api/nothing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
	if e := decodeEnvelope(t, w.Body.Bytes(), nil); e == nil {
		t.Error("Expected error envelope")
	}
}

// TestPing ヘルスチェック
func TestPing(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	w := doJSON(router, "GET", "/api/ping", nil)
	if w.Code != http.StatusOK || w.Body.String() != "pong" {
		t.Errorf("Expected 200 pong, got %d %q", w.Code, w.Body.String())
	}
}

// TestMetricsEndpoint Prometheus のエンドポイント
func TestMetricsEndpoint(t *testing.T) {
	router := newTestHandler(t).SetupRouter()
	createMessage(t, router, "count me", "neko")

	w := doJSON(router, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "tsubuyaki_messages_changed_total") {
		t.Error("Expected tsubuyaki_messages_changed_total in /metrics output")
	}
}

// TestRateLimit 上限を超えると 429
func TestRateLimit(t *testing.T) {
	h := newTestHandler(t)
	h.limiter = newLimiterPool(1, 1)
	router := h.SetupRouter()

	if w := doJSON(router, "POST", "/api/messages", map[string]string{"body": "first"}); w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d", http.StatusCreated, w.Code)
	}
	w := doJSON(router, "POST", "/api/messages", map[string]string{"body": "second"})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status %d, got %d", http.StatusTooManyRequests, w.Code)
	}
	if e := decodeEnvelope(t, w.Body.Bytes(), nil); e == nil || e.Message != "rate limit exceeded" {
		t.Errorf("Expected 'rate limit exceeded', got %+v", e)
	}

	// GET は制限対象外
	if w := doJSON(router, "GET", "/api/messages", nil); w.Code != http.StatusOK {
		t.Errorf("Expected GET to bypass the limiter, got %d", w.Code)
	}
}

// TestUploadImage multipart の画像アップロード
func TestUploadImage(t *testing.T) {
	h := newTestHandler(t)
	router := h.SetupRouter()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "Cat.PNG")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("\x89PNG fake image"))
	form.Close()

	req := httptest.NewRequest("POST", "/image", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d. Body: %s", http.StatusCreated, w.Code, w.Body.String())
	}
	var res struct {
		Name string `json:"name"`
	}
	decodeEnvelope(t, w.Body.Bytes(), &res)
	if !strings.HasSuffix(res.Name, ".png") {
		t.Errorf("Expected lowercased .png extension, got %q", res.Name)
	}

	data, err := os.ReadFile(filepath.Join(h.Config.UploadDir, res.Name))
	if err != nil {
		t.Fatalf("Uploaded file not stored: %v", err)
	}
	if string(data) != "\x89PNG fake image" {
		t.Errorf("Unexpected file content %q", data)
	}
}

// TestUploadImage_MissingFile file フィールドなし
func TestUploadImage_MissingFile(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	req := httptest.NewRequest("POST", "/image", strings.NewReader("not a form"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

// TestWebSocketConnection WebSocket接続テスト
func TestWebSocketConnection(t *testing.T) {
	h := newTestHandler(t)
	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	header.Set("Origin", "http://localhost:8080")

	ws, _, err := websocket.DefaultDialer.Dial(url+"/ws", header)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer ws.Close()

	waitForClients(t, h, 1)
}

// TestWebSocketOriginCheck 許可されていない Origin は拒否
func TestWebSocketOriginCheck(t *testing.T) {
	h := newTestHandler(t)
	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")

	_, _, err := websocket.DefaultDialer.Dial(url+"/ws", header)
	if err == nil {
		t.Error("Expected connection to be rejected for disallowed origin")
	}
}

// TestWebSocketBroadcast 作成イベントが接続中のクライアントに届く
func TestWebSocketBroadcast(t *testing.T) {
	h := newTestHandler(t)
	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()
	go h.HandleBroadcast()
	defer h.CloseBroadcast()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	header.Set("Origin", "http://127.0.0.1:8080")
	ws, _, err := websocket.DefaultDialer.Dial(url+"/ws", header)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer ws.Close()
	waitForClients(t, h, 1)

	resp, err := http.Post(server.URL+"/api/messages", "application/json", strings.NewReader(`{"body":"push","username":"neko"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var ev model.Event
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if ev.Type != model.EventMessageCreated {
		t.Errorf("Expected %s, got %s", model.EventMessageCreated, ev.Type)
	}
	if ev.Message == nil || ev.Message.Body != "push" {
		t.Errorf("Expected created message in event, got %+v", ev.Message)
	}
}

// TestPublishAfterCloseBroadcast 停止後に書き込みが来てもpanicしない
func TestPublishAfterCloseBroadcast(t *testing.T) {
	h := newTestHandler(t)
	server := httptest.NewServer(h.SetupRouter())
	defer server.Close()

	h.CloseBroadcast()
	h.CloseBroadcast()

	resp, err := http.Post(server.URL+"/api/messages", "application/json", strings.NewReader(`{"body":"late","username":"neko"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected status %d, got %d", http.StatusCreated, resp.StatusCode)
	}

	if _, ok := <-h.Broadcast; ok {
		t.Error("Expected no event after CloseBroadcast")
	}
}

func waitForClients(t *testing.T, h *Handler, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.ClientMu.RLock()
		got := len(h.Clients)
		h.ClientMu.RUnlock()
		if got == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Expected %d websocket clients", n)
}

// TestConcurrentMessageCreation 並行作成でも id が重複しない
func TestConcurrentMessageCreation(t *testing.T) {
	router := newTestHandler(t).SetupRouter()

	const n = 10
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := doJSON(router, "POST", "/api/messages", map[string]string{"body": fmt.Sprintf("concurrent %d", i)})
			if w.Code != http.StatusCreated {
				t.Errorf("Expected status %d, got %d", http.StatusCreated, w.Code)
				return
			}
			var env struct {
				Result model.Message `json:"result"`
			}
			json.Unmarshal(w.Body.Bytes(), &env)
			ids <- env.Result.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		if seen[id] {
			t.Errorf("Duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("Expected %d messages, got %d", n, len(seen))
	}
}

// TestMySQLRepository MariaDB を使った結合テスト (DB_HOST 未設定ならスキップ)
func TestMySQLRepository(t *testing.T) {
	host := os.Getenv("DB_HOST")
	if host == "" {
		t.Skip("Skipping: DB_HOST not set")
	}

	cfg := config.Load()
	cfg.DBDriver = "mysql"
	db, err := database.Init(cfg)
	if err != nil {
		t.Skipf("Skipping: could not connect to test database: %v", err)
	}
	// テストデータをクリア
	db.Exec("DELETE FROM messages")

	repo := repository.NewSQL(db)
	defer func() {
		db.Exec("DELETE FROM messages")
		repo.Close()
	}()

	h := New(repo, config.Config{AllowedOrigins: testOrigins, UploadDir: t.TempDir()})
	router := h.SetupRouter()

	created := createMessage(t, router, "mysql", "neko")

	// 同じ内容での更新も成功する (clientFoundRows)
	w := doJSON(router, "PUT", fmt.Sprintf("/api/messages/%d", created.ID), map[string]string{"body": "mysql", "username": "neko"})
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d for no-op update, got %d", http.StatusOK, w.Code)
	}
}

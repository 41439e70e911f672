package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ssshpaklevka/mediaplayer-backend/internal/media"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/models"
	"github.com/ssshpaklevka/mediaplayer-backend/internal/storage"
)

type recordingQueue struct {
	ids chan string
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{ids: make(chan string, 16)}
}

func (q *recordingQueue) Enqueue(id string) {
	select {
	case q.ids <- id:
	default:
	}
}

type handlerFixture struct {
	handler *Handler
	store   *storage.Storage
	queue   *recordingQueue
	group   models.Group
}

func newHandlerFixture(t *testing.T, maxPending int64) *handlerFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.New(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	group, err := store.CreateGroup("lobby screens")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	queue := newRecordingQueue()
	service := media.NewService(media.ServiceConfig{
		Store:           store,
		Queue:           queue,
		ScratchDir:      dir,
		MaxPendingBytes: maxPending,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &handlerFixture{
		handler: NewHandler(store, service),
		store:   store,
		queue:   queue,
		group:   group,
	}
}

func multipartUpload(t *testing.T, name string, groupIDs []string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if name != "" {
		if err := writer.WriteField("name", name); err != nil {
			t.Fatalf("write name field: %v", err)
		}
	}
	for _, id := range groupIDs {
		if err := writer.WriteField("groupIds", id); err != nil {
			t.Fatalf("write group field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("video", "clip.mp4")
	if err != nil {
		t.Fatalf("create file part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(res.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", res.Body.String(), err)
	}
}

func TestHealthReportsOK(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	fixture.handler.Health(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]string
	decodeBody(t, res, &body)
	if body["status"] != "ok" {
		t.Fatalf("expected ok status, got %q", body["status"])
	}
}

func TestSubmitUploadAcceptedWithAck(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	body, contentType := multipartUpload(t, "welcome loop", []string{fixture.group.ID}, []byte("raw video bytes"))

	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	fixture.handler.Media(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var response struct {
		Message string       `json:"message"`
		Media   models.Media `json:"media"`
	}
	decodeBody(t, res, &response)
	if response.Message != media.AckMessage {
		t.Fatalf("unexpected ack message %q", response.Message)
	}
	if response.Media.Status != models.MediaStatusPending {
		t.Fatalf("expected PENDING record, got %s", response.Media.Status)
	}
	select {
	case id := <-fixture.queue.ids:
		if id != response.Media.ID {
			t.Fatalf("enqueued %q, expected %q", id, response.Media.ID)
		}
	default:
		t.Fatal("submission was not enqueued")
	}
}

func TestSubmitUploadFallsBackToFilename(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	body, contentType := multipartUpload(t, "", []string{fixture.group.ID}, []byte("payload"))

	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	fixture.handler.Media(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var response struct {
		Media models.Media `json:"media"`
	}
	decodeBody(t, res, &response)
	if response.Media.Name != "clip.mp4" {
		t.Fatalf("expected filename fallback, got %q", response.Media.Name)
	}
}

func TestSubmitUploadOverBudgetReturns503(t *testing.T) {
	fixture := newHandlerFixture(t, 10)
	body, contentType := multipartUpload(t, "too big", []string{fixture.group.ID}, bytes.Repeat([]byte("x"), 32))

	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	fixture.handler.Media(res, req)

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", res.Code, res.Body.String())
	}
	var body503 map[string]string
	decodeBody(t, res, &body503)
	if !strings.Contains(body503["error"], "pending media limit exceeded") {
		t.Fatalf("unexpected error body %q", body503["error"])
	}
}

func TestSubmitUploadValidationReturns400(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	body, contentType := multipartUpload(t, "no groups", nil, []byte("payload"))

	req := httptest.NewRequest(http.MethodPost, "/api/media", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	fixture.handler.Media(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.Code, res.Body.String())
	}
}

func TestSubmitRejectsUnsupportedContentType(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/media", strings.NewReader("plain body"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	fixture.handler.Media(res, req)

	if res.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", res.Code)
	}
}

func TestSubmitByURLCreatesReadyRecord(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	payload := fmt.Sprintf(`{"name":"external promo","url":"https://cdn.example.com/promo.mp4","groupIds":[%q]}`, fixture.group.ID)
	req := httptest.NewRequest(http.MethodPost, "/api/media", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	fixture.handler.Media(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var record models.Media
	decodeBody(t, res, &record)
	if record.Status != models.MediaStatusReady {
		t.Fatalf("expected READY record, got %s", record.Status)
	}
	select {
	case id := <-fixture.queue.ids:
		t.Fatalf("external media %q should not be enqueued", id)
	default:
	}
}

func TestMediaByIDRoundTrip(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	record, err := fixture.store.CreateMedia(storage.CreateMediaParams{
		Name:     "standalone",
		GroupIDs: []string{fixture.group.ID},
		Status:   models.MediaStatusReady,
	})
	if err != nil {
		t.Fatalf("create media: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/media/"+record.ID, nil)
	res := httptest.NewRecorder()
	fixture.handler.MediaByID(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/media/"+record.ID, nil)
	res = httptest.NewRecorder()
	fixture.handler.MediaByID(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", res.Code, res.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/media/"+record.ID, nil)
	res = httptest.NewRecorder()
	fixture.handler.MediaByID(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.Code)
	}
}

func TestMediaPatchUpdatesNameAndGroups(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	other, err := fixture.store.CreateGroup("atrium")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	record, err := fixture.store.CreateMedia(storage.CreateMediaParams{
		Name:     "original",
		GroupIDs: []string{fixture.group.ID},
		Status:   models.MediaStatusReady,
		URL:      "https://cdn.example.com/original.mp4",
	})
	if err != nil {
		t.Fatalf("create media: %v", err)
	}

	payload := fmt.Sprintf(`{"name":"renamed","groupIds":[%q]}`, other.ID)
	req := httptest.NewRequest(http.MethodPatch, "/api/media/"+record.ID, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	fixture.handler.MediaByID(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var updated models.Media
	decodeBody(t, res, &updated)
	if updated.Name != "renamed" {
		t.Fatalf("name = %q", updated.Name)
	}
	if len(updated.GroupIDs) != 1 || updated.GroupIDs[0] != other.ID {
		t.Fatalf("groups = %v, want [%s]", updated.GroupIDs, other.ID)
	}
	if updated.URL != record.URL {
		t.Fatalf("patch touched url: %q", updated.URL)
	}
}

func TestMediaPatchRejectsUnknownTargets(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	record, err := fixture.store.CreateMedia(storage.CreateMediaParams{
		Name:     "original",
		GroupIDs: []string{fixture.group.ID},
		Status:   models.MediaStatusReady,
	})
	if err != nil {
		t.Fatalf("create media: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/api/media/"+record.ID,
		strings.NewReader(`{"groupIds":["ghost"]}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	fixture.handler.MediaByID(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("unknown group: expected 404, got %d: %s", res.Code, res.Body.String())
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/media/missing",
		strings.NewReader(`{"name":"renamed"}`))
	req.Header.Set("Content-Type", "application/json")
	res = httptest.NewRecorder()
	fixture.handler.MediaByID(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("unknown media: expected 404, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/media/"+record.ID,
		strings.NewReader(`{"name":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	res = httptest.NewRecorder()
	fixture.handler.MediaByID(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("blank name: expected 400, got %d", res.Code)
	}
}

func TestPlaylistRequiresGroupID(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/api/playlist", nil)
	res := httptest.NewRecorder()
	fixture.handler.Playlist(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestPlaylistReturnsReadyOnly(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	ready, err := fixture.store.CreateMedia(storage.CreateMediaParams{
		Name:     "ready clip",
		GroupIDs: []string{fixture.group.ID},
		Status:   models.MediaStatusReady,
	})
	if err != nil {
		t.Fatalf("create ready media: %v", err)
	}
	if _, err := fixture.store.CreateMedia(storage.CreateMediaParams{
		Name:     "pending clip",
		GroupIDs: []string{fixture.group.ID},
		Status:   models.MediaStatusPending,
	}); err != nil {
		t.Fatalf("create pending media: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/playlist?groupId="+fixture.group.ID, nil)
	res := httptest.NewRecorder()
	fixture.handler.Playlist(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var playlist []models.Media
	decodeBody(t, res, &playlist)
	if len(playlist) != 1 || playlist[0].ID != ready.ID {
		t.Fatalf("unexpected playlist %+v", playlist)
	}
}

func TestGroupsLifecycle(t *testing.T) {
	fixture := newHandlerFixture(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/groups", strings.NewReader(`{"name":"atrium"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	fixture.handler.Groups(res, req)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var created models.Group
	decodeBody(t, res, &created)
	if created.Name != "atrium" {
		t.Fatalf("unexpected group %+v", created)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	res = httptest.NewRecorder()
	fixture.handler.Groups(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var groups []models.Group
	decodeBody(t, res, &groups)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/groups/"+created.ID, nil)
	res = httptest.NewRecorder()
	fixture.handler.GroupByID(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/groups/"+created.ID, nil)
	res = httptest.NewRecorder()
	fixture.handler.GroupByID(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestGroupCreateRejectsDuplicateName(t *testing.T) {
	fixture := newHandlerFixture(t, 0)
	req := httptest.NewRequest(http.MethodPost, "/api/groups", strings.NewReader(`{"name":"Lobby Screens"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	fixture.handler.Groups(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for duplicate name, got %d", res.Code)
	}
}

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	app "pet-skin/internal/application"
	"pet-skin/internal/domain/entity"
	"pet-skin/internal/infrastructure/storage"
	"pet-skin/internal/infrastructure/vision"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type diagnoserFunc func(ctx context.Context, img image.Image) (entity.Diagnosis, error)

func (f diagnoserFunc) Diagnose(ctx context.Context, img image.Image) (entity.Diagnosis, error) {
	return f(ctx, img)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *recordingNotifier) NotifyDiagnosis(ctx context.Context, user *entity.User, rec entity.DiagnosisRecord) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return nil
}

type fixture struct {
	handler   http.Handler
	users     *app.UserService
	history   *storage.MemoryDiagnosisRepository
	diagnoses *app.DiagnosisService
	notifier  *recordingNotifier
}

func newFixture(t *testing.T, diagnoser app.Diagnoser) *fixture {
	t.Helper()

	logger := zap.NewNop()
	users := app.NewUserService(storage.NewMemoryUserRepository())
	history := storage.NewMemoryDiagnosisRepository()
	notifier := &recordingNotifier{}
	inference := app.NewInferenceService(diagnoser, vision.Decoder{}, 2, logger)
	diagnoses := app.NewDiagnosisService(inference, history, users, notifier, logger)

	return &fixture{
		handler:   NewServer(":0", time.Second, inference, diagnoses, logger).Handler(),
		users:     users,
		history:   history,
		diagnoses: diagnoses,
		notifier:  notifier,
	}
}

func fixedDiagnoser(label string, confidence float64) app.Diagnoser {
	return diagnoserFunc(func(ctx context.Context, img image.Image) (entity.Diagnosis, error) {
		return entity.Diagnosis{Label: label, Confidence: confidence, Stage: entity.StageDisease}, nil
	})
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(3, 3, color.Black)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, target, filename, contentType string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t, fixedDiagnoser("x", 1))

	rec := serve(f.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestPredict(t *testing.T) {
	f := newFixture(t, fixedDiagnoser("구진/플라크", 0.912345))

	rec := serve(f.handler, uploadRequest(t, "/api/predict", "dog.png", "image/png", pngBytes(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp predictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "dog.png", resp.Filename)
	require.Equal(t, "구진/플라크", resp.Label)
	require.Equal(t, 0.9123, resp.Confidence)
	require.Equal(t, "disease", resp.Stage)
}

func TestPredict_BadRequests(t *testing.T) {
	f := newFixture(t, fixedDiagnoser("x", 1))

	rec := serve(f.handler, uploadRequest(t, "/api/predict", "notes.txt", "text/plain", []byte("hello")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(f.handler, uploadRequest(t, "/api/predict", "fake.jpg", "image/jpeg", []byte("not really a jpeg")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(f.handler, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader("")))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredict_PredictionError(t *testing.T) {
	f := newFixture(t, diagnoserFunc(func(ctx context.Context, img image.Image) (entity.Diagnosis, error) {
		return entity.Diagnosis{}, &entity.PredictionError{Stage: entity.StageDisease, Err: errors.New("session lost")}
	}))

	rec := serve(f.handler, uploadRequest(t, "/api/predict", "dog.png", "image/png", pngBytes(t)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "session lost")
}

func TestDiagnosePet_RecordsAndAlerts(t *testing.T) {
	f := newFixture(t, fixedDiagnoser("결절/종괴", 0.75))
	_, err := f.users.SetAlerts(context.Background(), 5, 50, true)
	require.NoError(t, err)

	req := uploadRequest(t, "/api/pets/3/diagnoses", "cat.png", "image/png", pngBytes(t))
	req.Header.Set(headerUserID, "5")
	rec := serve(f.handler, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp petDiagnosisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "결절/종괴", resp.Label)
	require.Equal(t, int64(3), resp.Record.PetID)
	require.Equal(t, int64(5), resp.Record.UserID)

	f.diagnoses.Wait()
	require.Equal(t, 1, f.history.Len())
	require.Equal(t, 1, f.notifier.calls)
}

func TestDiagnosePet_NonImage(t *testing.T) {
	f := newFixture(t, fixedDiagnoser("결절/종괴", 0.75))
	_, err := f.users.SetAlerts(context.Background(), 5, 50, true)
	require.NoError(t, err)

	req := uploadRequest(t, "/api/pets/3/diagnoses", "notes.txt", "text/plain", []byte("plain text"))
	req.Header.Set(headerUserID, "5")
	rec := serve(f.handler, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	f.diagnoses.Wait()
	require.Equal(t, 0, f.history.Len())
	require.Equal(t, 0, f.notifier.calls)
}

func TestDiagnosePet_RequiresUser(t *testing.T) {
	f := newFixture(t, fixedDiagnoser("x", 1))

	rec := serve(f.handler, uploadRequest(t, "/api/pets/3/diagnoses", "cat.png", "image/png", pngBytes(t)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSaveAndHistory(t *testing.T) {
	f := newFixture(t, fixedDiagnoser("x", 1))

	save := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/diagnosis/save", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(headerUserID, "9")
		return serve(f.handler, req)
	}

	rec := save(`{"pet_id": 4, "diagnosis": "미란/궤양", "confidence": 0.87654}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var saved entity.DiagnosisRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	require.Equal(t, 0.88, saved.Confidence)
	require.Equal(t, int64(9), saved.UserID)

	require.Equal(t, http.StatusCreated, save(`{"pet_id": 4, "diagnosis": "농포/여드름", "confidence": 0}`).Code)
	require.Equal(t, http.StatusCreated, save(`{"pet_id": 4, "diagnosis": "결절/종괴", "confidence": 1}`).Code)
	require.Equal(t, http.StatusBadRequest, save(`{"pet_id": 4, "diagnosis": "결절/종괴", "confidence": 1.5}`).Code)
	require.Equal(t, http.StatusBadRequest, save(`{"pet_id": 4, "diagnosis": "결절/종괴"}`).Code)

	history := func(target string, userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if userID != "" {
			req.Header.Set(headerUserID, userID)
		}
		return serve(f.handler, req)
	}

	rec = history("/api/diagnosis/history/4?page=1&limit=2", "9")
	require.Equal(t, http.StatusOK, rec.Code)

	var page app.HistoryPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Records, 2)
	require.Equal(t, "결절/종괴", page.Records[0].Diagnosis)

	rec = history("/api/diagnosis/history/abc", "9")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = history("/api/diagnosis/history/4", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = history("/api/diagnosis/history/4?page=922337203685477580", "9")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Empty(t, page.Records)
	require.Equal(t, 3, page.Total)
}

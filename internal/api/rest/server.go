package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	app "pet-skin/internal/application"
	"pet-skin/internal/domain/entity"
)

const (
	// MaxUploadBytes предельный размер загружаемого изображения
	MaxUploadBytes = 10 << 20

	headerUserID    = "X-User-ID"
	headerRequestID = "X-Request-ID"
	formFile        = "file"
)

// Server HTTP API диагностики
type Server struct {
	addr      string
	timeout   time.Duration
	predictor app.Predictor
	diagnoses *app.DiagnosisService
	logger    *zap.Logger

	srv *http.Server
}

func NewServer(addr string, timeout time.Duration, predictor app.Predictor, diagnoses *app.DiagnosisService, logger *zap.Logger) *Server {
	return &Server{
		addr:      addr,
		timeout:   timeout,
		predictor: predictor,
		diagnoses: diagnoses,
		logger:    logger.Named("http"),
	}
}

// Start слушает addr до вызова Shutdown.
func (r *Server) Start() error {
	r.srv = &http.Server{
		Addr:              r.addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	r.logger.Info("listening", zap.String("addr", r.addr))
	if err := r.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (r *Server) Shutdown(ctx context.Context) error {
	if r.srv == nil {
		return nil
	}
	return r.srv.Shutdown(ctx)
}

// Handler собирает маршруты.
func (r *Server) Handler() http.Handler {
	eng := gin.New()
	eng.MaxMultipartMemory = MaxUploadBytes
	eng.Use(
		ginzap.Ginzap(r.logger, time.RFC3339, true),
		ginzap.RecoveryWithZap(r.logger, true),
		cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:    []string{"Origin", "Content-Type", headerUserID, headerRequestID},
			ExposeHeaders:   []string{headerRequestID},
			MaxAge:          12 * time.Hour,
		}),
		requestID(),
		r.withTimeout(),
	)

	eng.GET("/health", r.health)

	api := eng.Group("/api")
	api.POST("/predict", r.predict)
	api.POST("/pets/:pet_id/diagnoses", r.diagnosePet)
	api.POST("/diagnosis/save", r.saveDiagnosis)
	api.GET("/diagnosis/history/:pet_id", r.history)

	return eng
}

type predictResponse struct {
	Filename   string  `json:"filename"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Details    string  `json:"details,omitempty"`
	Stage      string  `json:"stage"`
}

type petDiagnosisResponse struct {
	predictResponse
	Record entity.DiagnosisRecord `json:"record"`
}

type saveRequest struct {
	PetID      int64    `json:"pet_id" binding:"required"`
	Diagnosis  string   `json:"diagnosis" binding:"required"`
	Confidence *float64 `json:"confidence" binding:"required"`
	Details    string   `json:"details"`
}

func (r *Server) health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Server) predict(ctx *gin.Context) {
	filename, contentType, data, err := readUpload(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := r.predictor.Predict(ctx.Request.Context(), data, contentType)
	if err != nil {
		r.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, toPredictResponse(filename, d))
}

func (r *Server) diagnosePet(ctx *gin.Context) {
	userID, ok := r.userID(ctx)
	if !ok {
		return
	}
	petID, err := strconv.ParseInt(ctx.Param("pet_id"), 10, 64)
	if err != nil || petID <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid pet_id"})
		return
	}
	filename, contentType, data, err := readUpload(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, rec, err := r.diagnoses.DiagnosePet(ctx.Request.Context(), userID, petID, data, contentType)
	if err != nil {
		r.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, petDiagnosisResponse{
		predictResponse: toPredictResponse(filename, d),
		Record:          rec,
	})
}

func (r *Server) saveDiagnosis(ctx *gin.Context) {
	userID, ok := r.userID(ctx)
	if !ok {
		return
	}

	var req saveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := r.diagnoses.Save(ctx.Request.Context(), entity.DiagnosisRecord{
		PetID:      req.PetID,
		UserID:     userID,
		Diagnosis:  req.Diagnosis,
		Confidence: *req.Confidence,
		Details:    req.Details,
	})
	if err != nil {
		r.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, rec)
}

func (r *Server) history(ctx *gin.Context) {
	if _, ok := r.userID(ctx); !ok {
		return
	}
	petID, err := strconv.ParseInt(ctx.Param("pet_id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid pet_id"})
		return
	}
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(app.DefaultHistoryLimit)))

	res, err := r.diagnoses.History(ctx.Request.Context(), petID, page, limit)
	if err != nil {
		r.writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, res)
}

func (r *Server) userID(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.GetHeader(headerUserID), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + headerUserID})
		return 0, false
	}
	return id, true
}

func (r *Server) writeError(ctx *gin.Context, err error) {
	var (
		decodeErr *entity.DecodeError
		predErr   *entity.PredictionError
	)

	switch {
	case errors.As(err, &decodeErr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid image", "detail": decodeErr.Error()})
	case errors.Is(err, app.ErrInvalidInput):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		ctx.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	case errors.As(err, &predErr):
		r.logger.Error("prediction failed", zap.String("stage", string(predErr.Stage)), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
	default:
		r.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (r *Server) withTimeout() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if r.timeout <= 0 {
			ctx.Next()
			return
		}
		c, cancel := context.WithTimeout(ctx.Request.Context(), r.timeout)
		defer cancel()
		ctx.Request = ctx.Request.WithContext(c)
		ctx.Next()
	}
}

func requestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		ctx.Header(headerRequestID, id)
		ctx.Next()
	}
}

func readUpload(ctx *gin.Context) (string, string, []byte, error) {
	fh, err := ctx.FormFile(formFile)
	if err != nil {
		return "", "", nil, fmt.Errorf("multipart field %q is required", formFile)
	}
	if fh.Size > MaxUploadBytes {
		return "", "", nil, fmt.Errorf("file exceeds %d bytes", MaxUploadBytes)
	}

	f, err := fh.Open()
	if err != nil {
		return "", "", nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes))
	if err != nil {
		return "", "", nil, fmt.Errorf("read upload: %w", err)
	}

	return fh.Filename, fh.Header.Get("Content-Type"), data, nil
}

func toPredictResponse(filename string, d *entity.Diagnosis) predictResponse {
	return predictResponse{
		Filename:   filename,
		Label:      d.Label,
		Confidence: d.Confidence,
		Details:    d.Details,
		Stage:      string(d.Stage),
	}
}

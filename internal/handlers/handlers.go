package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/madcarpet/lessonadmin/internal/authorization"
	"github.com/madcarpet/lessonadmin/internal/batch"
	"github.com/madcarpet/lessonadmin/internal/blocks"
	"github.com/madcarpet/lessonadmin/internal/constants"
	"github.com/madcarpet/lessonadmin/internal/grading"
	"github.com/madcarpet/lessonadmin/internal/lessons"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"github.com/madcarpet/lessonadmin/internal/middlewares"
	"github.com/madcarpet/lessonadmin/internal/models"
	"github.com/madcarpet/lessonadmin/internal/payments"
	"github.com/madcarpet/lessonadmin/internal/utils"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type AdminStore interface {
	GetAdminByLogin(ctx context.Context, login string) (*models.Admin, error)
}

type LessonService interface {
	ListBlocks(ctx context.Context, lessonID string) ([]models.LessonBlock, error)
	CreateBlock(ctx context.Context, actorID, lessonID string, t blocks.Type, content json.RawMessage, position *int) (*models.LessonBlock, error)
	UpdateBlock(ctx context.Context, actorID, blockID string, content json.RawMessage) (*models.LessonBlock, error)
	DeleteBlock(ctx context.Context, actorID, blockID string) error
	ReorderBlocks(ctx context.Context, actorID, lessonID string, ids []string) ([]models.LessonBlock, error)
	GradeBlock(ctx context.Context, blockID string, answer json.RawMessage) (grading.Result, error)
	DeleteAssets(ctx context.Context, actorID, lessonID string, paths []string, confirm bool) (*models.DeleteReport, error)
}

type PaymentService interface {
	ListUnified(ctx context.Context, f models.PaymentFilter) ([]models.UnifiedPayment, error)
	FetchReceipts(ctx context.Context, actorID string, ids []string) (batch.Result, error)
	LinkOrders(ctx context.Context, actorID string, ids []string) (batch.Result, error)
	CreateDeals(ctx context.Context, actorID string, ids []string) (batch.Result, error)
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type createBlockRequest struct {
	Type     string          `json:"type"`
	Content  json.RawMessage `json:"content"`
	Position *int            `json:"position,omitempty"`
}

type updateBlockRequest struct {
	Content json.RawMessage `json:"content"`
}

type reorderRequest struct {
	BlockIDs []string `json:"block_ids"`
}

type deleteAssetsRequest struct {
	Paths   []string `json:"paths"`
	Confirm bool     `json:"confirm"`
}

type batchRequest struct {
	PaymentIDs []string `json:"payment_ids"`
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", constants.CntTypeHeaderText)
	w.WriteHeader(code)
	w.Write([]byte(msg))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logger.Log.Error("response serialisation error", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	w.Header().Set("Content-Type", constants.CntTypeHeaderJSON)
	w.WriteHeader(code)
	w.Write(body)
}

// readJSON checks the content type and decodes the body. It writes the error response itself.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if appType := r.Header.Get("Content-Type"); !strings.HasPrefix(appType, constants.CntTypeHeaderJSON) {
		writeText(w, http.StatusBadRequest, "Wrong request Content-Type")
		return false
	}
	defer r.Body.Close()
	reqBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.Log.Error("body reading error", zap.String("path", r.URL.Path), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return false
	}
	if err := json.Unmarshal(reqBody, v); err != nil {
		logger.Log.Debug("body deserialisation error", zap.String("path", r.URL.Path), zap.Error(err))
		writeText(w, http.StatusBadRequest, "Wrong request format")
		return false
	}
	return true
}

// idParam reads a uuid path parameter. It writes the error response itself.
func idParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if !utils.CheckUUID(id) {
		writeText(w, http.StatusBadRequest, "Wrong "+name+" format")
		return "", false
	}
	return id, true
}

// writeError maps service errors to status codes. Unknown errors are logged and hidden.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, lessons.ErrLessonNotFound), errors.Is(err, lessons.ErrBlockNotFound):
		writeText(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lessons.ErrOwnershipMismatch):
		writeText(w, http.StatusForbidden, err.Error())
	case errors.Is(err, blocks.ErrUnknownBlockType),
		errors.Is(err, blocks.ErrInvalidContent),
		errors.Is(err, blocks.ErrNotGradeable),
		errors.Is(err, lessons.ErrOrderMismatch):
		writeText(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, lessons.ErrMissingLesson),
		errors.Is(err, lessons.ErrNoPaths),
		errors.Is(err, payments.ErrEmptySelection):
		writeText(w, http.StatusBadRequest, err.Error())
	default:
		logger.Log.Error(op+" handler error", zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func LoginPostHandler(s AdminStore, a authorization.Authorizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !readJSON(w, r, &req) {
			return
		}
		if req.Login == "" || req.Password == "" {
			writeText(w, http.StatusBadRequest, "Login and password are required")
			return
		}
		admin, err := s.GetAdminByLogin(r.Context(), req.Login)
		if err != nil {
			logger.Log.Error("login handler error - getting admin by login error", zap.Error(err))
			writeText(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		// Same answer for unknown login and wrong password
		if admin == nil || authorization.CheckPassword(admin.Password, req.Password) != nil {
			writeText(w, http.StatusUnauthorized, "Wrong login or password")
			return
		}
		token, err := a.ProduceToken(admin.ID)
		if err != nil {
			writeText(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		w.Header().Add(constants.HeaderToken, token)
		writeText(w, http.StatusOK, "Admin authorized successfully")
	}
}

func BlocksGetHandler(l LessonService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lessonID, ok := idParam(w, r, "lessonID")
		if !ok {
			return
		}
		list, err := l.ListBlocks(r.Context(), lessonID)
		if err != nil {
			writeError(w, "blocks get", err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func BlocksPostHandler(l LessonService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lessonID, ok := idParam(w, r, "lessonID")
		if !ok {
			return
		}
		var req createBlockRequest
		if !readJSON(w, r, &req) {
			return
		}
		if !blocks.Known(blocks.Type(req.Type)) {
			writeText(w, http.StatusUnprocessableEntity, blocks.ErrUnknownBlockType.Error())
			return
		}
		b, err := l.CreateBlock(r.Context(), middlewares.AdminID(r.Context()), lessonID, blocks.Type(req.Type), req.Content, req.Position)
		if err != nil {
			writeError(w, "block create", err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

func BlockPutHandler(l LessonService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blockID, ok := idParam(w, r, "blockID")
		if !ok {
			return
		}
		var req updateBlockRequest
		if !readJSON(w, r, &req) {
			return
		}
		b, err := l.UpdateBlock(r.Context(), middlewares.AdminID(r.Context()), blockID, req.Content)
		if err != nil {
			writeError(w, "block update", err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func BlockDeleteHandler(l LessonService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blockID, ok := idParam(w, r, "blockID")
		if !ok {
			return
		}
		if err := l.DeleteBlock(r.Context(), middlewares.AdminID(r.Context()), blockID); err != nil {
			writeError(w, "block delete", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func BlocksOrderPutHandler(l LessonService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lessonID, ok := idParam(w, r, "lessonID")
		if !ok {
			return
		}
		var req reorderRequest
		if !readJSON(w, r, &req) {
			return
		}
		list, err := l.ReorderBlocks(r.Context(), middlewares.AdminID(r.Context()), lessonID, req.BlockIDs)
		if err != nil {
			writeError(w, "blocks reorder", err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func BlockGradePostHandler(l LessonService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blockID, ok := idParam(w, r, "blockID")
		if !ok {
			return
		}
		var answer json.RawMessage
		if !readJSON(w, r, &answer) {
			return
		}
		res, err := l.GradeBlock(r.Context(), blockID, answer)
		if err != nil {
			writeError(w, "block grade", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func AssetsDeletePostHandler(l LessonService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lessonID, ok := idParam(w, r, "lessonID")
		if !ok {
			return
		}
		var req deleteAssetsRequest
		if !readJSON(w, r, &req) {
			return
		}
		report, err := l.DeleteAssets(r.Context(), middlewares.AdminID(r.Context()), lessonID, req.Paths, req.Confirm)
		if err != nil {
			writeError(w, "assets delete", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func PaymentsGetHandler(p PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := models.PaymentFilter{Status: q.Get("status"), ProfileID: q.Get("profile_id")}
		for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
			v := q.Get(name)
			if v == "" {
				continue
			}
			if !utils.CheckIsNumbersOnly(v) {
				writeText(w, http.StatusBadRequest, "Wrong "+name+" format")
				return
			}
			*dst, _ = strconv.Atoi(v)
		}
		list, err := p.ListUnified(r.Context(), f)
		if err != nil {
			writeError(w, "payments get", err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

type bulkAction func(ctx context.Context, actorID string, ids []string) (batch.Result, error)

func PaymentsBatchPostHandler(p PaymentService) http.HandlerFunc {
	actions := map[string]bulkAction{
		"receipts":    p.FetchReceipts,
		"link-orders": p.LinkOrders,
		"deals":       p.CreateDeals,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		action, ok := actions[chi.URLParam(r, "action")]
		if !ok {
			writeText(w, http.StatusNotFound, "Unknown batch action")
			return
		}
		var req batchRequest
		if !readJSON(w, r, &req) {
			return
		}
		if bad, found := utils.FirstInvalidUUID(req.PaymentIDs); found {
			writeText(w, http.StatusBadRequest, "Wrong payment id format: "+bad)
			return
		}
		res, err := action(r.Context(), middlewares.AdminID(r.Context()), req.PaymentIDs)
		if err != nil {
			writeError(w, "payments batch", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusNotFound, "Lesson admin page not found")
	}
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/hitoshi/stravaexport/internal/export"
	"github.com/hitoshi/stravaexport/internal/middleware"
	"github.com/hitoshi/stravaexport/internal/model"
)

// maxExportRequestBytes はエクスポートリクエストボディの上限。
const maxExportRequestBytes = 16 << 10

// ExportServiceInterface はエクスポートハンドラーが必要とするサービスインターフェース。
type ExportServiceInterface interface {
	Export(ctx context.Context, req export.Request) (*export.Archive, error)
}

// accountRef は文字列・数値のどちらで送られても受け付けるアカウントID。
type accountRef string

// UnmarshalJSON は文字列または整数のJSON値を受け付ける。
func (a *accountRef) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = accountRef(strings.TrimSpace(s))
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("account id must be a string or integer")
	}
	*a = accountRef(strconv.FormatInt(n, 10))
	return nil
}

// exportRequest はエクスポートリクエストのボディ。
// athleteId/includeOnlyMileageと、同義のaccountId/onlyWithDistanceの両方を受け付ける。
type exportRequest struct {
	AthleteID          accountRef `json:"athleteId" validate:"required_without=AccountID"`
	AccountID          accountRef `json:"accountId"`
	StartDate          string     `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate            string     `json:"endDate" validate:"required,datetime=2006-01-02"`
	IncludeOnlyMileage bool       `json:"includeOnlyMileage"`
	OnlyWithDistance   bool       `json:"onlyWithDistance"`
}

// ExportHandler はエクスポートのHTTPハンドラー。
type ExportHandler struct {
	service  ExportServiceInterface
	validate *validator.Validate
	logger   *slog.Logger
}

// NewExportHandler はExportHandlerを生成する。
func NewExportHandler(service ExportServiceInterface, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		service:  service,
		validate: newRequestValidator(),
		logger:   logger,
	}
}

// ExportCSV は期間内のアクティビティをCSV入りzipとして返す。
// POST /api/export/csv
func (h *ExportHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	// 1. リクエストの検証
	req, apiErr := h.parseRequest(w, r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	middleware.SetAccountID(r.Context(), req.AccountID)

	// 2. エクスポートを実行
	archive, err := h.service.Export(r.Context(), *req)
	if err != nil {
		h.writeExportError(w, req.AccountID, err)
		return
	}

	// 3. アーカイブを返す
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, archive.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(archive.Data); err != nil {
		h.logger.Warn("failed to write export archive",
			slog.String("account_id", req.AccountID),
			slog.String("error", err.Error()),
		)
	}
}

// parseRequest はボディを読み取り、検証済みのエクスポート要求に変換する。
func (h *ExportHandler) parseRequest(w http.ResponseWriter, r *http.Request) (*export.Request, *model.APIError) {
	var body exportRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExportRequestBytes))
	if err := dec.Decode(&body); err != nil {
		return nil, model.NewInvalidRequestError("Request body must be a JSON object")
	}

	if err := h.validate.Struct(body); err != nil {
		return nil, model.NewInvalidRequestError(validationMessage(err))
	}

	start, _ := time.Parse(export.DateLayout, body.StartDate)
	end, _ := time.Parse(export.DateLayout, body.EndDate)
	if end.Before(start) {
		return nil, model.NewInvalidRequestError("endDate must not be before startDate")
	}

	accountID := string(body.AthleteID)
	if accountID == "" {
		accountID = string(body.AccountID)
	}

	return &export.Request{
		AccountID:        accountID,
		StartDate:        start,
		EndDate:          end,
		OnlyWithDistance: body.IncludeOnlyMileage || body.OnlyWithDistance,
	}, nil
}

// writeExportError はエクスポート失敗をステータスコードとエラーコードに変換する。
// 未認可は401、それ以外の下流の失敗は原因によらず500とし、codeで原因を区別する。
func (h *ExportHandler) writeExportError(w http.ResponseWriter, accountID string, err error) {
	if errors.Is(err, model.ErrNotAuthenticated) {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	h.logger.Error("export failed",
		slog.String("account_id", accountID),
		slog.String("error", err.Error()),
	)

	switch {
	case errors.Is(err, model.ErrTokenExchangeFailed):
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewTokenExchangeFailedError())
	case errors.Is(err, model.ErrUpstreamFetchFailed):
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewUpstreamFetchFailedError())
	default:
		middleware.WriteInternalServerError(w)
	}
}

// validationMessage は検証エラーを1行のメッセージに変換する。
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_without":
		return field + " is required"
	case "datetime":
		return field + " must be a date in YYYY-MM-DD format"
	default:
		return field + " is invalid"
	}
}

// newRequestValidator はエラーのフィールド名にJSONキー名を使うバリデーターを生成する。
func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

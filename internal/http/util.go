package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fieldvisit/internal/domain"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// decodeAndValidate 读取 JSON body 并按 validate tag 校验
func decodeAndValidate(r *http.Request, out any) error {
	if err := readBodyJSON(r, maxBodyBytes, out); err != nil {
		return domain.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewValidationError(toSnake(fe.Field()), "failed on '"+fe.Tag()+"'")
		}
		return domain.NewValidationError("body", err.Error())
	}
	return nil
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseDate 解析 YYYY-MM-DD；空串返回零值
func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, domain.NewValidationError(field, "expected YYYY-MM-DD")
	}
	return t, nil
}

// splitQuery 支持 ?k=a,b 与 ?k=a&k=b 两种写法
func splitQuery(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// identityFromReq 网关注入的调用者身份
func identityFromReq(r *http.Request) (domain.Identity, error) {
	id := domain.Identity{
		Code:     strings.TrimSpace(r.Header.Get("X-User-Code")),
		Name:     strings.TrimSpace(r.Header.Get("X-User-Name")),
		Role:     strings.TrimSpace(r.Header.Get("X-User-Role")),
		Position: strings.TrimSpace(r.Header.Get("X-User-Position")),
	}
	if id.Code == "" {
		return id, domain.Required("X-User-Code")
	}
	if id.Role == "" {
		return id, domain.Required("X-User-Role")
	}
	return id, nil
}

// writeError 按错误类型映射 HTTP 状态码
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		verr *domain.ValidationError
		nf   *domain.NotFoundError
		oor  *domain.OutOfRangeError
		cerr *domain.ConflictError
		ferr *domain.ForbiddenError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, FailWith(ResultValidation, err.Error(), map[string]string{"field": verr.Field}))
	case errors.As(err, &oor):
		writeJSON(w, http.StatusUnprocessableEntity, FailWith(ResultOutOfRange, err.Error(), map[string]float64{
			"distance_meters":  oor.DistanceMeters,
			"threshold_meters": oor.ThresholdMeters,
		}))
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, FailWith(ResultNotFound, err.Error(), nil))
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusConflict, FailWith(ResultConflict, err.Error(), nil))
	case errors.As(err, &ferr):
		writeJSON(w, http.StatusForbidden, FailWith(ResultForbidden, err.Error(), nil))
	default:
		logger.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("internal error"))
	}
}

package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/madcarpet/lessonadmin/internal/authorization"
	"github.com/madcarpet/lessonadmin/internal/constants"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"go.uber.org/zap"
)

type ctxKey string

const UID ctxKey = "uid"

// AdminID returns the id stored by Authorize.
func AdminID(ctx context.Context) string {
	id, _ := ctx.Value(UID).(string)
	return id
}

func Authorize(a authorization.Authorizer, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		//token header checking, bearer prefix is optional
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get(constants.HeaderToken), "Bearer "))
		if token == "" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Access denied"))
			return
		}
		adminID, err := a.VerifyToken(token)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Access denied"))
			return
		}
		ctx := context.WithValue(r.Context(), UID, adminID)
		logger.Log.Debug("next admin authorized successfully", zap.String("AdminID", adminID), zap.String("PATH", r.URL.Path))
		next(w, r.WithContext(ctx))
	}
}

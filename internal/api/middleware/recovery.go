package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"riskengine/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Паника логируется вместе со stack trace, клиент получает 500
// в стандартном JSON формате ошибки. Детали паники наружу не отдаются.
func Recovery(log *utils.Logger) func(http.Handler) http.Handler {
	log = log.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic in handler",
						zap.String("panic", fmt.Sprint(rec)),
						zap.String("path", r.URL.Path),
						utils.RequestID(RequestIDFromContext(r.Context())),
						zap.ByteString("stack", debug.Stack()),
					)
					writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

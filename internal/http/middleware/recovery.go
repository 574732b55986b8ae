package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// Recovery turns a handler panic into a JSON 500.
func Recovery(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					if recovered == http.ErrAbortHandler {
						panic(recovered)
					}
					if logger != nil {
						logger.WithFields(logrus.Fields{
							"request_id": GetRequestID(r.Context()),
							"panic":      recovered,
							"stack":      string(debug.Stack()),
						}).Error("panic recovered")
					}
					WriteError(w, r, http.StatusInternalServerError, "Internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"net/http"

	"pdf2audio/internal/logger"
)

// LoggerMiddleware logs incoming HTTP requests.
func LoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		logger := logger.New()
		logger.Debug().Msgf("%s %s", r.Method, r.URL.RequestURI())
	})
}

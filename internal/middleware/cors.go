package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS は許可するオリジンを指定してCORSミドルウェアを作成します
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Requested-With",
		},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}

	// "*" の場合は資格情報を許可できない
	if len(allowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.AllowedOrigins[0] != "*" {
		opts.AllowCredentials = true
	}

	return cors.Handler(opts)
}

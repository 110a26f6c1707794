package connectivity

import (
	"errors"
	"net/http"

	"github.com/hazyhaar/pagemark/horosafe"
)

// HTTPHandler serves the router to HTTPFactory clients: POST /{service}
// with the payload as body. Unknown services answer 404, handler errors
// 502 with the error text.
func HTTPHandler(r *Router) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{service}", func(w http.ResponseWriter, req *http.Request) {
		service := req.PathValue("service")
		payload, err := horosafe.LimitedReadAll(req.Body, horosafe.MaxBody)
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		resp, err := r.Call(req.Context(), service, payload)
		var notFound *ErrServiceNotFound
		switch {
		case errors.As(err, &notFound):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case err != nil:
			r.logger.Warn("connectivity: http call failed", "service", service, "error", err)
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	})
	return mux
}

package shared

import (
	"log/slog"
	"net/http"
)

// committingWriter persists the session just before the first byte of the response,
// so Set-Cookie lands in the headers.
type committingWriter struct {
	http.ResponseWriter
	r         *http.Request
	sess      *Session
	manager   *SessionManager
	logger    *slog.Logger
	committed bool
}

func (w *committingWriter) commit() {
	if w.committed {
		return
	}
	w.committed = true
	if err := w.manager.Commit(w.r.Context(), w.ResponseWriter, w.r, w.sess); err != nil {
		w.logger.Error("commit session", slog.Any("error", err))
	}
}

func (w *committingWriter) WriteHeader(status int) {
	w.commit()
	w.ResponseWriter.WriteHeader(status)
}

func (w *committingWriter) Write(data []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(data)
}

func (w *committingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware loads the session into the request context and commits it with the response.
func (sm *SessionManager) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sm.Load(r.Context(), r)
			if err != nil {
				logger.Error("load session", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			r = r.WithContext(ContextWithSession(r.Context(), sess))
			cw := &committingWriter{ResponseWriter: w, r: r, sess: sess, manager: sm, logger: logger}
			next.ServeHTTP(cw, r)
			cw.commit()
		})
	}
}

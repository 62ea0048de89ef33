package songs

import (
	"errors"
	log "log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Handler serves the library at GET {prefix}/{query}.
func Handler(prefix string, lib *Library) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"/{query}", func(w http.ResponseWriter, r *http.Request) {
		query := r.PathValue("query")
		log.Info("Song requested", "query", query)

		name, err := lib.Pick(query)
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("Failed to pick song", "err", err)
			http.Error(w, "library unavailable", http.StatusInternalServerError)
			return
		}

		f, err := os.Open(filepath.Join(lib.dir, name))
		if err != nil {
			log.Error("Failed to open song", "file", name, "err", err)
			http.Error(w, "library unavailable", http.StatusInternalServerError)
			return
		}
		defer f.Close()

		modTime := time.Time{}
		if st, err := f.Stat(); err == nil {
			modTime = st.ModTime()
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		http.ServeContent(w, r, name, modTime, f)
	})
	return mux
}

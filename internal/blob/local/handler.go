package local

import (
	"crypto/hmac"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/matthewmarion/batchboy/internal/blob"
)

// Handler serves blobs to holders of a valid signed URL. Only GET and HEAD
// are routed.
func (s *Store) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{container}/{name}", s.serveBlob)
	return mux
}

func (s *Store) serveBlob(w http.ResponseWriter, r *http.Request) {
	container, name := r.PathValue("container"), r.PathValue("name")
	if blob.ValidateContainerName(container) != nil || validName(name) != nil {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	se := q.Get("se")
	expiry, err := strconv.ParseInt(se, 10, 64)
	if err != nil || q.Get("sp") != permissionRead {
		http.Error(w, "malformed signature", http.StatusForbidden)
		return
	}
	want := s.sign(permissionRead, container, name, se)
	if !hmac.Equal([]byte(q.Get("sig")), []byte(want)) {
		http.Error(w, "signature mismatch", http.StatusForbidden)
		return
	}
	if !s.now().Before(time.Unix(expiry, 0)) {
		http.Error(w, "signature expired", http.StatusForbidden)
		return
	}

	f, err := s.fs.Open(filepath.Join(s.containerDir(container), name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}

	slog.Debug("serving blob", "container", container, "name", name, "size", info.Size())
	http.ServeContent(w, r, name, info.ModTime(), f)
}

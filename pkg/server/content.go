package server

import (
	"bytes"
	"io"
	"io/fs"
	"net/http"
	"path"

	"github.com/Layr-Labs/payword-channels-go/pkg/admission"
	"github.com/Layr-Labs/payword-channels-go/pkg/util"
)

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".aac":  "audio/aac",
}

// contentHandler serves files from the content source behind the admission
// gate. Unknown paths are answered before the gate so a missing file never
// consumes a payment.
func (s *Server) contentHandler() http.Handler {
	paid := s.gate.Middleware(http.HandlerFunc(s.serveContent))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("path")
		if !fs.ValidPath(name) || name == "." {
			util.WriteFailure(w, http.StatusNotFound, "CONTENT_NOT_FOUND", "HLS file not found")
			return
		}
		info, err := fs.Stat(s.content, name)
		if err != nil || info.IsDir() {
			util.WriteFailure(w, http.StatusNotFound, "CONTENT_NOT_FOUND", "HLS file not found")
			return
		}
		paid.ServeHTTP(w, r)
	})
}

func (s *Server) serveContent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("path")

	f, err := s.content.Open(name)
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		util.WriteError(w, s.logger, err)
		return
	}

	rs, ok := f.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			util.WriteError(w, s.logger, err)
			return
		}
		rs = bytes.NewReader(data)
	}

	if admitted, ok := admission.FromContext(r.Context()); ok {
		s.logger.Sugar().Debugw("Serving paid content",
			"path", name,
			"channelId", admitted.Channel.ID,
			"index", admitted.Payment.Index,
		)
	}

	if ct, ok := contentTypes[path.Ext(name)]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")
	http.ServeContent(w, r, name, info.ModTime(), rs)
}

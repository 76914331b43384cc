package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var errOutsideDocs = errors.New("path is outside the documents directory")

// handleListDocuments lists loaded sources with page and chunk counts.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"documents": s.deps.Corpus.Sources()})
}

// handlePDF streams a document from the docs directory as a download. url
// is a source ID as returned in search and extraction results, or a bare
// file name.
func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolveDocPath(r.URL.Query().Get("url"))
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, errOutsideDocs) {
			code = http.StatusForbidden
		}
		jsonError(w, err.Error(), code)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}

	name := filepath.Base(path)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment;filename=%q", name))
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		w.Header().Set("Content-Type", "application/pdf")
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// resolveDocPath maps raw onto a file under DocsDir.
func (s *Server) resolveDocPath(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("url is required")
	}
	root, err := filepath.Abs(s.cfg.DocsDir)
	if err != nil {
		return "", fmt.Errorf("resolve docs dir: %w", err)
	}

	p := filepath.Clean(raw)
	if !filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil || !within(root, abs) {
			abs = filepath.Join(root, p)
		}
		p = abs
	}
	if !within(root, p) {
		return "", errOutsideDocs
	}
	return p, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/lyallcooper/convoy/internal/pipeline"
	"github.com/lyallcooper/convoy/internal/search"
	"github.com/lyallcooper/convoy/internal/tree"
)

// Tree handles GET /api/tree?root=
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	root, err := h.resolvePath("root", r.URL.Query().Get("root"))
	if err != nil {
		writeError(w, err)
		return
	}

	node, err := tree.Build(root)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(tree.RenderText(node)))
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// ExportTreeRequest is the body of POST /api/tree/export
type ExportTreeRequest struct {
	Root   string `json:"root"`
	OutDir string `json:"out_dir"`
	Name   string `json:"name"`
}

// ExportTreeResponse lists the written files
type ExportTreeResponse struct {
	TextPath string `json:"text_path"`
	JSONPath string `json:"json_path"`
}

// ExportTree handles POST /api/tree/export
func (h *Handler) ExportTree(w http.ResponseWriter, r *http.Request) {
	var req ExportTreeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	root, err := h.resolvePath("root", req.Root)
	if err != nil {
		writeError(w, err)
		return
	}
	outDir, err := h.resolvePath("out_dir", req.OutDir)
	if err != nil {
		writeError(w, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		writeError(w, badRequest("invalid export name %q", name))
		return
	}

	textPath, jsonPath, err := tree.Export(root, outDir, name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ExportTreeResponse{TextPath: textPath, JSONPath: jsonPath})
}

// SearchResponse is the result of a keyword search
type SearchResponse struct {
	Corpus   search.Corpus `json:"corpus"`
	Root     string        `json:"root"`
	Exts     []string      `json:"exts"`
	Keywords []string      `json:"keywords"`
	Hits     []search.Hit  `json:"hits"`
}

// Search handles GET /api/search?corpus=inputs|outputs&root=&exts=&keywords=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	corpus, err := search.ParseCorpus(q.Get("corpus"))
	if err != nil {
		writeError(w, badRequest("%v", err))
		return
	}
	root, err := h.resolvePath("root", q.Get("root"))
	if err != nil {
		writeError(w, err)
		return
	}
	keywords, err := search.ParseKeywords(q.Get("keywords"))
	if err != nil {
		writeError(w, err)
		return
	}

	exts := splitList(q.Get("exts"))
	if len(exts) == 0 {
		exts = h.corpusExts(corpus)
	}

	hits, err := search.Search(r.Context(), root, pipeline.SuffixFilter(exts...), keywords)
	if err != nil {
		writeError(w, err)
		return
	}
	if hits == nil {
		hits = []search.Hit{}
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Corpus:   corpus,
		Root:     root,
		Exts:     exts,
		Keywords: keywords,
		Hits:     hits,
	})
}

// corpusExts returns the default extensions searched for a corpus
func (h *Handler) corpusExts(corpus search.Corpus) []string {
	if len(h.cfg.SearchExts) > 0 {
		return h.cfg.SearchExts
	}
	if corpus == search.CorpusInputs {
		return h.cfg.SourceExts
	}
	return []string{h.cfg.TargetExt}
}

package handler

import "net/http"

// LanguageInfo is the public view of a language profile. Images and build
// commands stay internal.
type LanguageInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Extension   string `json:"extension"`
	Timeout     int64  `json:"timeout"` // default timeout in ms
}

// LanguagesResponse is the body of GET /languages.
type LanguagesResponse struct {
	Success   bool           `json:"success"`
	Languages []LanguageInfo `json:"languages"`
}

// LanguagesHandler serves the enabled languages in registry order.
type LanguagesHandler struct {
	catalog Catalog
}

func NewLanguagesHandler(catalog Catalog) *LanguagesHandler {
	return &LanguagesHandler{catalog: catalog}
}

func (h *LanguagesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	profiles := h.catalog.Languages()
	langs := make([]LanguageInfo, 0, len(profiles))
	for _, p := range profiles {
		langs = append(langs, LanguageInfo{
			Name:        p.ID,
			DisplayName: p.DisplayName,
			Extension:   p.Extension,
			Timeout:     p.DefaultTimeout.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, LanguagesResponse{Success: true, Languages: langs})
}

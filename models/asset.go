package models

// AssetInfo beschreibt ein einzelnes Binär-Objekt bei der Ordner-Auflistung.
type AssetInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	Revision string `json:"revision"`
}

// UploadResult ist die Antwort auf einen erfolgreichen Asset-Upload.
type UploadResult struct {
	Name string `json:"name"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

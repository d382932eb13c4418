package models

// Result is the extracted content of one fetched page.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Byline   string `json:"byline,omitempty"`
	Text     string `json:"text,omitempty"`
	TopImage string `json:"top_image,omitempty"`
	HTMLHash string `json:"html_hash,omitempty"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}

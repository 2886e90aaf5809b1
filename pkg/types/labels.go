package types

// LabelResult is what a vision model returns when asked to name the content of a crop
type LabelResult struct {
	// Labels are candidate label strings, best first
	Labels []string `json:"labels"`
	// Text is any text the model read inside the crop
	Text string `json:"text,omitempty"`
}

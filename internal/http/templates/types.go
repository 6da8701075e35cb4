package templates

// SiteTitle heads every page.
const SiteTitle = "NewJeans Chatbot"

// HomePageData contains dynamic values rendered on the landing page.
type HomePageData struct {
	Model      string
	FactCount  int
	SampleKeys []string
}

// ErrorPageData holds information for rendering an error view.
type ErrorPageData struct {
	StatusLabel string
	Message     string
}

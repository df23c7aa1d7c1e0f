package ingest

// Cleaner transforms extracted text before it is stored.
type Cleaner interface {
	Name() string
	Clean(text string) string
}

// Classifier assigns topic labels to cleaned text.
type Classifier interface {
	Name() string
	Classify(text string) []string
}

// IdentityCleaner passes text through unchanged.
type IdentityCleaner struct{}

// Name implements Cleaner.
func (IdentityCleaner) Name() string { return "identity" }

// Clean implements Cleaner.
func (IdentityCleaner) Clean(text string) string { return text }

// NoTopics assigns no topics.
type NoTopics struct{}

// Name implements Classifier.
func (NoTopics) Name() string { return "none" }

// Classify implements Classifier.
func (NoTopics) Classify(string) []string { return []string{} }

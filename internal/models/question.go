package models

// Question is one binary-outcome statement from the catalog. Left and
// Right label the two sides; Answer is true when the right-hand side is
// the correct one. Text is the catalog's natural unique key.
type Question struct {
	Text   string `json:"text" yaml:"text"`
	Left   string `json:"left" yaml:"left"`
	Right  string `json:"right" yaml:"right"`
	Answer bool   `json:"answer" yaml:"answer"`
}

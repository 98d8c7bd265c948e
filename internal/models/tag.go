package models

// Tag is a label owned by the tag collaborator. The content store only
// manages its association with articles.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

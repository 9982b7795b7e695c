package models

// File is an editor source file (e.g. a .tex document) kept in the "files"
// collection.
type File struct {
	Base    `bson:",inline"`
	Name    string   `bson:"name" json:"name"`
	Content string   `bson:"content,omitempty" json:"content,omitempty"`
	Status  string   `bson:"status,omitempty" json:"status,omitempty"`
	Tags    []string `bson:"tags,omitempty" json:"tags,omitempty"`
}

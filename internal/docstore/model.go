package docstore

// Document is the single physical row shape backing every logical
// collection: a composite (collection, key) primary key and a JSON payload.
// Entity packages own their typed record shapes and cross the serialization
// boundary here.
type Document struct {
	Collection string `gorm:"column:collection;primaryKey;size:64;not null"`
	Key        string `gorm:"column:doc_key;primaryKey;size:190;not null"`
	Data       string `gorm:"column:data;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

package history

import "time"

// Kind names the component that served an exchange.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindRetrieve Kind = "retrieve"
)

// Exchange is one request answered by the generator or the retrieval lookup.
type Exchange struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Kind      Kind      `gorm:"size:16;index:idx_exchanges_kind;not null"`
	RequestID string    `gorm:"size:64"`
	Input     string    `gorm:"type:text;not null"`
	Output    string    `gorm:"type:text"`
	Found     bool      `gorm:"not null;default:false"`
	Failed    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"index:idx_exchanges_created_at"`
}

// TableName defines the table name for the Exchange model.
func (Exchange) TableName() string {
	return "exchanges"
}

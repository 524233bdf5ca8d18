package mxm

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// Rating 反馈评价，取值为封闭集合
type Rating string

const (
	RatingGood         Rating = "Bom"
	RatingNeutral      Rating = "Neutro"
	RatingBad          Rating = "Ruim"
	RatingDissatisfied Rating = "Insatisfeito"
)

// DefaultRatings is the declared category order, also used as the chart axis order.
var DefaultRatings = []Rating{RatingGood, RatingNeutral, RatingBad, RatingDissatisfied}

// Placeholder replaces absent comment/analysis text.
const Placeholder = "-"

// Feedback is one normalized feedback entry. Every field is present after Normalize.
type Feedback struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Rating    Rating `json:"rating"`
	Timestamp string `json:"timestamp"`
	Comment   string `json:"comment"`
	Analysis  string `json:"analysis"`
}

// OptionalText is a value that may be missing on the wire.
type OptionalText struct {
	Value string
	Valid bool
}

func Some(s string) OptionalText {
	return OptionalText{Value: s, Valid: true}
}

func None() OptionalText {
	return OptionalText{}
}

// Or returns the text, or def when missing or empty.
func (o OptionalText) Or(def string) string {
	if !o.Valid || o.Value == "" {
		return def
	}
	return o.Value
}

// UnmarshalJSON accepts any json value: null stays None, strings are taken as is,
// anything else keeps its literal json text.
func (o *OptionalText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = None()
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = Some(s)
		return nil
	}
	*o = Some(string(data))
	return nil
}

func (o OptionalText) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// RawFeedback 远端存储中的原始记录，字段均可能缺失
type RawFeedback struct {
	Usuario    OptionalText `json:"usuario"`
	Rating     OptionalText `json:"rating"`
	Data       OptionalText `json:"data"`
	Comentario OptionalText `json:"comentario"`
	Analysis   OptionalText `json:"analysis"`
}

// Normalize resolves every optional field to its documented default.
func (r RawFeedback) Normalize(id string) Feedback {
	return Feedback{
		ID:        id,
		User:      r.Usuario.Or(""),
		Rating:    Rating(r.Rating.Or("")),
		Timestamp: r.Data.Or(""),
		Comment:   r.Comentario.Or(Placeholder),
		Analysis:  r.Analysis.Or(Placeholder),
	}
}

// FromSnapshot converts an id->record mapping into records ordered by id.
func FromSnapshot(snapshot map[string]RawFeedback) []Feedback {
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]Feedback, 0, len(ids))
	for _, id := range ids {
		records = append(records, snapshot[id].Normalize(id))
	}
	return records
}

// DecodeSnapshot parses a collection export. null or an empty body is an empty collection.
// Entries that are not json objects become records with every field missing.
func DecodeSnapshot(data []byte) ([]Feedback, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []Feedback{}, nil
	}
	var entries map[string]json.RawMessage
	if data[0] == '[' {
		// 整数key的集合会被导出成数组，下标即key，空位为null
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		entries = make(map[string]json.RawMessage, len(items))
		for i, item := range items {
			if isNull(item) {
				continue
			}
			entries[strconv.Itoa(i)] = item
		}
	} else if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	snapshot := make(map[string]RawFeedback, len(entries))
	for id, entry := range entries {
		snapshot[id] = DecodeRaw(entry)
	}
	return FromSnapshot(snapshot), nil
}

// DecodeRaw decodes one record leniently.
func DecodeRaw(entry json.RawMessage) RawFeedback {
	var raw RawFeedback
	if err := json.Unmarshal(entry, &raw); err != nil {
		return RawFeedback{}
	}
	return raw
}

// FeedbackRow 归档到mysql的反馈记录
type FeedbackRow struct {
	ID         uint           `gorm:"primaryKey" json:"-"`
	Collection string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_collection_key" json:"collection"`
	RecordKey  string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_collection_key;column:record_key" json:"record_key"`
	Usuario    *string        `gorm:"type:varchar(128)" json:"usuario"`
	Rating     *string        `gorm:"type:varchar(32);index" json:"rating"`
	Data       *string        `gorm:"type:varchar(64)" json:"data"`
	Comentario *string        `gorm:"type:text" json:"comentario"`
	Analysis   *string        `gorm:"type:text" json:"analysis"`
	Extra      datatypes.JSON `gorm:"column:extra;type:json" json:"extra"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (FeedbackRow) TableName() string {
	return "feedback"
}

// ToRaw maps the nullable columns onto the wire shape. A NULL column falls back to
// the same field in the Extra json, which keeps the record as it was archived.
func (r FeedbackRow) ToRaw() RawFeedback {
	var extra RawFeedback
	if len(r.Extra) > 0 {
		extra = DecodeRaw(json.RawMessage(r.Extra))
	}
	return RawFeedback{
		Usuario:    fromPtr(r.Usuario, extra.Usuario),
		Rating:     fromPtr(r.Rating, extra.Rating),
		Data:       fromPtr(r.Data, extra.Data),
		Comentario: fromPtr(r.Comentario, extra.Comentario),
		Analysis:   fromPtr(r.Analysis, extra.Analysis),
	}
}

func fromPtr(p *string, fallback OptionalText) OptionalText {
	if p == nil {
		return fallback
	}
	return Some(*p)
}

func isNull(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

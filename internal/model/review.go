package model

// NormalizedFields lists the fields the normalizer rewrites. Review items
// are only ever emitted for these, so a row key has at most three of them.
var NormalizedFields = []string{"bs_school", "ms_school", "phd_school"}

// ReviewItem is an uncertain normalization decision awaiting (or holding)
// a manual correction. Its key is (row_key, field, original_value), which
// is deliberately independent of row identity: a manual edit survives row
// re-processing as long as the original field value is unchanged.
//
// The manual value may arrive under several field names in the
// operator-edited file; ManualValue checks them in priority order.
type ReviewItem struct {
	RowKey        string  `json:"row_key"`
	Field         string  `json:"field"`
	OriginalValue string  `json:"original_value"`
	ModelAbbr     string  `json:"model_abbr"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
	CreatedAt     string  `json:"created_at"`

	// Accepted override spellings, first non-empty wins.
	ManualAbbr    string `json:"manual_abbr,omitempty"`
	ManualValueV2 string `json:"manual_value,omitempty"`
	Override      string `json:"override,omitempty"`
	Abbr          string `json:"abbr,omitempty"`
}

// Key identifies the review item independently of row granularity.
func (r ReviewItem) Key() string {
	return r.RowKey + "|" + r.Field + "|" + r.OriginalValue
}

// ManualValue returns the operator-supplied correction, checking the
// accepted field aliases in fixed priority order. Empty string means no
// usable override.
func (r ReviewItem) ManualValue() string {
	for _, v := range []string{r.ManualAbbr, r.ManualValueV2, r.Override, r.Abbr} {
		if v != "" {
			return v
		}
	}
	return ""
}

package override

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smilezzm/schools-of-professors/internal/model"
)

func rowKey() model.RowKey {
	return model.RowKey{
		Department: "物理学院",
		School:     "物理学院",
		NameZH:     "李四光",
	}
}

func reviewStore(items ...model.ReviewItem) map[string]model.ReviewItem {
	out := map[string]model.ReviewItem{}
	for _, item := range items {
		out[item.Key()] = item
	}
	return out
}

func TestResolve_AppliesManualValue(t *testing.T) {
	t.Parallel()

	r := NewResolver(reviewStore(model.ReviewItem{
		RowKey:        rowKey().String(),
		Field:         "phd_school",
		OriginalValue: "法国南巴黎大学",
		ManualAbbr:    "UPS",
	}))

	got, applied := r.Resolve(rowKey(), "phd_school", "法国南巴黎大学")
	assert.True(t, applied)
	assert.Equal(t, "UPS", got)
}

func TestResolve_PassesThroughWithoutOverride(t *testing.T) {
	t.Parallel()

	r := NewResolver(reviewStore())
	got, applied := r.Resolve(rowKey(), "phd_school", "法国南巴黎大学")
	assert.False(t, applied)
	assert.Equal(t, "法国南巴黎大学", got)
}

func TestResolve_KeySensitivity(t *testing.T) {
	t.Parallel()

	r := NewResolver(reviewStore(model.ReviewItem{
		RowKey:        rowKey().String(),
		Field:         "phd_school",
		OriginalValue: "法国南巴黎大学",
		ManualAbbr:    "UPS",
	}))

	// Different field, row, or original value resolves nothing.
	_, applied := r.Resolve(rowKey(), "bs_school", "法国南巴黎大学")
	assert.False(t, applied)

	other := rowKey()
	other.NameZH = "王五"
	_, applied = r.Resolve(other, "phd_school", "法国南巴黎大学")
	assert.False(t, applied)

	_, applied = r.Resolve(rowKey(), "phd_school", "南巴黎大学")
	assert.False(t, applied)
}

func TestResolve_AliasPriorityOrder(t *testing.T) {
	t.Parallel()

	r := NewResolver(reviewStore(model.ReviewItem{
		RowKey:        rowKey().String(),
		Field:         "bs_school",
		OriginalValue: "某大学",
		ManualValueV2: "ABC",
		Abbr:          "XYZ",
	}))

	got, applied := r.Resolve(rowKey(), "bs_school", "某大学")
	assert.True(t, applied)
	assert.Equal(t, "ABC", got)
}

func TestPendingAndOverrideCounts(t *testing.T) {
	t.Parallel()

	r := NewResolver(reviewStore(
		model.ReviewItem{RowKey: "a", Field: "bs_school", OriginalValue: "x", ManualAbbr: "X"},
		model.ReviewItem{RowKey: "b", Field: "ms_school", OriginalValue: "y"},
		model.ReviewItem{RowKey: "c", Field: "phd_school", OriginalValue: "z", ManualAbbr: "  "},
	))

	assert.Equal(t, 1, r.Overrides())
	assert.Equal(t, 2, r.Pending())
}

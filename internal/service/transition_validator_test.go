package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabtrack.io/tracker/internal/domain"
)

func strPtr(s string) *string { return &s }

func fullDelivery() *domain.DeliveryDetails {
	return &domain.DeliveryDetails{
		Time:          "2026-03-01T10:00:00Z",
		Address:       "Dock 4, Riverside",
		PurchaseOrder: "PO-4471",
		DeliveredBy:   "J. Okafor",
	}
}

func TestTransitionValidator_Validate(t *testing.T) {
	t.Parallel()

	v := NewTransitionValidator(DefaultVocabulary())

	tests := []struct {
		name       string
		category   domain.StatusCategory
		current    *string
		proposal   Proposal
		wantValid  bool
		wantValue  string
		wantReason string
	}{
		{
			name:      "order with secondary",
			category:  domain.CategoryOrder,
			proposal:  Proposal{Primary: "Ordered", Secondary: "(M.S)"},
			wantValid: true,
			wantValue: "Ordered - (M.S)",
		},
		{
			name:       "order requires secondary",
			category:   domain.CategoryOrder,
			proposal:   Proposal{Primary: "Ordered"},
			wantReason: "Ordered requires a secondary status, one of (M.S), (L.S), (O.S)",
		},
		{
			name:      "order cleared",
			category:  domain.CategoryOrder,
			current:   strPtr("Ordered - (L.S)"),
			proposal:  Proposal{},
			wantValid: true,
			wantValue: "",
		},
		{
			name:       "order secondary without primary",
			category:   domain.CategoryOrder,
			current:    strPtr("Ordered - (L.S)"),
			proposal:   Proposal{Secondary: "(O.S)"},
			wantReason: "secondary (O.S) requires a primary status",
		},
		{
			name:      "pickup picked from empty",
			category:  domain.CategoryPickup,
			proposal:  Proposal{Primary: "Picked", Secondary: "(B.T.W)"},
			wantValid: true,
			wantValue: "Picked (B.T.W)",
		},
		{
			name:       "pickup secondary from the other primary",
			category:   domain.CategoryPickup,
			current:    strPtr("Picked (B.T.W)"),
			proposal:   Proposal{Primary: "Picked", Secondary: "(E.S)"},
			wantReason: "secondary (E.S) is not allowed under Picked",
		},
		{
			name:      "pickup failed",
			category:  domain.CategoryPickup,
			current:   strPtr("Picked (B.T.W)"),
			proposal:  Proposal{Primary: "Failed", Secondary: "(N.A)"},
			wantValid: true,
			wantValue: "Failed (N.A)",
		},
		{
			name:       "pickup cannot be cleared",
			category:   domain.CategoryPickup,
			current:    strPtr("Picked (A.P)"),
			proposal:   Proposal{},
			wantReason: "pickup status is required",
		},
		{
			name:       "pickup unknown primary",
			category:   domain.CategoryPickup,
			proposal:   Proposal{Primary: "Lost", Secondary: "(A.P)"},
			wantReason: `"Lost" is not a valid pickup status`,
		},
		{
			name:      "delivery with all details",
			category:  domain.CategoryDelivery,
			proposal:  Proposal{Primary: "Delivered", Delivery: fullDelivery()},
			wantValid: true,
			wantValue: "Delivered",
		},
		{
			name:     "delivery missing details",
			category: domain.CategoryDelivery,
			proposal: Proposal{Primary: "Delivered", Delivery: &domain.DeliveryDetails{
				Time: "10:00", Address: "Dock 4",
			}},
			wantReason: "Delivered requires delivery details: missing purchaseOrder, deliveredBy",
		},
		{
			name:       "delivery cleared with leftover details",
			category:   domain.CategoryDelivery,
			current:    strPtr("Delivered"),
			proposal:   Proposal{Delivery: &domain.DeliveryDetails{Address: "Dock 4"}},
			wantReason: "delivery details are only allowed with a delivered status",
		},
		{
			name:      "delivery cleared with blank details",
			category:  domain.CategoryDelivery,
			current:   strPtr("Delivered"),
			proposal:  Proposal{Delivery: &domain.DeliveryDetails{Time: " ", Address: "  "}},
			wantValid: true,
			wantValue: "",
		},
		{
			name:       "delivery takes no secondary",
			category:   domain.CategoryDelivery,
			proposal:   Proposal{Primary: "Delivered", Secondary: "(M.S)", Delivery: fullDelivery()},
			wantReason: "Delivered takes no secondary status",
		},
		{
			name:      "check completes",
			category:  domain.CategoryCheck,
			proposal:  Proposal{Primary: "(C.B)"},
			wantValid: true,
			wantValue: "(C.B)",
		},
		{
			name:       "check empty rejected",
			category:   domain.CategoryCheck,
			proposal:   Proposal{},
			wantReason: "check status is required",
		},
		{
			name:       "same value rejected",
			category:   domain.CategoryCheck,
			current:    strPtr("(C.P)"),
			proposal:   Proposal{Primary: "(C.P)"},
			wantReason: "status unchanged",
		},
		{
			name:       "empty onto nil is unchanged",
			category:   domain.CategoryOrder,
			proposal:   Proposal{},
			wantReason: "status unchanged",
		},
		{
			name:       "unknown category",
			category:   domain.StatusCategory("SHIPPING"),
			proposal:   Proposal{Primary: "x"},
			wantReason: `unknown status category "SHIPPING"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := v.Validate(tt.category, tt.current, tt.proposal)
			assert.Equal(t, tt.wantValid, got.Valid)
			if tt.wantValid {
				assert.Empty(t, got.Reason)
				assert.Equal(t, tt.wantValue, got.Value)
				return
			}
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

// Every legal (primary, secondary) pair is accepted from an empty current
// value and every secondary borrowed from another primary is rejected.
func TestTransitionValidator_LegalityTable(t *testing.T) {
	t.Parallel()

	vocab := DefaultVocabulary()
	v := NewTransitionValidator(vocab)

	for cat, rules := range vocab {
		for _, primary := range rules.Primaries {
			allowed := rules.Secondaries[primary]
			var delivery *domain.DeliveryDetails
			if len(rules.RequiresDelivery) > 0 {
				delivery = fullDelivery()
			}

			if len(allowed) == 0 {
				res := v.Validate(cat, nil, Proposal{Primary: primary, Delivery: delivery})
				assert.True(t, res.Valid, "%s %s: %s", cat, primary, res.Reason)
				continue
			}
			for _, sec := range allowed {
				res := v.Validate(cat, nil, Proposal{Primary: primary, Secondary: sec})
				assert.True(t, res.Valid, "%s %s %s: %s", cat, primary, sec, res.Reason)
			}
			for other, otherSecs := range rules.Secondaries {
				if other == primary {
					continue
				}
				for _, sec := range otherSecs {
					res := v.Validate(cat, nil, Proposal{Primary: primary, Secondary: sec})
					assert.False(t, res.Valid, "%s %s %s should be rejected", cat, primary, sec)
					assert.NotEmpty(t, res.Reason)
				}
			}
		}
	}
}

func TestTransitionValidator_ParseValue(t *testing.T) {
	t.Parallel()

	v := NewTransitionValidator(DefaultVocabulary())

	tests := []struct {
		category domain.StatusCategory
		value    string
		want     Proposal
		wantErr  bool
	}{
		{category: domain.CategoryOrder, value: "Ordered - (O.S)", want: Proposal{Primary: "Ordered", Secondary: "(O.S)"}},
		{category: domain.CategoryPickup, value: "Failed (E.S)", want: Proposal{Primary: "Failed", Secondary: "(E.S)"}},
		{category: domain.CategoryDelivery, value: "Delivered", want: Proposal{Primary: "Delivered"}},
		{category: domain.CategoryCheck, value: "(C.W)", want: Proposal{Primary: "(C.W)"}},
		{category: domain.CategoryCheck, value: "", want: Proposal{}},
		{category: domain.CategoryPickup, value: "Dropped (A.P)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.category)+" "+tt.value, func(t *testing.T) {
			got, err := v.ParseValue(tt.category, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.value, v.Display(tt.category, got))
		})
	}
}

func TestVocabulary_Check(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultVocabulary().Check())

	missing := DefaultVocabulary()
	delete(missing, domain.CategoryCheck)
	assert.Error(t, missing.Check())

	orphan := DefaultVocabulary()
	rules := orphan[domain.CategoryPickup]
	rules.Secondaries = map[string][]string{"Lost": {"(X)"}}
	orphan[domain.CategoryPickup] = rules
	assert.Error(t, orphan.Check())
}
